package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresPurgeRepo はユーザーデータ全削除のPostgreSQL実装。
// DataLifecycleManager専用。
type PostgresPurgeRepo struct {
	db *sql.DB
}

// NewPostgresPurgeRepo はPostgresPurgeRepoを生成する。
func NewPostgresPurgeRepo(db *sql.DB) *PostgresPurgeRepo {
	return &PostgresPurgeRepo{db: db}
}

// PurgeUser はユーザー所有の全データを1トランザクションで削除する。
// 削除順序: interaction_events → nudge_deliveries → nudge_rule_states →
// goal_signals → money_moments → sessions → users（identitiesはCASCADE削除）。
// いずれかの削除が失敗した場合は全体がロールバックされ、
// 「一部のテーブルだけ消えた」状態は外部から観測されない。
func (r *PostgresPurgeRepo) PurgeUser(ctx context.Context, userID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	statements := []struct {
		name  string
		query string
	}{
		{"interaction_events", `DELETE FROM interaction_events
		                        WHERE delivery_id IN (SELECT id FROM nudge_deliveries WHERE user_id = $1)`},
		{"nudge_deliveries", `DELETE FROM nudge_deliveries WHERE user_id = $1`},
		{"nudge_rule_states", `DELETE FROM nudge_rule_states WHERE user_id = $1`},
		{"goal_signals", `DELETE FROM goal_signals WHERE user_id = $1`},
		{"money_moments", `DELETE FROM money_moments WHERE user_id = $1`},
		{"sessions", `DELETE FROM sessions WHERE user_id = $1`},
		{"users", `DELETE FROM users WHERE id = $1`},
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt.query, userID); err != nil {
			return fmt.Errorf("%sの削除に失敗しました: %w", stmt.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// compile-time interface check
var _ PurgeRepository = (*PostgresPurgeRepo)(nil)
