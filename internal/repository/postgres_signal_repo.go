package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/spendsense/internal/model"
)

// PostgresSignalRepo はPostgreSQLを使用したゴールシグナルリポジトリ。
type PostgresSignalRepo struct {
	db *sql.DB
}

// NewPostgresSignalRepo はPostgresSignalRepoを生成する。
func NewPostgresSignalRepo(db *sql.DB) *PostgresSignalRepo {
	return &PostgresSignalRepo{db: db}
}

// Create はシグナルを作成する。シグナルは作成後に変更されない。
func (r *PostgresSignalRepo) Create(ctx context.Context, s *model.GoalSignal) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO goal_signals (id, user_id, signal_type, severity, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.UserID, s.SignalType, s.Severity, s.Message, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ゴールシグナルの作成に失敗しました: %w", err)
	}
	return nil
}

// ListByUser はユーザーのシグナルをcreated_at降順で返す。
func (r *PostgresSignalRepo) ListByUser(ctx context.Context, userID string, limit int) ([]model.GoalSignal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, signal_type, severity, message, created_at
		 FROM goal_signals
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ゴールシグナルの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	signals := []model.GoalSignal{}
	for rows.Next() {
		var s model.GoalSignal
		if err := rows.Scan(&s.ID, &s.UserID, &s.SignalType, &s.Severity, &s.Message, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("ゴールシグナルの読み取りに失敗しました: %w", err)
		}
		signals = append(signals, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ゴールシグナルの走査に失敗しました: %w", err)
	}

	return signals, nil
}

// compile-time interface check
var _ SignalRepository = (*PostgresSignalRepo)(nil)
