package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/spendsense/internal/model"
)

// PostgresRuleStateRepo はPostgreSQLを使用したルール状態リポジトリ。
// クールダウンの排他保証（同一(user_id, rule_id)の二重発火防止）は
// このリポジトリの条件付きUPDATEが担う。
type PostgresRuleStateRepo struct {
	db *sql.DB
}

// NewPostgresRuleStateRepo はPostgresRuleStateRepoを生成する。
func NewPostgresRuleStateRepo(db *sql.DB) *PostgresRuleStateRepo {
	return &PostgresRuleStateRepo{db: db}
}

// FindByUserAndRule は指定(ユーザー, ルール)の状態を取得する。
// 未初期化の場合はnilを返す。
func (r *PostgresRuleStateRepo) FindByUserAndRule(ctx context.Context, userID, ruleID string) (*model.NudgeRuleState, error) {
	state := &model.NudgeRuleState{}
	var lastFiredAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, rule_id, status, last_fired_at, next_eligible_at, updated_at
		 FROM nudge_rule_states WHERE user_id = $1 AND rule_id = $2`,
		userID, ruleID,
	).Scan(
		&state.UserID, &state.RuleID, &state.Status,
		&lastFiredAt, &state.NextEligibleAt, &state.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ルール状態の取得に失敗しました: %w", err)
	}

	if lastFiredAt.Valid {
		state.LastFiredAt = &lastFiredAt.Time
	}

	return state, nil
}

// TryFire はルール発火を試行する。
//
// 実装は2段階のアトミック操作:
//  1. 状態行の遅延作成（INSERT ON CONFLICT DO NOTHING）
//  2. 条件付きUPDATE（compare-and-swap）:
//     status <> 'suppressed' かつ next_eligible_at <= asOf の場合のみ
//     cooling_downへ遷移しクールダウン満了時刻を進める
//
// RowsAffected = 0 はクールダウン中・抑制中・並行発火の敗北を意味し、
// falseを返す。並行する複数の呼び出しのうちUPDATEに成功するのは
// 高々1つであり、これが二重発火を閉じる唯一の防御線となる。
func (r *PostgresRuleStateRepo) TryFire(ctx context.Context, userID, ruleID string, asOf time.Time, cooldown time.Duration) (bool, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO nudge_rule_states (user_id, rule_id, status, next_eligible_at, updated_at)
		 VALUES ($1, $2, 'eligible', '-infinity', now())
		 ON CONFLICT (user_id, rule_id) DO NOTHING`,
		userID, ruleID,
	)
	if err != nil {
		return false, fmt.Errorf("ルール状態の初期化に失敗しました: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE nudge_rule_states
		 SET status = 'cooling_down',
		     last_fired_at = $3,
		     next_eligible_at = $4,
		     updated_at = now()
		 WHERE user_id = $1 AND rule_id = $2
		   AND status <> 'suppressed'
		   AND next_eligible_at <= $3`,
		userID, ruleID, asOf.UTC(), asOf.UTC().Add(cooldown),
	)
	if err != nil {
		return false, fmt.Errorf("ルール発火の更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ルール発火の結果取得に失敗しました: %w", err)
	}

	return affected == 1, nil
}

// SetSuppressed はルールの抑制状態を設定・解除する。
// 抑制解除時はeligibleへ戻し、即時発火可能とする。
func (r *PostgresRuleStateRepo) SetSuppressed(ctx context.Context, userID, ruleID string, suppressed bool, now time.Time) error {
	if suppressed {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO nudge_rule_states (user_id, rule_id, status, next_eligible_at, updated_at)
			 VALUES ($1, $2, 'suppressed', 'infinity', $3)
			 ON CONFLICT (user_id, rule_id) DO UPDATE SET
			     status = 'suppressed',
			     next_eligible_at = 'infinity',
			     updated_at = EXCLUDED.updated_at`,
			userID, ruleID, now.UTC(),
		)
		if err != nil {
			return fmt.Errorf("ルールの抑制に失敗しました: %w", err)
		}
		return nil
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE nudge_rule_states
		 SET status = 'eligible', next_eligible_at = $3, updated_at = $3
		 WHERE user_id = $1 AND rule_id = $2 AND status = 'suppressed'`,
		userID, ruleID, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("ルールの抑制解除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ RuleStateRepository = (*PostgresRuleStateRepo)(nil)
