package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/spendsense/internal/model"
)

// PostgresMomentRepo はPostgreSQLを使用したマネーモーメントリポジトリ。
type PostgresMomentRepo struct {
	db *sql.DB
}

// NewPostgresMomentRepo はPostgresMomentRepoを生成する。
func NewPostgresMomentRepo(db *sql.DB) *PostgresMomentRepo {
	return &PostgresMomentRepo{db: db}
}

// ListByUser はユーザーのマネーモーメントを(month, habit_id)昇順で返す。
// monthが空でない場合はその月のみを返す。該当なしは空スライス。
func (r *PostgresMomentRepo) ListByUser(ctx context.Context, userID, month string) ([]model.MoneyMoment, error) {
	query := `SELECT id, user_id, month, habit_id, value, label, insight_text, confidence, created_at
	          FROM money_moments
	          WHERE user_id = $1`
	args := []any{userID}

	if month != "" {
		query += ` AND month = $2`
		args = append(args, month)
	}
	query += ` ORDER BY month ASC, habit_id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("マネーモーメントの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	moments := []model.MoneyMoment{}
	for rows.Next() {
		var m model.MoneyMoment
		if err := rows.Scan(
			&m.ID, &m.UserID, &m.Month, &m.HabitID,
			&m.Value, &m.Label, &m.InsightText, &m.Confidence, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("マネーモーメントの読み取りに失敗しました: %w", err)
		}
		moments = append(moments, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("マネーモーメントの走査に失敗しました: %w", err)
	}

	return moments, nil
}

// ReplaceMonth は指定(ユーザー, 月)のモーメントを1トランザクションで
// 全削除・再挿入する。再計算の冪等性はこの置き換えで保証され、
// 同一(user_id, month, habit_id)の行が重複して残ることはない。
func (r *PostgresMomentRepo) ReplaceMonth(ctx context.Context, userID, month string, moments []model.MoneyMoment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM money_moments WHERE user_id = $1 AND month = $2`,
		userID, month,
	)
	if err != nil {
		return fmt.Errorf("既存モーメントの削除に失敗しました: %w", err)
	}

	for i := range moments {
		m := &moments[i]
		_, err = tx.ExecContext(ctx,
			`INSERT INTO money_moments
			     (id, user_id, month, habit_id, value, label, insight_text, confidence, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			m.ID, m.UserID, m.Month, m.HabitID,
			m.Value, m.Label, m.InsightText, m.Confidence, m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("モーメントの挿入に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CountByUserAndMonth は指定(ユーザー, 月)の既存モーメント数を返す。
func (r *PostgresMomentRepo) CountByUserAndMonth(ctx context.Context, userID, month string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM money_moments WHERE user_id = $1 AND month = $2`,
		userID, month,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("モーメント件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ MomentRepository = (*PostgresMomentRepo)(nil)
