package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/spendsense/internal/model"
)

// PostgresDeliveryRepo はPostgreSQLを使用したナッジ配信リポジトリ。
type PostgresDeliveryRepo struct {
	db *sql.DB
}

// NewPostgresDeliveryRepo はPostgresDeliveryRepoを生成する。
func NewPostgresDeliveryRepo(db *sql.DB) *PostgresDeliveryRepo {
	return &PostgresDeliveryRepo{db: db}
}

// Create は配信レコードを作成する。
func (r *PostgresDeliveryRepo) Create(ctx context.Context, d *model.NudgeDelivery) error {
	metadata, err := marshalMetadata(d.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO nudge_deliveries
		     (id, user_id, rule_id, template_code, channel, title, body,
		      cta_text, cta_deeplink, metadata, send_status, sent_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		d.ID, d.UserID, d.RuleID, d.TemplateCode, d.Channel, d.Title, d.Body,
		d.CTAText, d.CTADeeplink, metadata, d.SendStatus, d.SentAt, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ナッジ配信の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの配信を取得する。見つからない場合はnilを返す。
func (r *PostgresDeliveryRepo) FindByID(ctx context.Context, id string) (*model.NudgeDelivery, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, rule_id, template_code, channel, title, body,
		        cta_text, cta_deeplink, metadata, send_status, sent_at, created_at
		 FROM nudge_deliveries WHERE id = $1`,
		id,
	)

	d, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListByUser はユーザーの配信をcreated_at降順で最大limit件返す。
func (r *PostgresDeliveryRepo) ListByUser(ctx context.Context, userID string, limit int) ([]model.NudgeDelivery, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, rule_id, template_code, channel, title, body,
		        cta_text, cta_deeplink, metadata, send_status, sent_at, created_at
		 FROM nudge_deliveries
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ナッジ配信の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	deliveries := []model.NudgeDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ナッジ配信の走査に失敗しました: %w", err)
	}

	return deliveries, nil
}

// ClaimAndProcessPending はpending配信をFOR UPDATE SKIP LOCKEDで
// 最大limit件クレームし、各配信にfnを適用して返る送信状態で更新する。
// クレームから状態更新までを1トランザクションで行うため、並行する
// 2つの呼び出しが同じ配信を二重処理することはない（§5の競合条件）。
func (r *PostgresDeliveryRepo) ClaimAndProcessPending(
	ctx context.Context,
	userID string,
	limit int,
	fn func(d *model.NudgeDelivery) (model.SendStatus, *time.Time),
) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, user_id, rule_id, template_code, channel, title, body,
		        cta_text, cta_deeplink, metadata, send_status, sent_at, created_at
		 FROM nudge_deliveries
		 WHERE user_id = $1 AND send_status = 'pending'
		 ORDER BY created_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		userID, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("pending配信のクレームに失敗しました: %w", err)
	}

	var claimed []model.NudgeDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		claimed = append(claimed, *d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("pending配信の走査に失敗しました: %w", err)
	}
	rows.Close()

	processed := 0
	for i := range claimed {
		d := &claimed[i]
		status, sentAt := fn(d)

		_, err := tx.ExecContext(ctx,
			`UPDATE nudge_deliveries
			 SET send_status = $2, sent_at = $3
			 WHERE id = $1`,
			d.ID, status, sentAt,
		)
		if err != nil {
			return 0, fmt.Errorf("配信状態の更新に失敗しました: %w", err)
		}
		processed++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return processed, nil
}

func scanDelivery(row rowScanner) (*model.NudgeDelivery, error) {
	d := &model.NudgeDelivery{}
	var ctaText, ctaDeeplink sql.NullString
	var metadata []byte
	var sentAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.UserID, &d.RuleID, &d.TemplateCode, &d.Channel,
		&d.Title, &d.Body, &ctaText, &ctaDeeplink, &metadata,
		&d.SendStatus, &sentAt, &d.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("ナッジ配信の読み取りに失敗しました: %w", err)
	}

	if ctaText.Valid {
		d.CTAText = &ctaText.String
	}
	if ctaDeeplink.Valid {
		d.CTADeeplink = &ctaDeeplink.String
	}
	if sentAt.Valid {
		d.SentAt = &sentAt.Time
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
			return nil, fmt.Errorf("配信メタデータの解析に失敗しました: %w", err)
		}
	}

	return d, nil
}

// marshalMetadata はメタデータをJSONBカラム用にシリアライズする。
// nilマップはNULLとして保存する。
func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("メタデータのシリアライズに失敗しました: %w", err)
	}
	return b, nil
}

// compile-time interface check
var _ DeliveryRepository = (*PostgresDeliveryRepo)(nil)
