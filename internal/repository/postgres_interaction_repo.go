package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/spendsense/internal/model"
)

// PostgresInteractionRepo はPostgreSQLを使用したインタラクションイベントリポジトリ。
// イベントは追記専用であり、更新・個別削除の操作は提供しない。
type PostgresInteractionRepo struct {
	db *sql.DB
}

// NewPostgresInteractionRepo はPostgresInteractionRepoを生成する。
func NewPostgresInteractionRepo(db *sql.DB) *PostgresInteractionRepo {
	return &PostgresInteractionRepo{db: db}
}

// Append はイベントを追記する。同一配信への同種イベントの重複追記は
// 制約違反にならない（viewの二重記録は無害である必要がある）。
func (r *PostgresInteractionRepo) Append(ctx context.Context, event *model.InteractionEvent) error {
	metadata, err := marshalMetadata(event.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO interaction_events (id, delivery_id, event_type, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.DeliveryID, event.EventType, metadata, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("インタラクションイベントの追記に失敗しました: %w", err)
	}
	return nil
}

// ListByDelivery は指定配信のイベントをcreated_at昇順で返す。
func (r *PostgresInteractionRepo) ListByDelivery(ctx context.Context, deliveryID string) ([]model.InteractionEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, delivery_id, event_type, metadata, created_at
		 FROM interaction_events
		 WHERE delivery_id = $1
		 ORDER BY created_at ASC, id ASC`,
		deliveryID,
	)
	if err != nil {
		return nil, fmt.Errorf("インタラクションイベントの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanInteractionEvents(rows)
}

// ListByDeliveries は複数配信のイベントをdelivery_idごとにまとめて返す。
// 配信一覧のインタラクション状態導出で使用する。
func (r *PostgresInteractionRepo) ListByDeliveries(ctx context.Context, deliveryIDs []string) (map[string][]model.InteractionEvent, error) {
	result := make(map[string][]model.InteractionEvent)
	if len(deliveryIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, delivery_id, event_type, metadata, created_at
		 FROM interaction_events
		 WHERE delivery_id = ANY($1)
		 ORDER BY created_at ASC, id ASC`,
		pq.Array(deliveryIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("インタラクションイベントの一括取得に失敗しました: %w", err)
	}
	defer rows.Close()

	events, err := scanInteractionEvents(rows)
	if err != nil {
		return nil, err
	}

	for _, e := range events {
		result[e.DeliveryID] = append(result[e.DeliveryID], e)
	}
	return result, nil
}

// DeleteOlderThan は指定日時より古いイベントを削除し、削除件数を返す。
// リテンションワーカーが日次で呼び出す。
func (r *PostgresInteractionRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM interaction_events WHERE created_at < $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("古いインタラクションイベントの削除に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

func scanInteractionEvents(rows *sql.Rows) ([]model.InteractionEvent, error) {
	var events []model.InteractionEvent
	for rows.Next() {
		var e model.InteractionEvent
		var metadata []byte

		if err := rows.Scan(&e.ID, &e.DeliveryID, &e.EventType, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("インタラクションイベントの読み取りに失敗しました: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("イベントメタデータの解析に失敗しました: %w", err)
			}
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("インタラクションイベントの走査に失敗しました: %w", err)
	}

	return events, nil
}

// compile-time interface check
var _ InteractionRepository = (*PostgresInteractionRepo)(nil)
