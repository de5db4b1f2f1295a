// Package retention は期限切れセッションと保持期間を超過した
// インタラクションイベントの日次削除ジョブを提供する。
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/spendsense/internal/repository"
)

// defaultRetentionDays はインタラクションイベントのデフォルト保持日数。
const defaultRetentionDays = 365

// Job は日次の保持期間管理ジョブ。冪等な削除処理を保証する。
type Job struct {
	sessionRepo     repository.SessionRepository
	interactionRepo repository.InteractionRepository
	logger          *slog.Logger
	RetentionDays   int // インタラクションイベントの保持日数

	now func() time.Time
}

// NewJob は新しいJobを生成する。
// retentionDaysが0以下の場合はデフォルト値365日を使用する。
// nowがnilの場合はtime.Nowを使用する。
func NewJob(
	sessionRepo repository.SessionRepository,
	interactionRepo repository.InteractionRepository,
	logger *slog.Logger,
	retentionDays int,
	now func() time.Time,
) *Job {
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	if now == nil {
		now = time.Now
	}
	return &Job{
		sessionRepo:     sessionRepo,
		interactionRepo: interactionRepo,
		logger:          logger,
		RetentionDays:   retentionDays,
		now:             now,
	}
}

// Start は24時間間隔のティッカーでジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	j.logger.Info("保持期間管理ジョブを開始しました",
		slog.Int("retention_days", j.RetentionDays),
	)

	// 起動直後に1回実行
	if err := j.Run(ctx); err != nil {
		j.logger.Error("保持期間管理ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("保持期間管理ジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("保持期間管理ジョブの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Run は期限切れセッションと保持期間超過のイベントを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	expiredSessions, err := j.sessionRepo.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return err
	}

	cutoff := j.now().AddDate(0, 0, -j.RetentionDays)
	deletedEvents, err := j.interactionRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("古いインタラクションイベントの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return err
	}

	j.logger.Info("保持期間管理ジョブが完了しました",
		slog.Int64("expired_sessions", expiredSessions),
		slog.Int64("deleted_events", deletedEvents),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}
