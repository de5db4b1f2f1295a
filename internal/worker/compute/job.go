// Package compute は前月分のマネーモーメントを全ユーザーに対して
// 月次で再計算するバッチジョブを提供する。
package compute

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/spendsense/internal/model"
	"github.com/hitoshi/spendsense/internal/repository"
)

// MomentComputer はマネーモーメント計算の実行インターフェース。
type MomentComputer interface {
	Compute(ctx context.Context, userID, month string) ([]model.MoneyMoment, error)
}

// SignalDeriver は計算済みモーメントからゴールシグナルを導出するインターフェース。
type SignalDeriver interface {
	DeriveFromMoments(ctx context.Context, userID string, moments []model.MoneyMoment) ([]model.GoalSignal, error)
}

// Job は月次のマネーモーメント一括計算ジョブ。
// cron式（デフォルト: 毎月1日 02:00）で起動し、前月分を全ユーザーに対して計算する。
// 計算は冪等のため、同一月の再実行は結果を置き換えるだけで安全。
type Job struct {
	userRepo repository.UserRepository
	computer MomentComputer
	deriver  SignalDeriver
	logger   *slog.Logger

	now func() time.Time
}

// NewJob はJobの新しいインスタンスを生成する。
// nowがnilの場合はtime.Nowを使用する。
func NewJob(
	userRepo repository.UserRepository,
	computer MomentComputer,
	deriver SignalDeriver,
	logger *slog.Logger,
	now func() time.Time,
) *Job {
	if now == nil {
		now = time.Now
	}
	return &Job{
		userRepo: userRepo,
		computer: computer,
		deriver:  deriver,
		logger:   logger,
		now:      now,
	}
}

// Start はcron式に従ってジョブをスケジュールし、起動したcronインスタンスを返す。
// 呼び出し側は停止時にStopを呼ぶこと。
func (j *Job) Start(ctx context.Context, cronSpec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(cronSpec, func() {
		if err := j.RunOnce(ctx); err != nil {
			j.logger.Error("月次モーメント計算ジョブの実行に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	j.logger.Info("月次モーメント計算ジョブを開始しました",
		slog.String("cron_spec", cronSpec),
	)

	return c, nil
}

// RunOnce は前月分のマネーモーメントを全ユーザーに対して計算する。
// ユーザー単位のエラーはログに記録して続行する。
func (j *Job) RunOnce(ctx context.Context) error {
	month := j.previousMonth()
	start := time.Now()

	userIDs, err := j.userRepo.ListIDs(ctx)
	if err != nil {
		return err
	}

	j.logger.Info("月次モーメント計算を開始します",
		slog.String("month", month),
		slog.Int("user_count", len(userIDs)),
	)

	var computed int
	for _, userID := range userIDs {
		moments, err := j.computer.Compute(ctx, userID, month)
		if err != nil {
			j.logger.Error("モーメント計算に失敗しました",
				slog.String("user_id", userID),
				slog.String("month", month),
				slog.String("error", err.Error()),
			)
			continue
		}

		if _, err := j.deriver.DeriveFromMoments(ctx, userID, moments); err != nil {
			j.logger.Error("シグナル導出に失敗しました",
				slog.String("user_id", userID),
				slog.String("month", month),
				slog.String("error", err.Error()),
			)
			continue
		}

		computed++
	}

	j.logger.Info("月次モーメント計算が完了しました",
		slog.String("month", month),
		slog.Int("computed_users", computed),
		slog.Int("user_count", len(userIDs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// previousMonth は現在時刻の前月をYYYY-MM形式で返す。
func (j *Job) previousMonth() string {
	t := j.now().UTC()
	firstOfMonth := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return firstOfMonth.AddDate(0, -1, 0).Format(model.MonthLayout)
}
