// Package sweep は全ユーザーのナッジ評価・配信を定期実行するワーカーを提供する。
package sweep

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/spendsense/internal/metrics"
	"github.com/hitoshi/spendsense/internal/model"
	"github.com/hitoshi/spendsense/internal/nudge"
	"github.com/hitoshi/spendsense/internal/repository"
)

// NudgeEvaluator はルール評価の実行インターフェース。
type NudgeEvaluator interface {
	Evaluate(ctx context.Context, userID string) ([]model.NudgeDelivery, error)
}

// NudgeProcessor はpending配信の処理インターフェース。
type NudgeProcessor interface {
	Process(ctx context.Context, userID string) (nudge.ProcessResult, error)
}

// Sweeper は全ユーザーに対してナッジの評価と配信処理を実行する。
// 一定間隔のティッカーで起動し、最大並列数を制御しながら
// ユーザーごとに評価→処理の順で実行する。
type Sweeper struct {
	userRepo      repository.UserRepository
	evaluator     NudgeEvaluator
	processor     NudgeProcessor
	collector     metrics.MetricsCollector
	logger        *slog.Logger
	maxConcurrent int
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
// maxConcurrentが0以下の場合はデフォルト値10を使用する。
func NewSweeper(
	userRepo repository.UserRepository,
	evaluator NudgeEvaluator,
	processor NudgeProcessor,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrent int,
) *Sweeper {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Sweeper{
		userRepo:      userRepo,
		evaluator:     evaluator,
		processor:     processor,
		collector:     collector,
		logger:        logger,
		maxConcurrent: maxConcurrent,
	}
}

// Start は指定間隔のティッカーでスイープを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("ナッジスイープワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrent", s.maxConcurrent),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("スイープサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ナッジスイープワーカーを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("スイープサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は全ユーザーに対して評価→処理を1回実行する。
// ユーザー単位のエラーはログに記録して続行し、サイクル全体は失敗させない。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := time.Now()

	userIDs, err := s.userRepo.ListIDs(ctx)
	if err != nil {
		return err
	}

	if len(userIDs) == 0 {
		s.logger.Info("スイープ対象のユーザーはいません")
		return nil
	}

	s.logger.Info("スイープサイクルを開始します",
		slog.Int("user_count", len(userIDs)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)

	for _, userID := range userIDs {
		g.Go(func() error {
			s.sweepUser(gctx, userID)
			return nil
		})
	}

	// sweepUserはエラーを返さないためWaitのエラーはコンテキストキャンセルのみ
	if err := g.Wait(); err != nil {
		return err
	}

	duration := time.Since(start)
	s.collector.RecordSweepLatency(duration)
	s.logger.Info("スイープサイクルが完了しました",
		slog.Int("user_count", len(userIDs)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// sweepUser は1ユーザー分の評価と配信処理を実行する。
func (s *Sweeper) sweepUser(ctx context.Context, userID string) {
	deliveries, err := s.evaluator.Evaluate(ctx, userID)
	if err != nil {
		s.logger.Error("ナッジ評価に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	result, err := s.processor.Process(ctx, userID)
	if err != nil {
		s.logger.Error("ナッジ配信処理に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	if len(deliveries) > 0 || result.Processed > 0 {
		s.logger.Info("ユーザーのスイープが完了しました",
			slog.String("user_id", userID),
			slog.Int("evaluated", len(deliveries)),
			slog.Int("processed", result.Processed),
			slog.Int("sent", result.Sent),
			slog.Int("failed", result.Failed),
		)
	}
}
