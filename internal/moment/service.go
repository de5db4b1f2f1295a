package moment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/spendsense/internal/ledger"
	"github.com/hitoshi/spendsense/internal/model"
	"github.com/hitoshi/spendsense/internal/repository"
	"github.com/hitoshi/spendsense/internal/security"
)

// Service はマネーモーメントの計算・取得に関するビジネスロジックを提供する。
type Service struct {
	momentRepo repository.MomentRepository
	fetcher    ledger.TransactionFetcher
	analyzer   HabitAnalyzer
	sanitizer  security.TextSanitizerService
	now        func() time.Time

	// 同一(ユーザー, 月)の計算の同時実行を排除するラッチ
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewService はServiceを生成する。nowはテストで固定時刻を注入するための
// クロック。nilの場合はtime.Nowを使用する。
func NewService(
	momentRepo repository.MomentRepository,
	fetcher ledger.TransactionFetcher,
	analyzer HabitAnalyzer,
	sanitizer security.TextSanitizerService,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		momentRepo: momentRepo,
		fetcher:    fetcher,
		analyzer:   analyzer,
		sanitizer:  sanitizer,
		now:        now,
		inFlight:   make(map[string]struct{}),
	}
}

// Fetch はユーザーのマネーモーメントを返す。monthが空の場合は全月を返す。
// 形式不正な月はINVALID_MONTHエラー。該当なしは空スライス（エラーではない）。
func (s *Service) Fetch(ctx context.Context, userID, month string) ([]model.MoneyMoment, error) {
	if month != "" {
		if err := validateMonth(month); err != nil {
			return nil, err
		}
	}

	moments, err := s.momentRepo.ListByUser(ctx, userID, month)
	if err != nil {
		return nil, fmt.Errorf("failed to list moments: %w", err)
	}
	return moments, nil
}

// Compute は指定(ユーザー, 月)のマネーモーメントを計算して永続化する。
// 冪等: 同一の台帳データに対する再計算は同一のモーメント集合に収束する。
// 既存のモーメントは同一トランザクション内で置換されるため、
// 読み手に新旧混在の状態は見えない。
// 同一(ユーザー, 月)の計算が進行中の場合はCOMPUTE_CONFLICTを返す。
func (s *Service) Compute(ctx context.Context, userID, month string) ([]model.MoneyMoment, error) {
	// 月の指定がない場合は現在の月を対象とする
	if month == "" {
		month = s.now().UTC().Format(model.MonthLayout)
	}
	if err := validateMonth(month); err != nil {
		return nil, err
	}
	if err := s.validateNotFuture(month); err != nil {
		return nil, err
	}

	key := userID + "/" + month
	s.mu.Lock()
	if _, busy := s.inFlight[key]; busy {
		s.mu.Unlock()
		return nil, model.NewComputeConflictError(month)
	}
	s.inFlight[key] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}()

	txs, err := s.fetcher.FetchMonth(ctx, userID, month)
	if err != nil {
		// 台帳エラー時は既存モーメントに一切触れない
		return nil, err
	}

	drafts := s.analyzer.Analyze(month, txs)

	computedAt := s.now()
	moments := make([]model.MoneyMoment, 0, len(drafts))
	for _, d := range drafts {
		moments = append(moments, model.MoneyMoment{
			ID:          uuid.New().String(),
			UserID:      userID,
			Month:       month,
			HabitID:     d.HabitID,
			Value:       d.Value,
			Label:       s.sanitizer.Sanitize(d.Label),
			InsightText: s.sanitizer.Sanitize(d.InsightText),
			Confidence:  d.Confidence,
			CreatedAt:   computedAt,
		})
	}

	if err := s.momentRepo.ReplaceMonth(ctx, userID, month, moments); err != nil {
		return nil, fmt.Errorf("failed to replace moments: %w", err)
	}

	slog.Info("money moments computed",
		slog.String("user_id", userID),
		slog.String("month", month),
		slog.Int("transaction_count", len(txs)),
		slog.Int("moment_count", len(moments)),
	)

	return moments, nil
}

// validateMonth は月文字列（YYYY-MM）の形式を検証する。
func validateMonth(month string) error {
	if _, err := time.Parse(model.MonthLayout, month); err != nil {
		return model.NewInvalidMonthError(month)
	}
	return nil
}

// validateNotFuture は未来の月に対する計算を拒否する。
func (s *Service) validateNotFuture(month string) error {
	m, err := time.Parse(model.MonthLayout, month)
	if err != nil {
		return model.NewInvalidMonthError(month)
	}
	current := s.now().Format(model.MonthLayout)
	cur, _ := time.Parse(model.MonthLayout, current)
	if m.After(cur) {
		return model.NewInvalidMonthError(month)
	}
	return nil
}
