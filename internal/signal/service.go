// Package signal はゴールシグナルの生成と取得を提供する。
// シグナルはマネーモーメントから導出される読み取り専用の観察であり、
// 生成後に変更されることはない。
package signal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/spendsense/internal/model"
	"github.com/hitoshi/spendsense/internal/repository"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	// criticalConfidence はシグナルをcriticalに昇格させる確信度の閾値。
	criticalConfidence = 0.9
)

// Service はゴールシグナルに関するビジネスロジックを提供する。
type Service struct {
	signalRepo repository.SignalRepository
	now        func() time.Time
}

// NewService はServiceを生成する。nowがnilの場合はtime.Nowを使用する。
func NewService(signalRepo repository.SignalRepository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{signalRepo: signalRepo, now: now}
}

// DeriveFromMoments は計算済みのマネーモーメントからシグナルを導出して
// 永続化する。導出対象がない場合は何も作成しない。
func (s *Service) DeriveFromMoments(ctx context.Context, userID string, moments []model.MoneyMoment) ([]model.GoalSignal, error) {
	created := []model.GoalSignal{}
	for _, m := range moments {
		sig, ok := deriveSignal(m)
		if !ok {
			continue
		}
		sig.ID = uuid.New().String()
		sig.UserID = userID
		sig.CreatedAt = s.now()
		if err := s.signalRepo.Create(ctx, &sig); err != nil {
			return nil, fmt.Errorf("failed to create signal: %w", err)
		}
		created = append(created, sig)
	}
	return created, nil
}

// List はユーザーのシグナルを新しい順に返す。
// limitは1〜100。0は既定値、範囲外はINVALID_LIMITエラー。
func (s *Service) List(ctx context.Context, userID string, limit int) ([]model.GoalSignal, error) {
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit < 1 || limit > maxListLimit {
		return nil, model.NewInvalidLimitError(fmt.Sprintf("%d", limit))
	}

	signals, err := s.signalRepo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	return signals, nil
}

// deriveSignal は1件のモーメントからシグナルを導出する。
// 導出対象外のハビットはfalseを返す。
func deriveSignal(m model.MoneyMoment) (model.GoalSignal, bool) {
	switch {
	case strings.HasPrefix(m.HabitID, "spending-spike:"):
		severity := model.SeverityWarning
		if m.Confidence >= criticalConfidence {
			severity = model.SeverityCritical
		}
		return model.GoalSignal{
			SignalType: "overspend",
			Severity:   severity,
			Message:    m.InsightText,
		}, true
	case m.HabitID == "subscription-creep":
		return model.GoalSignal{
			SignalType: "recurring-cost",
			Severity:   model.SeverityWarning,
			Message:    m.InsightText,
		}, true
	case m.HabitID == "saving-streak":
		return model.GoalSignal{
			SignalType: "goal-progress",
			Severity:   model.SeverityInfo,
			Message:    m.InsightText,
		}, true
	}
	return model.GoalSignal{}, false
}
