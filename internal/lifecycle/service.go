// Package lifecycle はユーザーデータのライフサイクル管理を提供する。
// 全データ削除は直列化され、完了か未実施かのどちらかにしかならない。
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hitoshi/spendsense/internal/metrics"
	"github.com/hitoshi/spendsense/internal/model"
	"github.com/hitoshi/spendsense/internal/repository"
)

// SessionValidator はベアラートークンを検証するインターフェース。
// 削除のような不可逆操作の直前には、保持済みの認証結果ではなく
// この検証を改めて通さなければならない。
type SessionValidator interface {
	ValidateToken(ctx context.Context, token string) (*model.Session, error)
}

// Service はユーザーデータの全削除を管理する。
type Service struct {
	validator SessionValidator
	purgeRepo repository.PurgeRepository
	collector metrics.MetricsCollector

	// ユーザーごとの削除進行中ラッチ
	mu       sync.Mutex
	deleting map[string]struct{}
}

// NewService はServiceを生成する。
func NewService(validator SessionValidator, purgeRepo repository.PurgeRepository, collector metrics.MetricsCollector) *Service {
	return &Service{
		validator: validator,
		purgeRepo: purgeRepo,
		collector: collector,
		deleting:  make(map[string]struct{}),
	}
}

// DeleteAllData はトークンを改めて検証した上で、そのユーザーの全データを
// 1トランザクションで削除する。セッションも削除対象に含まれるため、
// 成功後は保持しているトークンは無効になる。
// 同一ユーザーの削除が進行中の場合はDELETE_IN_PROGRESSを返す。
// 削除失敗時はデータに一切変更がなく、ラッチは解放されて再試行できる。
func (s *Service) DeleteAllData(ctx context.Context, token string) error {
	// キャッシュ済みの認証状態は信用せず、削除直前に再検証する
	session, err := s.validator.ValidateToken(ctx, token)
	if err != nil {
		return err
	}
	userID := session.UserID

	s.mu.Lock()
	if _, busy := s.deleting[userID]; busy {
		s.mu.Unlock()
		return model.NewDeleteInProgressError()
	}
	s.deleting[userID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.deleting, userID)
		s.mu.Unlock()
	}()

	if err := s.purgeRepo.PurgeUser(ctx, userID); err != nil {
		slog.Error("ユーザーデータの削除に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return err
		}
		// 下流エラーの詳細はそのまま伝搬し、翻訳や丸めは行わない
		return model.NewDeleteFailedError(err.Error())
	}

	s.collector.RecordUserPurged()
	slog.Info("all user data purged", slog.String("user_id", userID))
	return nil
}

// IsDeleting は指定ユーザーの削除が進行中かを返す。
// 進行中のユーザーへの書き込みを他コンポーネントが避けるために使う。
func (s *Service) IsDeleting(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.deleting[userID]
	return busy
}
