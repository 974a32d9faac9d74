// Package directory はGoogle認証の身元情報を内部ユーザーに対応付ける。
// emailを正規キーとし、同じemailに対して重複ユーザーを作成しない。
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/MxmIv/foodPlanner/internal/model"
	"github.com/MxmIv/foodPlanner/internal/repository"
)

// ErrProvisioning はユーザー作成のリトライも失敗した場合に返される。
// 呼び出し側はこのエラーを受けた場合、ユーザーを認証済みとして扱ってはならない。
var ErrProvisioning = errors.New("directory: user provisioning failed")

// PostgreSQLエラーコード
const (
	pqCodeUniqueViolation       = "23505"
	pqCodeInsufficientPrivilege = "42501"
)

// Mapper はGoogle認証情報から内部ユーザーを検索または作成する。
type Mapper struct {
	users  repository.UserRepository
	logger *slog.Logger
}

// NewMapper はMapperを生成する。
func NewMapper(users repository.UserRepository, logger *slog.Logger) *Mapper {
	return &Mapper{
		users:  users,
		logger: logger,
	}
}

// FindOrCreateUser はemailでユーザーを検索し、存在しなければ作成する。
// 既存ユーザーのgoogle_idが異なる場合は更新する。
// 作成が一意制約違反またはポリシー拒否で失敗した場合、最小ペイロードで
// 一度だけリトライし、それでも失敗した場合はErrProvisioningを返す。
// 戻り値のユーザーIDが以降の全処理の正規のuserIdとなる。
func (m *Mapper) FindOrCreateUser(ctx context.Context, email, googleID string) (*model.User, error) {
	if email == "" {
		return nil, fmt.Errorf("directory: email is required")
	}

	existing, err := m.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		if googleID != "" && existing.GoogleID != googleID {
			if err := m.users.UpdateGoogleID(ctx, existing.ID, googleID); err != nil {
				return nil, fmt.Errorf("failed to update google_id: %w", err)
			}
			existing.GoogleID = googleID
			m.logger.Info("google_idを更新しました",
				slog.String("user_id", existing.ID))
		}
		return existing, nil
	}

	now := time.Now()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		GoogleID:  googleID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.users.Create(ctx, user); err != nil {
		if !isRetryable(err) {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		return m.retryCreate(ctx, email, googleID, err)
	}

	m.logger.Info("新規ユーザーを作成しました",
		slog.String("user_id", user.ID))
	return user, nil
}

// retryCreate は最小ペイロードでの作成を一度だけ試みる。
// 一意制約違反は並行作成の競合の可能性があるため、先に再検索する。
func (m *Mapper) retryCreate(ctx context.Context, email, googleID string, cause error) (*model.User, error) {
	m.logger.Warn("ユーザー作成に失敗しました。最小ペイロードでリトライします",
		slog.String("error", cause.Error()))

	existing, err := m.users.FindByEmail(ctx, email)
	if err == nil && existing != nil {
		return existing, nil
	}

	id := uuid.New().String()
	if err := m.users.CreateMinimal(ctx, id, email, googleID); err != nil {
		m.logger.Error("リトライでもユーザー作成に失敗しました",
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	created, err := m.users.FindByID(ctx, id)
	if err != nil || created == nil {
		return nil, fmt.Errorf("%w: created user not found", ErrProvisioning)
	}
	return created, nil
}

// isRetryable は最小ペイロードでのリトライ対象のエラーかどうかを判定する。
func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqCodeUniqueViolation || pqErr.Code == pqCodeInsufficientPrivilege
}
