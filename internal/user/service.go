// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hitoshi/clinicauth/internal/auth"
	"github.com/hitoshi/clinicauth/internal/model"
	"github.com/hitoshi/clinicauth/internal/repository"
)

const (
	minNameLength     = 2
	minPasswordLength = 6
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Service はユーザー管理のサービス層。
// プロフィール参照・更新、パスワード変更、退会処理を提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
	}
}

// GetProfile はユーザーのプロフィールを返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.SanitizedUser, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user.Sanitize(), nil
}

// ProfileUpdate はプロフィール更新の入力。nilフィールドは変更しない。
type ProfileUpdate struct {
	Name      *string
	Email     *string
	FirstName *string
	LastName  *string
	Avatar    *string
}

// UpdateProfile はプロフィールを更新する。
// メールアドレスを変更する場合、他ユーザーが使用中ならDUPLICATE_EMAILを返す。
func (s *Service) UpdateProfile(ctx context.Context, userID string, input *ProfileUpdate) (*model.SanitizedUser, error) {
	update := &model.UserUpdate{
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Avatar:    input.Avatar,
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if len(name) < minNameLength {
			return nil, model.NewValidationError(fmt.Sprintf("名前は%d文字以上にしてください", minNameLength))
		}
		update.Name = &name
	}

	if input.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*input.Email))
		if !emailPattern.MatchString(email) {
			return nil, model.NewValidationError("メールアドレスの形式が正しくありません")
		}
		existing, err := s.userRepo.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("メールアドレスの重複確認に失敗しました: %w", err)
		}
		if existing != nil && existing.ID != userID {
			return nil, model.NewDuplicateEmailError()
		}
		update.Email = &email
	}

	updated, err := s.userRepo.Update(ctx, userID, update)
	if err != nil {
		return nil, err
	}

	slog.Info("プロフィールを更新しました",
		slog.String("user_id", userID),
	)

	return updated.Sanitize(), nil
}

// ChangePassword はパスワードを変更する。
// 現在のパスワードが一致しない場合はINVALID_CREDENTIALSを返す。
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return model.NewValidationError("現在のパスワードと新しいパスワードは必須です")
	}
	if len(newPassword) < minPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上にしてください", minPasswordLength))
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if !auth.CheckPassword(user.PasswordDigest, currentPassword) {
		return model.NewInvalidCredentialsError()
	}

	digest, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}

	if _, err := s.userRepo.Update(ctx, userID, &model.UserUpdate{PasswordDigest: &digest}); err != nil {
		return err
	}

	slog.Info("パスワードを変更しました",
		slog.String("user_id", userID),
	)

	return nil
}

// DeleteAccount はユーザーの退会処理を実行する。
// 削除順序: sessions → user。セッションを先に消し、途中失敗時に
// ログイン不能なユーザーだけが残る状態を避ける。
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}

// ListUsers は全ユーザーの一覧をサニタイズして返す。
func (s *Service) ListUsers(ctx context.Context) ([]*model.SanitizedUser, error) {
	users, err := s.userRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	sanitized := make([]*model.SanitizedUser, 0, len(users))
	for _, u := range users {
		sanitized = append(sanitized, u.Sanitize())
	}
	return sanitized, nil
}
