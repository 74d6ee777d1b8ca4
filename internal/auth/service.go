// Package auth は認証のコアロジック（登録・ログイン・セッション管理・外部IdP連携）を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/hitoshi/clinicauth/internal/model"
	"github.com/hitoshi/clinicauth/internal/repository"
)

// minPasswordLength はパスワードの最小文字数。
const minPasswordLength = 6

// emailPattern はメールアドレスの形式チェック。
// 厳密なRFC準拠ではなく、明らかな入力ミスを弾くための簡易パターン。
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// SessionTTL はセッションの有効期間。
	SessionTTL time.Duration

	// LocalUserAgent / FederatedUserAgent はセッション発行元を表すタグ。
	LocalUserAgent     string
	FederatedUserAgent string
}

// Service は認証に関するビジネスロジックを提供する。
// リポジトリとIDトークン検証器はコンストラクタで注入し、以降は不変。
// Service自体は呼び出し間で可変状態を持たない。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	verifier    IdentityVerifier
	config      ServiceConfig

	// nowはテストで時刻を差し替えるためのフック。
	now func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	verifier IdentityVerifier,
	config ServiceConfig,
) *Service {
	if config.SessionTTL <= 0 {
		config.SessionTTL = 24 * time.Hour
	}
	if config.LocalUserAgent == "" {
		config.LocalUserAgent = "Clinic Desktop"
	}
	if config.FederatedUserAgent == "" {
		config.FederatedUserAgent = "Google OAuth"
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		verifier:    verifier,
		config:      config,
		now:         time.Now,
	}
}

// AuthResult は登録・ログイン・セッション検証の結果。
// UserはPasswordDigestを含まない。
type AuthResult struct {
	User    *model.SanitizedUser `json:"user"`
	Session *model.Session       `json:"session"`
}

// FederatedResult は外部IdPログインの結果。
// セッションは意図的に縮小ビューで返す。
type FederatedResult struct {
	User    *model.SanitizedUser    `json:"user"`
	Session *model.FederatedSession `json:"session"`
}

// Register は新規ユーザーを登録し、セッションを発行する。
// 検証エラーは永続化層に触れる前に返す。
func (s *Service) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	if name == "" || email == "" || password == "" {
		return nil, model.NewValidationError("名前、メールアドレス、パスワードはすべて必須です")
	}
	if len(password) < minPasswordLength {
		return nil, model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上にしてください", minPasswordLength))
	}
	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return nil, model.NewValidationError("メールアドレスの形式が正しくありません")
	}

	digest, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Email:          email,
		PasswordDigest: digest,
		Name:           name,
		Role:           model.RoleCustomer,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	session, err := s.createSession(ctx, user.ID, s.config.LocalUserAgent)
	if err != nil {
		return nil, err
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
	)

	return &AuthResult{User: user.Sanitize(), Session: session}, nil
}

// Login はメールアドレスとパスワードでログインし、セッションを発行する。
// メールアドレス不明とパスワード不一致は同一のエラーとして返す
// （アカウント列挙耐性）。
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	if email == "" || password == "" {
		return nil, model.NewValidationError("メールアドレスとパスワードは必須です")
	}

	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	if !CheckPassword(user.PasswordDigest, password) {
		return nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID, s.config.LocalUserAgent)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
	)

	return &AuthResult{User: user.Sanitize(), Session: session}, nil
}

// ValidateSession はセッションの有効性を検証し、所有ユーザーを返す。
// ユーザーが削除済みの孤立セッションは削除した上でUSER_NOT_FOUNDを返す
// （初回利用時の自己修復）。
func (s *Service) ValidateSession(ctx context.Context, sessionID string) (*AuthResult, error) {
	if sessionID == "" {
		return nil, model.NewInvalidSessionError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, model.NewInvalidSessionError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
			return nil, err
		}
		slog.Warn("purged orphaned session",
			slog.String("session_id", sessionID),
			slog.String("user_id", session.UserID),
		)
		return nil, model.NewUserNotFoundError()
	}

	return &AuthResult{User: user.Sanitize(), Session: session}, nil
}

// Logout はセッションを破棄する。冪等で、存在しないセッションでもエラーにならない。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.sessionRepo.DeleteByID(ctx, sessionID)
}

// LogoutAllSessions は指定ユーザーの全セッションを破棄する。冪等。
func (s *Service) LogoutAllSessions(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	return s.sessionRepo.DeleteByUserID(ctx, userID)
}

// FederatedLogin は外部IdPのIDトークンでログインし、セッションを発行する。
// 未登録メールアドレスの場合はユーザーを自動作成する。
// 登録済みの場合はプロフィールの可変項目を更新し、IdPとの連携情報を記録する。
func (s *Service) FederatedLogin(ctx context.Context, rawToken, expectedAudience string) (*FederatedResult, error) {
	profile, err := s.verifier.Verify(ctx, rawToken, expectedAudience)
	if err != nil {
		return nil, err
	}

	if profile.Email == "" {
		return nil, model.NewIncompleteProfileError("email")
	}
	if profile.Name == "" {
		return nil, model.NewIncompleteProfileError("name")
	}

	email := normalizeEmail(profile.Email)

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if user == nil {
		user, err = s.createFederatedUser(ctx, email, profile)
		if err != nil {
			return nil, err
		}
	} else {
		user, err = s.linkFederatedProfile(ctx, user, profile)
		if err != nil {
			return nil, err
		}
	}

	session, err := s.createSession(ctx, user.ID, s.config.FederatedUserAgent)
	if err != nil {
		return nil, err
	}

	slog.Info("federated login succeeded",
		slog.String("user_id", user.ID),
		slog.String("provider", profile.Provider),
	)

	return &FederatedResult{User: user.Sanitize(), Session: session.Narrow()}, nil
}

// createFederatedUser は外部IdPプロフィールから新規ユーザーを作成する。
// ローカルログインを不可能にするため、パスワードにはランダムトークンの
// ダイジェストを設定する。
// 同一メールアドレスの同時作成競合（DUPLICATE_EMAIL）は既存ユーザーとして
// 再取得して続行する。
func (s *Service) createFederatedUser(ctx context.Context, email string, profile *VerifiedProfile) (*model.User, error) {
	randomSecret, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	digest, err := HashPassword(randomSecret)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		Email:           email,
		PasswordDigest:  digest,
		Name:            profile.Name,
		FirstName:       profile.GivenName,
		LastName:        profile.FamilyName,
		Avatar:          profile.Picture,
		Role:            model.RolePatient,
		Provider:        profile.Provider,
		ProviderID:      profile.Subject,
		IsEmailVerified: profile.EmailVerified,
		LastLoginAt:     now,
	}

	createErr := s.userRepo.Create(ctx, user)
	if createErr == nil {
		slog.Info("federated user created",
			slog.String("user_id", user.ID),
			slog.String("provider", profile.Provider),
		)
		return user, nil
	}

	if !model.IsCode(createErr, model.ErrCodeDuplicateEmail) {
		return nil, createErr
	}

	// 同時実行のもう一方が先に作成した場合: 既存ユーザーとして続行する
	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, createErr
	}
	return s.linkFederatedProfile(ctx, existing, profile)
}

// linkFederatedProfile は既存ユーザーに外部IdPプロフィールを反映する。
// プロフィールの可変項目は非空の場合のみ上書きし、PasswordDigestには触れない。
// Provider/ProviderIDは常に記録する。
func (s *Service) linkFederatedProfile(ctx context.Context, user *model.User, profile *VerifiedProfile) (*model.User, error) {
	if !user.IsFederated() {
		// ローカルアカウントへの無確認リンク。監査できるよう警告を残す。
		slog.Warn("linking local account to federated identity",
			slog.String("user_id", user.ID),
			slog.String("provider", profile.Provider),
		)
	}

	now := s.now()
	update := &model.UserUpdate{
		Provider:        &profile.Provider,
		ProviderID:      &profile.Subject,
		IsEmailVerified: &profile.EmailVerified,
		LastLoginAt:     &now,
	}
	if profile.Name != "" {
		update.Name = &profile.Name
	}
	if profile.GivenName != "" {
		update.FirstName = &profile.GivenName
	}
	if profile.FamilyName != "" {
		update.LastName = &profile.FamilyName
	}
	if profile.Picture != "" {
		update.Avatar = &profile.Picture
	}

	updated, err := s.userRepo.Update(ctx, user.ID, update)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID, userAgent string) (*model.Session, error) {
	sessionID, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &model.Session{
		SessionID: sessionID,
		UserID:    userID,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.SessionTTL),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// normalizeEmail はメールアドレスを比較用に正規化する。
// 一意性は正規化後の形で保証される。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
