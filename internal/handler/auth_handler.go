// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/clinicauth/internal/auth"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, name, email, password string) (*auth.AuthResult, error)
	Login(ctx context.Context, email, password string) (*auth.AuthResult, error)
	ValidateSession(ctx context.Context, sessionID string) (*auth.AuthResult, error)
	Logout(ctx context.Context, sessionID string) error
	LogoutAllSessions(ctx context.Context, userID string) error
	FederatedLogin(ctx context.Context, rawToken, expectedAudience string) (*auth.FederatedResult, error)
}

// AuthMetrics は認証ハンドラーが記録するメトリクスのインターフェース。
type AuthMetrics interface {
	RecordRegistration()
	RecordLoginSuccess()
	RecordLoginFailure()
	RecordFederatedLogin(provider string)
	RecordSessionValidation(valid bool)
	RecordVerifyLatency(duration time.Duration)
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	metrics AuthMetrics // nilの場合は記録しない
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, metrics AuthMetrics) *AuthHandler {
	return &AuthHandler{
		service: service,
		metrics: metrics,
	}
}

// registerRequest はユーザー登録リクエストのボディ。
type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionRequest はセッションIDを受け取るリクエストのボディ。
type sessionRequest struct {
	SessionID string `json:"session_id"`
}

// googleLoginRequest はGoogleログインリクエストのボディ。
type googleLoginRequest struct {
	IDToken  string `json:"id_token"`
	Audience string `json:"audience"`
}

// Register は新規ユーザー登録を処理する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	result, err := h.service.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordRegistration()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

// Login はメールアドレスとパスワードによるログインを処理する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordLoginFailure()
		}
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordLoginSuccess()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Validate はセッションの有効性を検証し、所有ユーザーを返す。
// POST /auth/validate
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromRequest(r)

	result, err := h.service.ValidateSession(r.Context(), sessionID)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordSessionValidation(false)
		}
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordSessionValidation(true)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Logout はセッションを破棄する。冪等。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromRequest(r)

	if err := h.service.Logout(r.Context(), sessionID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll はセッションの所有ユーザーの全セッションを破棄する。
// POST /auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromRequest(r)

	// 破棄対象のユーザーを特定するため、まずセッションを検証する
	result, err := h.service.ValidateSession(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.LogoutAllSessions(r.Context(), result.User.ID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GoogleLogin はGoogle IDトークンによるログインを処理する。
// POST /auth/google
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	start := time.Now()
	result, err := h.service.FederatedLogin(r.Context(), req.IDToken, req.Audience)
	if h.metrics != nil {
		h.metrics.RecordVerifyLatency(time.Since(start))
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordFederatedLogin(result.User.Provider)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// sessionIDFromRequest はリクエストからセッションIDを取り出す。
// JSONボディのsession_idを優先し、なければAuthorization: Bearer、
// X-Session-IDヘッダーの順に参照する。
func sessionIDFromRequest(r *http.Request) string {
	var req sessionRequest
	if r.Body != nil {
		// ボディが空・JSON以外の場合はヘッダーにフォールバックする
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.SessionID != "" {
		return req.SessionID
	}

	authz := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(authz, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}
