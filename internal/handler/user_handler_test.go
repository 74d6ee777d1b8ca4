package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/clinicauth/internal/middleware"
	"github.com/hitoshi/clinicauth/internal/model"
	"github.com/hitoshi/clinicauth/internal/user"
)

// --- モック ---

type mockUserService struct {
	getProfileFn     func(ctx context.Context, userID string) (*model.SanitizedUser, error)
	updateProfileFn  func(ctx context.Context, userID string, input *user.ProfileUpdate) (*model.SanitizedUser, error)
	changePasswordFn func(ctx context.Context, userID, currentPassword, newPassword string) error
	deleteAccountFn  func(ctx context.Context, userID string) error
	listUsersFn      func(ctx context.Context) ([]*model.SanitizedUser, error)
}

func (m *mockUserService) GetProfile(ctx context.Context, userID string) (*model.SanitizedUser, error) {
	return m.getProfileFn(ctx, userID)
}
func (m *mockUserService) UpdateProfile(ctx context.Context, userID string, input *user.ProfileUpdate) (*model.SanitizedUser, error) {
	return m.updateProfileFn(ctx, userID, input)
}
func (m *mockUserService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	return m.changePasswordFn(ctx, userID, currentPassword, newPassword)
}
func (m *mockUserService) DeleteAccount(ctx context.Context, userID string) error {
	return m.deleteAccountFn(ctx, userID)
}
func (m *mockUserService) ListUsers(ctx context.Context) ([]*model.SanitizedUser, error) {
	return m.listUsersFn(ctx)
}

var _ UserServiceInterface = (*mockUserService)(nil)

// authedRequest は認証済みユーザーIDをコンテキストに持つリクエストを生成する。
func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(middleware.ContextWithUserID(req.Context(), "user-1"))
}

// --- テスト ---

// TestUserHandler_GetMe はプロフィール取得を検証する。
func TestUserHandler_GetMe(t *testing.T) {
	svc := &mockUserService{
		getProfileFn: func(ctx context.Context, userID string) (*model.SanitizedUser, error) {
			if userID != "user-1" {
				t.Errorf("unexpected user ID %q", userID)
			}
			return &model.SanitizedUser{ID: userID, Email: "taro@example.com"}, nil
		},
	}
	h := NewUserHandler(svc)

	rec := httptest.NewRecorder()
	h.GetMe(rec, authedRequest(http.MethodGet, "/api/users/me", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp model.SanitizedUser
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Email != "taro@example.com" {
		t.Errorf("unexpected email %q", resp.Email)
	}
}

// TestUserHandler_GetMe_Unauthenticated は未認証コンテキストが401になることを検証する。
func TestUserHandler_GetMe_Unauthenticated(t *testing.T) {
	h := NewUserHandler(&mockUserService{})

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	rec := httptest.NewRecorder()

	h.GetMe(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

// TestUserHandler_UpdateMe は部分更新の入力がサービスに渡ることを検証する。
func TestUserHandler_UpdateMe(t *testing.T) {
	var received *user.ProfileUpdate
	svc := &mockUserService{
		updateProfileFn: func(ctx context.Context, userID string, input *user.ProfileUpdate) (*model.SanitizedUser, error) {
			received = input
			return &model.SanitizedUser{ID: userID, Name: *input.Name}, nil
		},
	}
	h := NewUserHandler(svc)

	body := `{"name":"山田次郎"}`
	rec := httptest.NewRecorder()
	h.UpdateMe(rec, authedRequest(http.MethodPatch, "/api/users/me", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if received.Name == nil || *received.Name != "山田次郎" {
		t.Error("expected name to be passed")
	}
	if received.Email != nil {
		t.Error("expected omitted fields to stay nil")
	}
}

// TestUserHandler_UpdateMe_DuplicateEmail はメール重複が409になることを検証する。
func TestUserHandler_UpdateMe_DuplicateEmail(t *testing.T) {
	svc := &mockUserService{
		updateProfileFn: func(ctx context.Context, userID string, input *user.ProfileUpdate) (*model.SanitizedUser, error) {
			return nil, model.NewDuplicateEmailError()
		},
	}
	h := NewUserHandler(svc)

	rec := httptest.NewRecorder()
	h.UpdateMe(rec, authedRequest(http.MethodPatch, "/api/users/me", `{"email":"taken@example.com"}`))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

// TestUserHandler_ChangePassword はパスワード変更が204を返すことを検証する。
func TestUserHandler_ChangePassword(t *testing.T) {
	svc := &mockUserService{
		changePasswordFn: func(ctx context.Context, userID, currentPassword, newPassword string) error {
			if currentPassword != "old-pass" || newPassword != "new-pass1" {
				t.Errorf("unexpected args: %q %q", currentPassword, newPassword)
			}
			return nil
		},
	}
	h := NewUserHandler(svc)

	body := `{"current_password":"old-pass","new_password":"new-pass1"}`
	rec := httptest.NewRecorder()
	h.ChangePassword(rec, authedRequest(http.MethodPost, "/api/users/me/password", body))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

// TestUserHandler_ChangePassword_WrongCurrent は現行パスワード不一致が401になることを検証する。
func TestUserHandler_ChangePassword_WrongCurrent(t *testing.T) {
	svc := &mockUserService{
		changePasswordFn: func(ctx context.Context, userID, currentPassword, newPassword string) error {
			return model.NewInvalidCredentialsError()
		},
	}
	h := NewUserHandler(svc)

	body := `{"current_password":"wrong","new_password":"new-pass1"}`
	rec := httptest.NewRecorder()
	h.ChangePassword(rec, authedRequest(http.MethodPost, "/api/users/me/password", body))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

// TestUserHandler_DeleteMe は退会処理が204を返すことを検証する。
func TestUserHandler_DeleteMe(t *testing.T) {
	deleteCalled := false
	svc := &mockUserService{
		deleteAccountFn: func(ctx context.Context, userID string) error {
			deleteCalled = true
			return nil
		},
	}
	h := NewUserHandler(svc)

	rec := httptest.NewRecorder()
	h.DeleteMe(rec, authedRequest(http.MethodDelete, "/api/users/me", ""))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !deleteCalled {
		t.Error("expected DeleteAccount to be called")
	}
}

// TestUserHandler_ListUsers は一覧がusersキーの下に返ることを検証する。
func TestUserHandler_ListUsers(t *testing.T) {
	svc := &mockUserService{
		listUsersFn: func(ctx context.Context) ([]*model.SanitizedUser, error) {
			return []*model.SanitizedUser{
				{ID: "u1"}, {ID: "u2"},
			}, nil
		},
	}
	h := NewUserHandler(svc)

	rec := httptest.NewRecorder()
	h.ListUsers(rec, authedRequest(http.MethodGet, "/api/users", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Users []model.SanitizedUser `json:"users"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Users) != 2 {
		t.Errorf("expected 2 users, got %d", len(resp.Users))
	}
}
