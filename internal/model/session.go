package model

import "time"

// Session はユーザーのログインセッションを表す。
// SessionIDは暗号的に安全な不透明トークンで、永続化層の主キーを兼ねる。
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired は指定時刻においてセッションが期限切れかどうかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// FederatedSession は外部IdPログインで返す縮小セッションビュー。
// ローカルログインより意図的に狭い形で返す。
type FederatedSession struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Narrow は縮小セッションビューを返す。
func (s *Session) Narrow() *FederatedSession {
	return &FederatedSession{
		SessionID: s.SessionID,
		ExpiresAt: s.ExpiresAt,
	}
}
