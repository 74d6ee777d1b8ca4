// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの役割を表す列挙タグ。
type Role string

const (
	// RoleCustomer はローカル登録ユーザーのデフォルト役割。
	RoleCustomer Role = "customer"
	// RolePatient は外部IdP経由で作成されたユーザーのデフォルト役割。
	RolePatient Role = "patient"
	// RoleStaff はクリニックのスタッフを表す。
	RoleStaff Role = "staff"
	// RoleAdmin は管理者を表す。
	RoleAdmin Role = "admin"
)

// User はサービス利用ユーザーを表す。
// PasswordDigestは永続化層でのみ扱い、境界レイヤーには決して返さない。
type User struct {
	ID             string
	Email          string
	PasswordDigest string
	Name           string
	FirstName      string
	LastName       string
	Avatar         string
	Role           Role

	// Provider / ProviderID は外部IdP連携時に設定される。
	// Providerが空の場合はパスワードベースのローカルアカウントを意味する。
	Provider        string
	ProviderID      string
	IsEmailVerified bool

	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt time.Time
}

// SanitizedUser はPasswordDigestを除いたユーザーの外部公開ビュー。
type SanitizedUser struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	FirstName       string    `json:"first_name,omitempty"`
	LastName        string    `json:"last_name,omitempty"`
	Avatar          string    `json:"avatar,omitempty"`
	Role            Role      `json:"role"`
	Provider        string    `json:"provider,omitempty"`
	ProviderID      string    `json:"provider_id,omitempty"`
	IsEmailVerified bool      `json:"is_email_verified"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LastLoginAt     time.Time `json:"last_login_at,omitzero"`
}

// Sanitize はPasswordDigestを除いた外部公開ビューを返す。
func (u *User) Sanitize() *SanitizedUser {
	return &SanitizedUser{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Avatar:          u.Avatar,
		Role:            u.Role,
		Provider:        u.Provider,
		ProviderID:      u.ProviderID,
		IsEmailVerified: u.IsEmailVerified,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
		LastLoginAt:     u.LastLoginAt,
	}
}

// IsFederated は外部IdP由来（または連携済み）のアカウントかどうかを返す。
func (u *User) IsFederated() bool {
	return u.Provider != "" && u.Provider != "local"
}

// UserUpdate はユーザーの部分更新を表す。
// nilフィールドは変更せず、既存の値を維持する。
type UserUpdate struct {
	Email           *string
	PasswordDigest  *string
	Name            *string
	FirstName       *string
	LastName        *string
	Avatar          *string
	Provider        *string
	ProviderID      *string
	IsEmailVerified *bool
	LastLoginAt     *time.Time
}
