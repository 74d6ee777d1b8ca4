package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// Codeは機械可読なエラー種別で、呼び出し側はメッセージの文字列照合ではなく
// Codeで分岐する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeDuplicateEmail    = "DUPLICATE_EMAIL"
	ErrCodeInvalidCredential = "INVALID_CREDENTIALS"
	ErrCodeInvalidSession    = "INVALID_SESSION"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeInvalidToken      = "INVALID_TOKEN"
	ErrCodeAudienceMismatch  = "AUDIENCE_MISMATCH"
	ErrCodeIncompleteProfile = "INCOMPLETE_PROFILE"
)

// IsCode はerrが指定コードのAPIErrorかどうかを返す。
// ラップされたエラーも辿って判定する。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// NewValidationError は入力検証エラーを生成する。
// 検証エラーは永続化層に触れる前に返される。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// アカウント列挙を防ぐため、メールアドレス不明とパスワード不一致を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredential,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewInvalidSessionError はセッション無効エラーを生成する。
func NewInvalidSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSession,
		Message:  "セッションが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidTokenError はIDトークン検証失敗エラーを生成する。
// プロバイダーの生エラーは境界に漏らさない。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "IDトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "再度サインインしてください。",
	}
}

// NewAudienceMismatchError はトークンのaudience不一致エラーを生成する。
func NewAudienceMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeAudienceMismatch,
		Message:  "IDトークンの発行先がこのアプリケーションと一致しません。",
		Category: "auth",
		Action:   "アプリケーションの設定を確認してください。",
	}
}

// NewIncompleteProfileError は外部IdPプロフィールの必須項目欠落エラーを生成する。
func NewIncompleteProfileError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeIncompleteProfile,
		Message:  fmt.Sprintf("外部IDプロバイダーから必須項目を取得できませんでした: %s", field),
		Category: "auth",
		Action:   "IDプロバイダー側で公開プロフィールの設定を確認してください。",
	}
}
