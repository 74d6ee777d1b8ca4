// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/clinicauth/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// 認証サービスはどのバックエンド（PostgreSQL / 単一ファイル）が
// 選択されているかに依存しない。
type UserRepository interface {
	// FindByEmail は指定メールアドレスのユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はユーザーを作成する。IDが未設定の場合は採番し、
	// created_at / updated_at を設定する。
	// メールアドレスが既に存在する場合はDUPLICATE_EMAILエラーを返す。
	Create(ctx context.Context, user *model.User) error

	// Update は指定IDのユーザーに部分更新を適用し、updated_atを更新する。
	// ユーザーが存在しない場合はUSER_NOT_FOUNDエラーを返す。
	// updateのnilフィールドは変更しない。
	Update(ctx context.Context, id string, update *model.UserUpdate) (*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// ユーザーが存在しない場合はUSER_NOT_FOUNDエラーを返す。
	DeleteByID(ctx context.Context, id string) error

	// ListAll は全ユーザーを返す。
	ListAll(ctx context.Context) ([]*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。SessionIDは呼び出し側が設定済みであること。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。
	// 期限切れのセッションはその場で削除し、nilを返す（遅延失効）。
	FindByID(ctx context.Context, sessionID string) (*model.Session, error)

	// DeleteByID は指定IDのセッションを削除する。冪等で、存在しなくてもエラーにならない。
	DeleteByID(ctx context.Context, sessionID string) error

	// DeleteByUserID は指定ユーザーの全セッションを削除する。冪等。
	DeleteByUserID(ctx context.Context, userID string) error

	// DeleteExpired は指定時刻より前に期限切れになった全セッションを削除し、
	// 削除件数を返す。バックグラウンドの掃除ジョブから呼ばれる。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
