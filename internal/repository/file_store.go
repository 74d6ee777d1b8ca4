package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/clinicauth/internal/model"
)

// FileStore は単一JSONファイルを使用したフォールバックストア。
// PostgreSQLに接続できない環境向けの縮退バックエンドで、
// FileUserRepoとFileSessionRepoが同一ファイルを共有する。
// PostgreSQLバックエンドとは異なり、一意性チェックは書き込み前に
// アプリケーション側で行う。全操作はミューテックスで直列化され、
// 書き込みは一時ファイル+renameでアトミックに行う。
type FileStore struct {
	path string

	mu sync.Mutex

	// nowはテストで時刻を差し替えるためのフック。
	now func() time.Time
}

// fileDocument はJSONファイルの全体構造。
type fileDocument struct {
	Users    []*model.User    `json:"users"`
	Sessions []*model.Session `json:"sessions"`
}

// NewFileStore はFileStoreを生成する。
// データディレクトリが存在しない場合は作成する。
func NewFileStore(path string) (*FileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{
		path: path,
		now:  time.Now,
	}, nil
}

// UserRepo はこのストアを共有するユーザーリポジトリを返す。
func (s *FileStore) UserRepo() *FileUserRepo {
	return &FileUserRepo{store: s}
}

// SessionRepo はこのストアを共有するセッションリポジトリを返す。
func (s *FileStore) SessionRepo() *FileSessionRepo {
	return &FileSessionRepo{store: s}
}

// read はファイルからドキュメント全体を読み込む。
// ファイルが存在しない場合は空のドキュメントを返す。
func (s *FileStore) read() (*fileDocument, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &fileDocument{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	doc := &fileDocument{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse data file: %w", err)
	}
	return doc, nil
}

// write はドキュメント全体をアトミックに書き込む。
func (s *FileStore) write(doc *fileDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data file: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace data file: %w", err)
	}
	return nil
}

// FileUserRepo は単一JSONファイルを使用したユーザーリポジトリ。
type FileUserRepo struct {
	store *FileStore
}

// FindByEmail は指定メールアドレスのユーザーを取得する。見つからない場合はnilを返す。
func (r *FileUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	doc, err := r.store.read()
	if err != nil {
		return nil, err
	}
	for _, u := range doc.Users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *FileUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	doc, err := r.store.read()
	if err != nil {
		return nil, err
	}
	for _, u := range doc.Users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// Create はユーザーを作成する。
// メールアドレスが既に存在する場合はDUPLICATE_EMAILエラーを返す。
func (r *FileUserRepo) Create(ctx context.Context, user *model.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	doc, err := r.store.read()
	if err != nil {
		return err
	}

	// 一意性はインデックスではなく書き込み前のチェックで保証する
	for _, u := range doc.Users {
		if u.Email == user.Email {
			return model.NewDuplicateEmailError()
		}
	}

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := r.store.now()
	user.CreatedAt = now
	user.UpdatedAt = now

	cp := *user
	doc.Users = append(doc.Users, &cp)
	return r.store.write(doc)
}

// Update は指定IDのユーザーに部分更新を適用する。
// ユーザーが存在しない場合はUSER_NOT_FOUNDエラーを返す。
func (r *FileUserRepo) Update(ctx context.Context, id string, update *model.UserUpdate) (*model.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	doc, err := r.store.read()
	if err != nil {
		return nil, err
	}

	var target *model.User
	for _, u := range doc.Users {
		if u.ID == id {
			target = u
			break
		}
	}
	if target == nil {
		return nil, model.NewUserNotFoundError()
	}

	if update.Email != nil {
		for _, u := range doc.Users {
			if u.ID != id && u.Email == *update.Email {
				return nil, model.NewDuplicateEmailError()
			}
		}
		target.Email = *update.Email
	}
	if update.PasswordDigest != nil {
		target.PasswordDigest = *update.PasswordDigest
	}
	if update.Name != nil {
		target.Name = *update.Name
	}
	if update.FirstName != nil {
		target.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		target.LastName = *update.LastName
	}
	if update.Avatar != nil {
		target.Avatar = *update.Avatar
	}
	if update.Provider != nil {
		target.Provider = *update.Provider
	}
	if update.ProviderID != nil {
		target.ProviderID = *update.ProviderID
	}
	if update.IsEmailVerified != nil {
		target.IsEmailVerified = *update.IsEmailVerified
	}
	if update.LastLoginAt != nil {
		target.LastLoginAt = *update.LastLoginAt
	}
	target.UpdatedAt = r.store.now()

	if err := r.store.write(doc); err != nil {
		return nil, err
	}
	cp := *target
	return &cp, nil
}

// DeleteByID は指定IDのユーザーを削除する。
// ユーザーが存在しない場合はUSER_NOT_FOUNDエラーを返す。
func (r *FileUserRepo) DeleteByID(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	doc, err := r.store.read()
	if err != nil {
		return err
	}

	idx := -1
	for i, u := range doc.Users {
		if u.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return model.NewUserNotFoundError()
	}

	doc.Users = append(doc.Users[:idx], doc.Users[idx+1:]...)
	return r.store.write(doc)
}

// ListAll は全ユーザーを返す。
func (r *FileUserRepo) ListAll(ctx context.Context) ([]*model.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	doc, err := r.store.read()
	if err != nil {
		return nil, err
	}
	users := make([]*model.User, len(doc.Users))
	for i, u := range doc.Users {
		cp := *u
		users[i] = &cp
	}
	return users, nil
}

// FileSessionRepo は単一JSONファイルを使用したセッションリポジトリ。
type FileSessionRepo struct {
	store *FileStore
}

// Create はセッションを作成する。
func (r *FileSessionRepo) Create(ctx context.Context, session *model.Session) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	doc, err := r.store.read()
	if err != nil {
		return err
	}

	for _, sess := range doc.Sessions {
		if sess.SessionID == session.SessionID {
			return fmt.Errorf("session ID collision: %s", session.SessionID)
		}
	}

	cp := *session
	doc.Sessions = append(doc.Sessions, &cp)
	return r.store.write(doc)
}

// FindByID は指定IDのセッションを取得する。
// 期限切れのセッションはその場で削除し、nilを返す（遅延失効）。
func (r *FileSessionRepo) FindByID(ctx context.Context, sessionID string) (*model.Session, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	doc, err := r.store.read()
	if err != nil {
		return nil, err
	}

	for i, sess := range doc.Sessions {
		if sess.SessionID != sessionID {
			continue
		}
		if sess.IsExpired(r.store.now()) {
			doc.Sessions = append(doc.Sessions[:i], doc.Sessions[i+1:]...)
			if err := r.store.write(doc); err != nil {
				return nil, err
			}
			return nil, nil
		}
		cp := *sess
		return &cp, nil
	}
	return nil, nil
}

// DeleteByID は指定IDのセッションを削除する。冪等。
func (r *FileSessionRepo) DeleteByID(ctx context.Context, sessionID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	doc, err := r.store.read()
	if err != nil {
		return err
	}

	kept := make([]*model.Session, 0, len(doc.Sessions))
	for _, sess := range doc.Sessions {
		if sess.SessionID != sessionID {
			kept = append(kept, sess)
		}
	}
	if len(kept) == len(doc.Sessions) {
		return nil
	}
	doc.Sessions = kept
	return r.store.write(doc)
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。冪等。
func (r *FileSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	doc, err := r.store.read()
	if err != nil {
		return err
	}

	kept := make([]*model.Session, 0, len(doc.Sessions))
	for _, sess := range doc.Sessions {
		if sess.UserID != userID {
			kept = append(kept, sess)
		}
	}
	if len(kept) == len(doc.Sessions) {
		return nil
	}
	doc.Sessions = kept
	return r.store.write(doc)
}

// DeleteExpired は期限切れの全セッションを削除し、削除件数を返す。
func (r *FileSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	doc, err := r.store.read()
	if err != nil {
		return 0, err
	}

	kept := make([]*model.Session, 0, len(doc.Sessions))
	var deleted int64
	for _, sess := range doc.Sessions {
		if sess.IsExpired(now) {
			deleted++
			continue
		}
		kept = append(kept, sess)
	}
	if deleted == 0 {
		return 0, nil
	}
	doc.Sessions = kept
	if err := r.store.write(doc); err != nil {
		return 0, err
	}
	return deleted, nil
}

// compile-time interface checks
var _ UserRepository = (*FileUserRepo)(nil)
var _ SessionRepository = (*FileSessionRepo)(nil)
