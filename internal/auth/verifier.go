package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/clinicauth/internal/model"
)

const (
	defaultGoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

	// jwksCacheTTL は取得済み公開鍵のキャッシュ有効期間。
	jwksCacheTTL = time.Hour
	// jwksMinRefreshInterval は未知のkidによる再取得の最短間隔。
	// 不正トークンの連打でGoogleのエンドポイントを叩き続けないための下限。
	jwksMinRefreshInterval = time.Minute
)

// VerifiedProfile は検証済みIDトークンから抽出したプロフィール。
type VerifiedProfile struct {
	Provider      string
	Subject       string
	Email         string
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string
	EmailVerified bool
}

// IdentityVerifier は外部IdP発行のIDトークンを検証するインターフェース。
// 将来的に複数IdP（Google, GitHub等）に対応するための抽象化。
type IdentityVerifier interface {
	// Verify はIDトークンの署名・発行者・audienceを検証し、プロフィールを返す。
	// expectedAudienceが空の場合はプロセス設定のデフォルトを使用する
	// （設定ミスの兆候として警告を出す）。
	Verify(ctx context.Context, rawToken, expectedAudience string) (*VerifiedProfile, error)
}

// GoogleVerifierConfig はGoogle IDトークン検証の設定。
type GoogleVerifierConfig struct {
	// DefaultAudience は呼び出し側がaudienceを省略した場合に使用するクライアントID。
	DefaultAudience string

	// HTTPTimeout はJWKS取得のタイムアウト。
	HTTPTimeout time.Duration

	// テスト用にオーバーライド可能なURL
	JWKSURL string
}

// GoogleIDTokenVerifier はGoogle発行のIDトークン（RS256）を検証する。
// 公開鍵はGoogleのJWKSエンドポイントから取得し、一定時間キャッシュする。
type GoogleIDTokenVerifier struct {
	config GoogleVerifierConfig
	client *http.Client

	// misconfigWarn はデフォルトaudienceフォールバックを観測側に通知するフック。
	misconfigWarn func()

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	lastFetched time.Time
}

// NewGoogleIDTokenVerifier はGoogleIDTokenVerifierを生成する。
func NewGoogleIDTokenVerifier(config GoogleVerifierConfig) *GoogleIDTokenVerifier {
	if config.JWKSURL == "" {
		config.JWKSURL = defaultGoogleJWKSURL
	}
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 10 * time.Second
	}
	return &GoogleIDTokenVerifier{
		config: config,
		client: &http.Client{Timeout: config.HTTPTimeout},
		keys:   make(map[string]*rsa.PublicKey),
	}
}

// SetMisconfigurationHook はデフォルトaudienceフォールバック発生時に
// 呼ばれるフックを設定する（メトリクス連携用）。
func (v *GoogleIDTokenVerifier) SetMisconfigurationHook(fn func()) {
	v.misconfigWarn = fn
}

// googleIDClaims はGoogle IDトークンのクレーム。
type googleIDClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

// Verify はGoogle IDトークンを検証し、プロフィールを返す。
// 署名・発行者・有効期限の検証失敗はINVALID_TOKEN、
// audience不一致はAUDIENCE_MISMATCHとして返す。
// プロバイダー由来の生エラーは呼び出し側に漏らさず、ログにのみ記録する。
func (v *GoogleIDTokenVerifier) Verify(ctx context.Context, rawToken, expectedAudience string) (*VerifiedProfile, error) {
	if expectedAudience == "" {
		// フォールバックは設定ミスの兆候なので黙って受け入れず警告する
		slog.Warn("expected audience not supplied, falling back to configured default")
		if v.misconfigWarn != nil {
			v.misconfigWarn()
		}
		expectedAudience = v.config.DefaultAudience
	}
	if expectedAudience == "" {
		slog.Error("no audience configured for ID token verification")
		return nil, model.NewInvalidTokenError()
	}

	claims := &googleIDClaims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token header has no kid")
		}
		return v.publicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		slog.Info("ID token verification failed", slog.String("error", err.Error()))
		return nil, model.NewInvalidTokenError()
	}
	if !token.Valid {
		return nil, model.NewInvalidTokenError()
	}

	issuer, err := claims.GetIssuer()
	if err != nil || (issuer != "accounts.google.com" && issuer != "https://accounts.google.com") {
		slog.Info("ID token has unexpected issuer", slog.String("issuer", issuer))
		return nil, model.NewInvalidTokenError()
	}

	if !hasAudience(claims.Audience, expectedAudience) {
		slog.Warn("ID token audience mismatch",
			slog.String("expected", expectedAudience),
		)
		return nil, model.NewAudienceMismatchError()
	}

	if claims.Subject == "" {
		slog.Info("ID token has empty subject")
		return nil, model.NewInvalidTokenError()
	}

	return &VerifiedProfile{
		Provider:      "google",
		Subject:       claims.Subject,
		Email:         claims.Email,
		Name:          claims.Name,
		GivenName:     claims.GivenName,
		FamilyName:    claims.FamilyName,
		Picture:       claims.Picture,
		EmailVerified: claims.EmailVerified,
	}, nil
}

// publicKey はkidに対応するRSA公開鍵を返す。
// キャッシュに無い場合、または期限切れの場合はJWKSを再取得する。
func (v *GoogleIDTokenVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok && time.Since(v.lastFetched) < jwksCacheTTL {
		return key, nil
	}

	// 鍵ローテーション直後の未知kidでは再取得するが、連打は抑制する
	if time.Since(v.lastFetched) >= jwksMinRefreshInterval {
		if err := v.fetchKeys(ctx); err != nil {
			return nil, err
		}
	}

	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no key found for kid %q", kid)
	}
	return key, nil
}

// jwksResponse はJWKSエンドポイントのレスポンス。
type jwksResponse struct {
	Keys []jwksKey `json:"keys"`
}

// jwksKey はJWKSの1鍵エントリ。
type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// fetchKeys はJWKSエンドポイントから公開鍵一式を取得しキャッシュを置き換える。
// 呼び出し側でmuを保持していること。
func (v *GoogleIDTokenVerifier) fetchKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.JWKSURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create JWKS request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("JWKS request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS fetch failed with status %d", resp.StatusCode)
	}

	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return fmt.Errorf("failed to parse JWKS response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		key, err := parseRSAKey(k)
		if err != nil {
			slog.Warn("skipping unparsable JWKS key",
				slog.String("kid", k.Kid),
				slog.String("error", err.Error()),
			)
			continue
		}
		keys[k.Kid] = key
	}
	if len(keys) == 0 {
		return fmt.Errorf("JWKS response contained no usable keys")
	}

	v.keys = keys
	v.lastFetched = time.Now()
	return nil
}

// parseRSAKey はJWKSエントリのn/e（base64url）からRSA公開鍵を復元する。
func parseRSAKey(k jwksKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, fmt.Errorf("invalid exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// hasAudience はaudクレームに期待するaudienceが含まれるかを返す。
func hasAudience(aud jwt.ClaimStrings, expected string) bool {
	for _, a := range aud {
		if a == expected {
			return true
		}
	}
	return false
}

// compile-time interface check
var _ IdentityVerifier = (*GoogleIDTokenVerifier)(nil)
