package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenBytes はセッショントークンのエントロピー長（256ビット）。
const tokenBytes = 32

// GenerateToken は暗号的に安全な不透明トークンを生成する。
// 64文字の16進文字列を返す。セッションIDにのみ使用する。
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
