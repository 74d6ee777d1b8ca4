package auth

import (
	"encoding/hex"
	"testing"
)

// TestGenerateToken はトークンが64文字の16進文字列で、毎回異なることを確認する。
func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(token))
	}
	if _, err := hex.DecodeString(token); err != nil {
		t.Errorf("expected valid hex string: %v", err)
	}

	other, err := GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	if token == other {
		t.Error("expected tokens to be unique")
	}
}
