package auth

import "testing"

// TestHashPassword はハッシュが平文と異なり、検証に成功することを確認する。
func TestHashPassword(t *testing.T) {
	digest, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if digest == "secret123" {
		t.Error("expected digest to differ from plaintext")
	}

	if !CheckPassword(digest, "secret123") {
		t.Error("expected correct password to verify")
	}
	if CheckPassword(digest, "wrong-password") {
		t.Error("expected wrong password to fail verification")
	}
}

// TestHashPassword_UniqueSalt は同一パスワードでもダイジェストが毎回異なることを確認する。
func TestHashPassword_UniqueSalt(t *testing.T) {
	d1, err := HashPassword("secret123")
	if err != nil {
		t.Fatal(err)
	}
	d2, err := HashPassword("secret123")
	if err != nil {
		t.Fatal(err)
	}
	if d1 == d2 {
		t.Error("expected salted digests to differ")
	}
}
