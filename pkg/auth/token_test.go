package auth

import (
	"strings"
	"testing"
)

func TestTokenGenerator_GenerateToken(t *testing.T) {
	tg := NewTokenGenerator()

	token, tokenHash, err := tg.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if !strings.HasPrefix(token, TokenPrefix) {
		t.Errorf("Token should start with %q, got %q", TokenPrefix, token)
	}

	// SHA256 = 64 hex chars
	if len(tokenHash) != 64 {
		t.Errorf("TokenHash length = %d, want 64", len(tokenHash))
	}

	if tokenHash != tg.HashToken(token) {
		t.Error("returned hash does not match HashToken(token)")
	}

	if err := tg.ValidateTokenFormat(token); err != nil {
		t.Errorf("generated token failed validation: %v", err)
	}
}

func TestTokenGenerator_GenerateToken_Uniqueness(t *testing.T) {
	tg := NewTokenGenerator()

	tokens := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, _, err := tg.GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}
		if tokens[token] {
			t.Errorf("Duplicate token generated: %s", token)
		}
		tokens[token] = true
	}
}

func TestTokenGenerator_ValidateTokenFormat(t *testing.T) {
	tg := NewTokenGenerator()

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", "brz_YWJjZGVmZ2hpams", false},
		{"wrong prefix", "other_YWJjZGVmZ2hpams", true},
		{"empty body", "brz_", true},
		{"bad encoding", "brz_!!!", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tg.ValidateTokenFormat(tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTokenFormat(%q) error = %v, wantErr %v", tt.token, err, tt.wantErr)
			}
		})
	}
}

func TestTokenGenerator_ExtractPrefix(t *testing.T) {
	tg := NewTokenGenerator()

	tests := []struct {
		token string
		want  string
	}{
		{"brz_abcdefghijkl", "brz_abcdefgh"},
		{"brz_abc", "brz_abc"},
		{"other_abcdefghijkl", ""},
	}

	for _, tt := range tests {
		if got := tg.ExtractPrefix(tt.token); got != tt.want {
			t.Errorf("ExtractPrefix(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}

func TestTokenGenerator_HashToken_Deterministic(t *testing.T) {
	tg := NewTokenGenerator()

	if tg.HashToken("brz_same") != tg.HashToken("brz_same") {
		t.Error("HashToken should be deterministic")
	}
	if tg.HashToken("brz_a") == tg.HashToken("brz_b") {
		t.Error("different tokens should hash differently")
	}
}
