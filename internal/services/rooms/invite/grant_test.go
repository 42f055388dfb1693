package invite

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	apperrors "github.com/emberchat/ember/internal/platform/errors"
)

func testConfig(t *testing.T, now time.Time) GrantConfig {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return GrantConfig{
		Issuer:     "rooms.test",
		Audience:   "rooms-service",
		PublicKey:  pub,
		PrivateKey: priv,
		TTL:        time.Hour,
		Now:        func() time.Time { return now },
	}
}

func TestLoadGrantConfigFromEnv(t *testing.T) {
	t.Setenv(EnvGrantIssuer, "")
	t.Setenv(EnvGrantAudience, "")
	t.Setenv(EnvGrantPublicKey, "")
	t.Setenv(EnvGrantPrivateKey, "")

	if _, err := LoadGrantConfigFromEnv(nil); err == nil {
		t.Fatal("expected error when env vars are missing")
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	t.Setenv(EnvGrantIssuer, "issuer")
	t.Setenv(EnvGrantAudience, "audience")
	t.Setenv(EnvGrantPublicKey, base64.RawStdEncoding.EncodeToString(pub))
	t.Setenv(EnvGrantPrivateKey, base64.RawStdEncoding.EncodeToString(priv))

	cfg, err := LoadGrantConfigFromEnv(nil)
	if err != nil {
		t.Fatalf("load grant config: %v", err)
	}
	if cfg.Issuer != "issuer" || cfg.Audience != "audience" {
		t.Fatal("expected issuer and audience to be loaded")
	}
	if len(cfg.PublicKey) != ed25519.PublicKeySize {
		t.Fatalf("expected public key size %d", ed25519.PublicKeySize)
	}
	if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
		t.Fatalf("expected private key size %d", ed25519.PrivateKeySize)
	}
}

func TestSignValidateRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := testConfig(t, now)

	grant, err := Sign(42, "user-1", true, "jti-1", cfg)
	if err != nil {
		t.Fatalf("sign grant: %v", err)
	}

	claims, err := Validate(grant, "user-1", cfg)
	if err != nil {
		t.Fatalf("validate grant: %v", err)
	}
	if claims.RoomID != 42 {
		t.Errorf("room id = %d, want 42", claims.RoomID)
	}
	if claims.UserID != "user-1" {
		t.Errorf("user id = %q", claims.UserID)
	}
	if !claims.CanSeeHistory {
		t.Error("expected can_see_history claim")
	}
	if claims.JWTID != "jti-1" {
		t.Errorf("jti = %q", claims.JWTID)
	}
	if !claims.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("expires at = %v", claims.ExpiresAt)
	}
}

func TestValidateExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := testConfig(t, now)

	grant, err := Sign(42, "user-1", false, "jti-1", cfg)
	if err != nil {
		t.Fatalf("sign grant: %v", err)
	}

	cfg.Now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = Validate(grant, "user-1", cfg)
	if apperrors.CodeOf(err) != apperrors.CodeInviteGrantExpired {
		t.Fatalf("err = %v, want expired code", err)
	}
}

func TestValidateUserMismatch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := testConfig(t, now)

	grant, err := Sign(42, "user-1", false, "jti-1", cfg)
	if err != nil {
		t.Fatalf("sign grant: %v", err)
	}

	_, err = Validate(grant, "user-2", cfg)
	if apperrors.CodeOf(err) != apperrors.CodeInviteGrantMismatch {
		t.Fatalf("err = %v, want mismatch code", err)
	}
}

func TestValidateWrongKey(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := testConfig(t, now)
	other := testConfig(t, now)
	other.Issuer = cfg.Issuer
	other.Audience = cfg.Audience

	grant, err := Sign(42, "user-1", false, "jti-1", other)
	if err != nil {
		t.Fatalf("sign grant: %v", err)
	}

	_, err = Validate(grant, "user-1", cfg)
	if apperrors.CodeOf(err) != apperrors.CodeInviteGrantInvalid {
		t.Fatalf("err = %v, want invalid code", err)
	}
}

func TestValidateGarbage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := testConfig(t, now)

	for _, grant := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := Validate(grant, "user-1", cfg)
		if apperrors.CodeOf(err) != apperrors.CodeInviteGrantInvalid {
			t.Errorf("grant %q: err = %v, want invalid code", grant, err)
		}
	}
}

func TestSignRequiresPrivateKey(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := testConfig(t, now)
	cfg.PrivateKey = nil

	if _, err := Sign(42, "user-1", false, "jti-1", cfg); err == nil {
		t.Fatal("expected error without private key")
	}
	var appErr *apperrors.Error
	if _, err := Sign(0, "user-1", false, "jti-1", testConfig(t, now)); err == nil || errors.As(err, &appErr) {
		t.Fatalf("expected plain error for bad room id, got %v", err)
	}
}
