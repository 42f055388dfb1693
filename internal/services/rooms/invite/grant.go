// Package invite issues and verifies signed room invite grants.
//
// A grant is a short-lived Ed25519 JWT naming one invited user and one room.
// Redeeming a grant adds the user to the room's member list. Grants carry a
// jti so each one can be redeemed at most once.
package invite

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/emberchat/ember/internal/platform/errors"
)

// DefaultTTL bounds how long an issued grant stays redeemable.
const DefaultTTL = 24 * time.Hour

// Environment variable names for grant configuration.
const (
	EnvGrantIssuer     = "EMBER_ROOMS_GRANT_ISSUER"
	EnvGrantAudience   = "EMBER_ROOMS_GRANT_AUDIENCE"
	EnvGrantPublicKey  = "EMBER_ROOMS_GRANT_PUBLIC_KEY"
	EnvGrantPrivateKey = "EMBER_ROOMS_GRANT_PRIVATE_KEY"
)

// grantEnv holds raw env values before post-parse validation.
type grantEnv struct {
	Issuer     string `env:"EMBER_ROOMS_GRANT_ISSUER"`
	Audience   string `env:"EMBER_ROOMS_GRANT_AUDIENCE"`
	PublicKey  string `env:"EMBER_ROOMS_GRANT_PUBLIC_KEY"`
	PrivateKey string `env:"EMBER_ROOMS_GRANT_PRIVATE_KEY"`
}

// GrantConfig defines how grants are signed and verified.
type GrantConfig struct {
	Issuer     string
	Audience   string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	TTL        time.Duration
	Now        func() time.Time
}

// GrantClaims captures the validated contents of a grant.
type GrantClaims struct {
	JWTID         string
	RoomID        int64
	UserID        string
	CanSeeHistory bool
	ExpiresAt     time.Time
	IssuedAt      time.Time
}

// grantClaims is the internal claims type used for JWT signing and parsing.
type grantClaims struct {
	jwt.RegisteredClaims
	RoomID        string `json:"room_id"`
	UserID        string `json:"user_id"`
	CanSeeHistory bool   `json:"can_see_history"`
}

// LoadGrantConfigFromEnv reads grant signing and verification configuration.
//
// The private key is optional so verifiers can run without signing ability.
func LoadGrantConfigFromEnv(now func() time.Time) (GrantConfig, error) {
	var raw grantEnv
	if err := env.Parse(&raw); err != nil {
		return GrantConfig{}, fmt.Errorf("parse grant env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	privateKey := strings.TrimSpace(raw.PrivateKey)
	if issuer == "" {
		return GrantConfig{}, fmt.Errorf("EMBER_ROOMS_GRANT_ISSUER is required")
	}
	if audience == "" {
		return GrantConfig{}, fmt.Errorf("EMBER_ROOMS_GRANT_AUDIENCE is required")
	}
	if publicKey == "" {
		return GrantConfig{}, fmt.Errorf("EMBER_ROOMS_GRANT_PUBLIC_KEY is required")
	}
	pubBytes, err := decodeBase64(publicKey)
	if err != nil {
		return GrantConfig{}, fmt.Errorf("decode grant public key: %w", err)
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		return GrantConfig{}, fmt.Errorf("grant public key must be %d bytes", ed25519.PublicKeySize)
	}
	cfg := GrantConfig{
		Issuer:    issuer,
		Audience:  audience,
		PublicKey: ed25519.PublicKey(pubBytes),
		TTL:       DefaultTTL,
		Now:       now,
	}
	if privateKey != "" {
		privBytes, err := decodeBase64(privateKey)
		if err != nil {
			return GrantConfig{}, fmt.Errorf("decode grant private key: %w", err)
		}
		if len(privBytes) != ed25519.PrivateKeySize {
			return GrantConfig{}, fmt.Errorf("grant private key must be %d bytes", ed25519.PrivateKeySize)
		}
		cfg.PrivateKey = ed25519.PrivateKey(privBytes)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg, nil
}

// Sign mints a grant for one user and room.
func Sign(roomID int64, userID string, canSeeHistory bool, jwtID string, cfg GrantConfig) (string, error) {
	if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
		return "", errors.New("grant signer is not configured")
	}
	userID = strings.TrimSpace(userID)
	if roomID <= 0 || userID == "" || strings.TrimSpace(jwtID) == "" {
		return "", errors.New("grant subject is incomplete")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := cfg.Now().UTC()
	claims := grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			ID:        jwtID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		RoomID:        strconv.FormatInt(roomID, 10),
		UserID:        userID,
		CanSeeHistory: canSeeHistory,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(cfg.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign grant: %w", err)
	}
	return signed, nil
}

// Validate verifies a grant token and checks it names the redeeming user.
func Validate(grant string, userID string, cfg GrantConfig) (GrantClaims, error) {
	grant = strings.TrimSpace(grant)
	if grant == "" {
		return GrantClaims{}, apperrors.New(apperrors.CodeInviteGrantInvalid, "grant is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.PublicKey) != ed25519.PublicKeySize {
		return GrantClaims{}, errors.New("grant verifier is not configured")
	}

	var parsed grantClaims
	_, err := jwt.ParseWithClaims(grant, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.PublicKey, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return GrantClaims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return GrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeInviteGrantMismatch,
			"grant issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return GrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeInviteGrantMismatch,
			"grant audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}

	if parsed.ID == "" {
		return GrantClaims{}, apperrors.New(apperrors.CodeInviteGrantInvalid, "grant jti is required")
	}
	if parsed.ExpiresAt == nil {
		return GrantClaims{}, apperrors.New(apperrors.CodeInviteGrantInvalid, "grant exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return GrantClaims{}, apperrors.New(apperrors.CodeInviteGrantExpired, "grant is expired")
	}
	if parsed.NotBefore != nil {
		nbf := parsed.NotBefore.Time.UTC()
		if now.Before(nbf) {
			return GrantClaims{}, apperrors.New(apperrors.CodeInviteGrantInvalid, "grant not active yet")
		}
	}

	roomID, err := strconv.ParseInt(strings.TrimSpace(parsed.RoomID), 10, 64)
	if err != nil || roomID <= 0 {
		return GrantClaims{}, apperrors.New(apperrors.CodeInviteGrantInvalid, "grant room is invalid")
	}
	if strings.TrimSpace(parsed.UserID) == "" || parsed.UserID != userID {
		return GrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeInviteGrantMismatch,
			"grant user mismatch",
			map[string]string{"Field": "user_id"},
		)
	}

	claims := GrantClaims{
		JWTID:         parsed.ID,
		RoomID:        roomID,
		UserID:        parsed.UserID,
		CanSeeHistory: parsed.CanSeeHistory,
		ExpiresAt:     exp,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeInviteGrantInvalid, "grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeInviteGrantInvalid, "grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeInviteGrantInvalid, "grant is invalid")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
