package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/pkg/config"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
)

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := config.JWTConfig{
		Secret:            "secret",
		Issuer:            "contentstudio",
		ExpirationMinutes: 30,
	}
	now := time.Now().UTC()
	userID := uuid.New()
	workspaceID := uuid.New()

	payload := AccessTokenPayload{
		UserID:      userID,
		WorkspaceID: workspaceID,
		Role:        enums.MemberRoleOwner,
	}

	token, err := MintAccessToken(cfg, now, payload)
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}

	if claims.UserID != userID {
		t.Fatalf("expected user_id %s, got %s", userID, claims.UserID)
	}
	if claims.WorkspaceID != workspaceID {
		t.Fatalf("workspace id not preserved")
	}
	if claims.Role != enums.MemberRoleOwner {
		t.Fatalf("unexpected role %s", claims.Role)
	}
	if claims.ID == "" {
		t.Fatal("expected generated jti")
	}
	if claims.Issuer != cfg.Issuer {
		t.Fatalf("expected issuer %s, got %s", cfg.Issuer, claims.Issuer)
	}

	exp := now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)
	diff := claims.ExpiresAt.Sub(exp)
	if diff < 0 {
		diff = -diff
	}
	if diff >= time.Second {
		t.Fatalf("expected exp roughly %v, got %v (diff %v)", exp.UTC(), claims.ExpiresAt.UTC(), diff)
	}
}

func TestParseAccessTokenInvalidSignature(t *testing.T) {
	cfg := config.JWTConfig{
		Secret:            "secret",
		Issuer:            "contentstudio",
		ExpirationMinutes: 10,
	}
	payload := AccessTokenPayload{
		UserID:      uuid.New(),
		WorkspaceID: uuid.New(),
		Role:        enums.MemberRoleCreator,
	}

	token, err := MintAccessToken(cfg, time.Now(), payload)
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	if _, err := ParseAccessToken(cfg, token+"x"); err == nil {
		t.Fatal("expected invalid signature error")
	}
}

func TestParseAccessTokenExpired(t *testing.T) {
	cfg := config.JWTConfig{
		Secret:            "secret",
		Issuer:            "contentstudio",
		ExpirationMinutes: 15,
	}
	payload := AccessTokenPayload{
		UserID:      uuid.New(),
		WorkspaceID: uuid.New(),
		Role:        enums.MemberRoleViewer,
	}

	token, err := MintAccessToken(cfg, time.Now().Add(-time.Hour), payload)
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	_, err = ParseAccessToken(cfg, token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseAccessTokenWithinClockSkew(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "contentstudio", ExpirationMinutes: 1}
	token, err := MintAccessToken(cfg, time.Now().Add(-70*time.Second), AccessTokenPayload{
		UserID:      uuid.New(),
		WorkspaceID: uuid.New(),
		Role:        enums.MemberRolePublisher,
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	if _, err := ParseAccessToken(cfg, token); err != nil {
		t.Fatalf("expected token inside leeway, got %v", err)
	}
}

func TestParseAccessTokenRejectsForeignClaims(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "contentstudio", ExpirationMinutes: 5}
	now := time.Now()

	otherIssuer := cfg
	otherIssuer.Issuer = "someone-else"
	token, err := MintAccessToken(otherIssuer, now, AccessTokenPayload{UserID: uuid.New(), WorkspaceID: uuid.New(), Role: enums.MemberRoleOwner})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	if _, err := ParseAccessToken(cfg, token); err == nil {
		t.Fatal("expected issuer mismatch")
	}

	noWorkspace := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessTokenClaims{
		UserID: uuid.New(),
		Role:   enums.MemberRoleOwner,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	})
	signed, err := noWorkspace.SignedString([]byte(cfg.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAccessToken(cfg, signed); !errors.Is(err, errMissingMembership) {
		t.Fatalf("expected membership error, got %v", err)
	}

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessTokenClaims{
		UserID:           uuid.New(),
		WorkspaceID:      uuid.New(),
		Role:             enums.MemberRoleOwner,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: cfg.Issuer},
	})
	signed, err = noExpiry.SignedString([]byte(cfg.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAccessToken(cfg, signed); err == nil {
		t.Fatal("expected missing exp to be rejected")
	}
}

func TestMintAccessTokenRejectsBadPayload(t *testing.T) {
	cfg := config.JWTConfig{
		Secret:            "secret",
		Issuer:            "contentstudio",
		ExpirationMinutes: 5,
	}
	cases := map[string]AccessTokenPayload{
		"empty role":        {UserID: uuid.New(), WorkspaceID: uuid.New()},
		"unknown role":      {UserID: uuid.New(), WorkspaceID: uuid.New(), Role: "staff"},
		"missing workspace": {UserID: uuid.New(), Role: enums.MemberRoleAdmin},
	}
	for name, payload := range cases {
		if _, err := MintAccessToken(cfg, time.Now(), payload); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
