package jwt

import (
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var (
	testAccessSecret  = []byte("access-secret-access-secret-0001")
	testRefreshSecret = []byte("refresh-secret-refresh-secret-01")
)

func newPair(t *testing.T, now func() time.Time) (*Manager, *Manager) {
	t.Helper()
	access, err := NewManager(Config{
		Kind:          KindAccess,
		TTL:           15 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    testAccessSecret,
		Issuer:        "halinh-astrology",
		Audience:      "halinh-users",
		Now:           now,
	})
	if err != nil {
		t.Fatalf("new access manager: %v", err)
	}
	refresh, err := NewManager(Config{
		Kind:          KindRefresh,
		TTL:           7 * 24 * time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    testRefreshSecret,
		Issuer:        "halinh-astrology",
		Audience:      "halinh-users",
		Now:           now,
	})
	if err != nil {
		t.Fatalf("new refresh manager: %v", err)
	}
	return access, refresh
}

func TestSignParseRoundTrip(t *testing.T) {
	access, _ := newPair(t, nil)

	in := Claims{
		UID:      "u1",
		Email:    "u1@example.com",
		Phone:    "0912345678",
		Locale:   "vi",
		Timezone: "Asia/Ho_Chi_Minh",
		Version:  "01HZY4N3Q1V3XJ6W5ZK1B2C3D4",
	}
	token, exp, err := access.Sign(in)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if time.Until(exp) <= 14*time.Minute || time.Until(exp) > 15*time.Minute {
		t.Fatalf("unexpected expiry %v", exp)
	}

	out, err := access.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.UID != in.UID || out.Email != in.Email || out.Phone != in.Phone {
		t.Fatalf("identity claims not preserved: %+v", out)
	}
	if out.Locale != "vi" || out.Timezone != "Asia/Ho_Chi_Minh" || out.Version != in.Version {
		t.Fatalf("session claims not preserved: %+v", out)
	}
	if out.Kind != KindAccess || out.Subject != "u1" || out.Issuer != "halinh-astrology" {
		t.Fatalf("registered claims not stamped: %+v", out)
	}
}

func TestDistinctSecretsRejectCrossKindTokens(t *testing.T) {
	access, refresh := newPair(t, nil)

	refreshToken, _, err := refresh.Sign(Claims{UID: "u1", Locale: "en", Timezone: "Asia/Ho_Chi_Minh", Version: "v1"})
	if err != nil {
		t.Fatalf("sign refresh: %v", err)
	}
	if _, err := access.Parse(refreshToken); !errors.Is(err, ErrMalformed) {
		t.Fatalf("refresh token must not verify under the access secret, got %v", err)
	}
}

func TestSharedSecretStillRejectsWrongKind(t *testing.T) {
	shared := []byte("shared-secret-shared-secret-0001")
	access, _ := NewManager(Config{Kind: KindAccess, TTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: shared})
	refresh, _ := NewManager(Config{Kind: KindRefresh, TTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: shared})

	token, _, err := refresh.Sign(Claims{UID: "u1", Version: "v1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := access.Parse(token); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}
}

func TestParseExpiredUsesInjectedClock(t *testing.T) {
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	access, _ := newPair(t, clock)

	token, _, err := access.Sign(Claims{UID: "u1", Locale: "vi", Timezone: "Asia/Ho_Chi_Minh", Version: "v1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	now = now.Add(16 * time.Minute)
	if _, err := access.Parse(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestParseRequiresExpiry(t *testing.T) {
	access, _ := newPair(t, nil)
	c := Claims{UID: "u1", Kind: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:   "halinh-astrology",
		Audience: gjwt.ClaimStrings{"halinh-users"},
	}}
	s, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, c).SignedString(testAccessSecret)
	if _, err := access.Parse(s); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected token without exp to be malformed, got %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	cases := []Config{
		{Kind: "other", TTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: testAccessSecret},
		{Kind: KindAccess, TTL: 0, SigningMethod: MethodHS256, PrivateKey: testAccessSecret},
		{Kind: KindAccess, TTL: time.Minute, SigningMethod: MethodHS256},
		{Kind: KindAccess, TTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: testAccessSecret, Leeway: time.Hour},
		{Kind: KindAccess, TTL: time.Minute, SigningMethod: "rs256", PrivateKey: testAccessSecret},
		{Kind: KindAccess, TTL: time.Minute, SigningMethod: MethodEd25519},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected config error", i)
		}
	}
}
