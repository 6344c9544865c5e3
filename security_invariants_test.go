package authcore

import (
	"context"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/halinh/authcore/jwt"
)

func forgeManager(t *testing.T, f *engineFixture, kind jwt.Kind, secret []byte) *jwt.Manager {
	t.Helper()
	cfg := f.engine.Config()
	m, err := jwt.NewManager(jwt.Config{
		Kind:          kind,
		TTL:           time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    secret,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Now:           f.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestSecurityInvariantAccessSecretCannotMintRefreshTokens(t *testing.T) {
	f := newTestEngine(t, nil)
	pair := f.issue(t, "u1", DeviceInfo{})

	forger := forgeManager(t, f, jwt.KindRefresh, f.engine.Config().JWT.AccessSecret)
	forged, _, err := forger.Sign(jwt.Claims{
		UID:      "u1",
		Locale:   "vi",
		Timezone: "Asia/Ho_Chi_Minh",
		Version:  pair.Version,
	})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	_, err = f.engine.VerifyRefresh(context.Background(), forged)
	requireReason(t, err, ReasonMalformedToken)
	_, err = f.engine.RefreshAccessToken(context.Background(), forged)
	requireReason(t, err, ReasonMalformedToken)
}

func TestSecurityInvariantValidSignatureWithoutSessionIsRevoked(t *testing.T) {
	f := newTestEngine(t, nil)

	forger := forgeManager(t, f, jwt.KindRefresh, f.engine.Config().JWT.RefreshSecret)
	token, _, err := forger.Sign(jwt.Claims{
		UID:      "u1",
		Locale:   "vi",
		Timezone: "Asia/Ho_Chi_Minh",
		Version:  "01HZZZZZZZZZZZZZZZZZZZZZZZ",
	})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	_, err = f.engine.VerifyRefresh(context.Background(), token)
	requireReason(t, err, ReasonRevokedToken)
}

func TestSecurityInvariantForeignIssuerRejected(t *testing.T) {
	f := newTestEngine(t, nil)

	m, err := jwt.NewManager(jwt.Config{
		Kind:          jwt.KindAccess,
		TTL:           time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    f.engine.Config().JWT.AccessSecret,
		Issuer:        "someone-else",
		Audience:      "halinh-users",
		Now:           f.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	token, _, err := m.Sign(jwt.Claims{UID: "u1", Locale: "vi", Timezone: "Asia/Ho_Chi_Minh"})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	_, err = f.engine.Authenticate(context.Background(), token)
	requireReason(t, err, ReasonMalformedToken)
}

func TestSecurityInvariantUnsignedTokenRejected(t *testing.T) {
	f := newTestEngine(t, nil)

	claims := jwt.Claims{
		UID:      "u1",
		Locale:   "vi",
		Timezone: "Asia/Ho_Chi_Minh",
		Kind:     jwt.KindAccess,
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    "halinh-astrology",
			Audience:  gojwt.ClaimStrings{"halinh-users"},
			ExpiresAt: gojwt.NewNumericDate(f.clock.Now().Add(time.Hour)),
		},
	}
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodNone, claims).SignedString(gojwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}

	_, err = f.engine.Authenticate(context.Background(), token)
	requireReason(t, err, ReasonMalformedToken)
}

func TestSecurityInvariantExpiredRefreshNeverYieldsAccess(t *testing.T) {
	f := newTestEngine(t, nil)
	pair := f.issue(t, "u1", DeviceInfo{})

	f.clock.Advance(7*24*time.Hour + time.Second)
	grant, err := f.engine.RefreshAccessToken(context.Background(), pair.RefreshToken)
	requireReason(t, err, ReasonExpiredToken)
	if grant.AccessToken != "" {
		t.Fatal("expired refresh must not produce an access token")
	}
}
