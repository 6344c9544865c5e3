package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{Kind: KindAccess, TTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := Claims{UID: "u", Kind: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	token, err := tok.SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.Parse(token); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for wrong algorithm, got %v", err)
	}
}

func TestParseIssuerAudienceAndLeeway(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		Kind:          KindAccess,
		TTL:           time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		Issuer:        "halinh-astrology",
		Audience:      "halinh-users",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, _, err := m.Sign(Claims{UID: "u", Locale: "vi", Timezone: "Asia/Ho_Chi_Minh", Version: "v1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(access); err != nil {
		t.Fatalf("expected valid token to parse: %v", err)
	}

	signWith := func(c Claims) string {
		c.Kind = KindAccess
		s, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, c).SignedString(priv)
		return s
	}

	badIssuer := signWith(Claims{UID: "u", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "other",
		Audience:  gjwt.ClaimStrings{"halinh-users"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
	}})
	if _, err := m.Parse(badIssuer); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected wrong issuer to fail as malformed, got %v", err)
	}

	badAudience := signWith(Claims{UID: "u", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "halinh-astrology",
		Audience:  gjwt.ClaimStrings{"other-api"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
	}})
	if _, err := m.Parse(badAudience); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected wrong audience to fail as malformed, got %v", err)
	}

	within := signWith(Claims{UID: "u", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "halinh-astrology",
		Audience:  gjwt.ClaimStrings{"halinh-users"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(-15 * time.Second)),
		IssuedAt:  gjwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	if _, err := m.Parse(within); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}

	expired := signWith(Claims{UID: "u", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "halinh-astrology",
		Audience:  gjwt.ClaimStrings{"halinh-users"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(-2 * time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now().Add(-3 * time.Minute)),
	}})
	if _, err := m.Parse(expired); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestParseUnknownKidFails(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, _ := newEdKeys(t)
	m, err := NewManager(Config{
		Kind:          KindRefresh,
		TTL:           time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		PublicKey:     pub1,
		KeyID:         "k1",
		VerifyKeys: map[string][]byte{
			"k1": pub1,
		},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := Claims{UID: "u", Kind: KindRefresh, RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k2"
	token, err := tok.SignedString(priv1)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.Parse(token); err == nil {
		t.Fatal("expected unknown kid failure")
	}

	tok2 := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok2.Header["kid"] = "k1"
	good, _ := tok2.SignedString(priv1)
	if _, err := m.Parse(good); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}

	m2, _ := NewManager(Config{Kind: KindRefresh, TTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub2, VerifyKeys: map[string][]byte{"k2": pub2}})
	if _, err := m2.Parse(good); err == nil {
		t.Fatal("expected parse failure with mismatched key set")
	}
}

func TestParseRejectsFutureIssuedAt(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	m, err := NewManager(Config{Kind: KindAccess, TTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: secret, MaxFutureIAT: time.Minute})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	c := Claims{UID: "u", Kind: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{
		IssuedAt:  gjwt.NewNumericDate(time.Now().Add(time.Hour)),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(2 * time.Hour)),
	}}
	s, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, c).SignedString(secret)
	if _, err := m.Parse(s); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected future iat rejection, got %v", err)
	}
}
