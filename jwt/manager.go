package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the signature algorithm of a Manager.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair (EdDSA).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC-SHA256 secret.
	MethodHS256 SigningMethod = "hs256"
)

// Kind distinguishes access tokens from refresh tokens. It travels in the
// "typ" claim.
type Kind string

const (
	// KindAccess marks short-lived tokens presented on every request.
	KindAccess Kind = "access"
	// KindRefresh marks long-lived tokens exchanged for access tokens.
	KindRefresh Kind = "refresh"
)

var (
	// ErrMalformed covers every structural, signature, issuer and audience failure.
	ErrMalformed = errors.New("malformed token")
	// ErrExpired is returned for a token whose exp is in the past.
	ErrExpired = errors.New("token expired")
	// ErrWrongKind is returned when a token of the other kind is presented.
	ErrWrongKind = errors.New("wrong token kind")
)

// Config defines one Manager. Access and refresh tokens each get their own
// Manager, and therefore their own key material.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Kind          Kind
	TTL           time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now is the time source for signing and validation. Nil uses time.Now.
	Now func() time.Time
}

// Claims is the payload carried by both token kinds.
type Claims struct {
	UID      string `json:"uid"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Locale   string `json:"lang"`
	Timezone string `json:"tz"`
	Version  string `json:"ver"`
	Kind     Kind   `json:"typ"`
	jwt.RegisteredClaims
}

// Manager signs and parses tokens of a single kind.
//
// Manager is immutable after construction and safe for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a Manager for cfg.Kind.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Kind != KindAccess && cfg.Kind != KindRefresh {
		return nil, errors.New("invalid token kind")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires secret")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg}, nil
}

// Kind reports which token kind the Manager handles.
func (j *Manager) Kind() Kind {
	return j.config.Kind
}

// TTL reports the lifetime of tokens signed by the Manager.
func (j *Manager) TTL() time.Duration {
	return j.config.TTL
}

// Sign stamps c with the Manager's kind, issuer, audience, subject and
// validity window, signs it, and returns the token with its absolute expiry.
// Any registered claims already set on c are overwritten.
func (j *Manager) Sign(c Claims) (string, time.Time, error) {
	now := j.config.Now()
	expiresAt := now.Add(j.config.TTL)

	c.Kind = j.config.Kind
	c.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   c.UID,
		Issuer:    j.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if j.config.Audience != "" {
		c.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.getMethod(), c)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := token.SignedString(signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	// NumericDate truncates to seconds; report what the token actually says.
	return signed, c.ExpiresAt.Time, nil
}

// Parse verifies signature, algorithm, issuer, audience, expiry and kind.
// Failures are reported as ErrExpired, ErrWrongKind or ErrMalformed, wrapped
// with the underlying cause.
func (j *Manager) Parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithTimeFunc(j.config.Now),
		jwt.WithExpirationRequired(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, j.keyFunc)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	if claims.IssuedAt != nil && j.config.MaxFutureIAT > 0 {
		maxAllowed := j.config.Now().Add(j.config.MaxFutureIAT)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrMalformed)
		}
	}
	if claims.Kind != j.config.Kind {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongKind, claims.Kind, j.config.Kind)
	}

	return claims, nil
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != j.getMethod().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(j.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return j.keyBytesToVerifyKey(key)
	}

	if j.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		if kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return j.getVerifyKey()
}

func classify(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return fmt.Errorf("%w: %v", ErrExpired, err)
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		if len(j.config.PrivateKey) == 0 {
			return nil, errors.New("ed25519 private key not configured")
		}
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
