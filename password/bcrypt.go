package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultCost is the bcrypt work factor used by NewBcrypt(0).
	DefaultCost = 12
	// MinLength is the shortest accepted password in bytes.
	MinLength = 8
	// MaxLength is bcrypt's input limit in bytes.
	MaxLength = 72
)

var (
	// ErrTooShort is returned by Hash for passwords under MinLength bytes.
	ErrTooShort = fmt.Errorf("password must be at least %d bytes", MinLength)
	// ErrTooLong is returned for passwords over MaxLength bytes.
	ErrTooLong = fmt.Errorf("password must be at most %d bytes", MaxLength)
	// ErrMalformedHash is returned by Verify when the stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Hasher turns a plaintext password into a storable hash and checks
// candidates against it.
type Hasher interface {
	Hash(password string) (string, error)
	// Verify reports whether password matches hash. A mismatch is (false, nil).
	Verify(password, hash string) (bool, error)
}

// Bcrypt is a Hasher over golang.org/x/crypto/bcrypt. Safe for concurrent use.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a Bcrypt hasher. cost 0 selects DefaultCost.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be in [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Bcrypt{cost: cost}, nil
}

// Hash implements Hasher.
func (b *Bcrypt) Hash(password string) (string, error) {
	if err := checkLength(password); err != nil {
		return "", err
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(out), nil
}

// Verify implements Hasher.
func (b *Bcrypt) Verify(password, hash string) (bool, error) {
	if len(password) > MaxLength {
		return false, ErrTooLong
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}

// NeedsRehash reports whether hash was produced with a different cost than b
// uses, so the caller can re-hash after the next successful login.
func (b *Bcrypt) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	return err != nil || cost != b.cost
}

func checkLength(password string) error {
	switch {
	case len(password) < MinLength:
		return ErrTooShort
	case len(password) > MaxLength:
		return ErrTooLong
	}
	return nil
}
