// Package ids mints the identifiers used across authcore: token versions,
// audit event IDs and refresh-token fingerprints.
package ids

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ErrInvalidVersion is returned when a token version does not parse as a ULID.
var ErrInvalidVersion = errors.New("invalid token version")

// VersionSource mints token versions. Versions are ULIDs: 48 bits of
// millisecond time followed by 80 bits of entropy. Within one source the
// entropy is monotonic, so two versions minted in the same millisecond still
// sort in issuance order and never collide.
type VersionSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewVersionSource returns a source drawing entropy from r. A nil r uses
// crypto/rand.
func NewVersionSource(r io.Reader) *VersionSource {
	if r == nil {
		r = rand.Reader
	}
	return &VersionSource{entropy: ulid.Monotonic(r, 0)}
}

// Next returns a fresh version stamped with now.
func (s *VersionSource) Next(now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// VersionTime returns the issuance time encoded in version.
func VersionTime(version string) (time.Time, error) {
	id, err := ulid.ParseStrict(version)
	if err != nil {
		return time.Time{}, ErrInvalidVersion
	}
	return ulid.Time(id.Time()).UTC(), nil
}

// ValidVersion reports whether version is a well-formed ULID.
func ValidVersion(version string) bool {
	_, err := ulid.ParseStrict(version)
	return err == nil
}

// NewEventID returns a random UUID for audit events.
func NewEventID() string {
	return uuid.NewString()
}

// HashToken fingerprints a signed token for server-side storage.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// EqualHash compares two fingerprints in constant time.
func EqualHash(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
