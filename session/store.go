package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/halinh/authcore/clock"
	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes every session key unless configured otherwise.
const DefaultNamespace = "authcore:token"

const scanBatch = 500

var (
	// ErrNotFound is returned when no live record exists for a user and version.
	ErrNotFound = errors.New("session not found")

	// ErrUnavailable wraps every Redis failure. Callers must treat it as a
	// hard authentication failure, never as "not revoked".
	ErrUnavailable = errors.New("session store unavailable")

	// ErrInvalidKey is returned for user IDs or versions that would break the
	// <namespace>:<userId>:<version> key convention.
	ErrInvalidKey = errors.New("invalid session key component")

	// ErrCorrupt is returned when a stored blob cannot be decoded or does not
	// belong to the key it was read from.
	ErrCorrupt = errors.New("session record corrupt")
)

// PartialDeleteError reports a bulk delete that removed only some records.
// Failed lists the keys that may still be live.
type PartialDeleteError struct {
	Deleted int
	Failed  []string
	Cause   error
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("partial session delete: %d deleted, %d failed: %v", e.Deleted, len(e.Failed), e.Cause)
}

func (e *PartialDeleteError) Unwrap() error {
	return e.Cause
}

// Store persists session records in Redis under
// <namespace>:<userId>:<version>, with a TTL equal to the refresh lifetime.
//
// Store is safe for concurrent use.
type Store struct {
	redis     redis.UniversalClient
	namespace string
	clock     clock.Clock
}

// NewStore creates a [Store] backed by the given Redis client. An empty
// namespace uses [DefaultNamespace]; a nil clock uses the system clock.
func NewStore(rdb redis.UniversalClient, namespace string, clk clock.Clock) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{
		redis:     rdb,
		namespace: namespace,
		clock:     clk,
	}
}

// Namespace returns the key prefix in use.
func (s *Store) Namespace() string {
	return s.namespace
}

// ValidateKeyPart rejects empty components and any component containing the
// key separator or a SCAN glob metacharacter.
func ValidateKeyPart(part string) error {
	if part == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(part) > 255 {
		return fmt.Errorf("%w: too long", ErrInvalidKey)
	}
	if strings.ContainsAny(part, `:*?[]\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, part)
	}
	return nil
}

func (s *Store) key(userID, version string) string {
	return s.namespace + ":" + userID + ":" + version
}

func (s *Store) userPattern(userID string) string {
	return escapeGlob(s.namespace) + ":" + userID + ":*"
}

func escapeGlob(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Put writes rec with the given TTL, replacing any record under the same
// user and version.
func (s *Store) Put(ctx context.Context, rec *Record, ttl time.Duration) error {
	if err := ValidateKeyPart(rec.UserID); err != nil {
		return err
	}
	if err := ValidateKeyPart(rec.Version); err != nil {
		return err
	}
	if ttl <= 0 {
		return errors.New("session ttl must be > 0")
	}

	data, err := Encode(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(rec.UserID, rec.Version), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get loads the record for (userID, version). Absent and expired records
// both yield [ErrNotFound].
func (s *Store) Get(ctx context.Context, userID, version string) (*Record, error) {
	if err := ValidateKeyPart(userID); err != nil {
		return nil, err
	}
	if err := ValidateKeyPart(version); err != nil {
		return nil, err
	}

	data, err := s.redis.Get(ctx, s.key(userID, version)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if rec.UserID != userID || rec.Version != version {
		return nil, fmt.Errorf("%w: key/record mismatch", ErrCorrupt)
	}
	if rec.Expired(s.clock.Now()) {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Delete removes one record. Deleting an absent record is not an error.
func (s *Store) Delete(ctx context.Context, userID, version string) error {
	if err := ValidateKeyPart(userID); err != nil {
		return err
	}
	if err := ValidateKeyPart(version); err != nil {
		return err
	}
	if err := s.redis.Del(ctx, s.key(userID, version)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteAllForUser enumerates every record under the user's prefix and
// deletes them in one pipeline. It returns the number of keys removed.
//
// When some deletes fail the error is a [*PartialDeleteError] joined with
// [ErrUnavailable]. A record written after enumeration finishes is not
// removed; callers accept that window for global logout.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	if err := ValidateKeyPart(userID); err != nil {
		return 0, err
	}

	keys, err := s.scanKeys(ctx, s.userPattern(userID))
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Del(ctx, key)
	}
	_, execErr := pipe.Exec(ctx)

	deleted := 0
	var failed []string
	var cause error
	for i, cmd := range cmds {
		n, cmdErr := cmd.Result()
		if cmdErr != nil {
			failed = append(failed, keys[i])
			if cause == nil {
				cause = cmdErr
			}
			continue
		}
		deleted += int(n)
	}
	if len(failed) > 0 {
		return deleted, errors.Join(ErrUnavailable, &PartialDeleteError{Deleted: deleted, Failed: failed, Cause: cause})
	}
	if execErr != nil {
		return deleted, fmt.Errorf("%w: %v", ErrUnavailable, execErr)
	}
	return deleted, nil
}

// List returns the user's live records sorted newest first. Records that
// vanish or expire between enumeration and read are skipped, as are blobs
// that fail to decode.
func (s *Store) List(ctx context.Context, userID string) ([]*Record, error) {
	if err := ValidateKeyPart(userID); err != nil {
		return nil, err
	}

	keys, err := s.scanKeys(ctx, s.userPattern(userID))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []*Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	_, err = pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := s.clock.Now()
	records := make([]*Record, 0, len(keys))
	for _, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, cmdErr)
		}
		rec, decErr := Decode(data)
		if decErr != nil || rec.UserID != userID {
			continue
		}
		if rec.Expired(now) {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].Version > records[j].Version
	})
	return records, nil
}

// Repair scans the whole namespace and applies ttl to every record stored
// without an expiry. It returns how many records were fixed.
//
// This is an O(n) maintenance pass and must not run on request paths.
func (s *Store) Repair(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, errors.New("repair ttl must be > 0")
	}

	keys, err := s.scanKeys(ctx, escapeGlob(s.namespace)+":*")
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	ttlCmds := make([]*redis.DurationCmd, len(keys))
	for i, key := range keys {
		ttlCmds[i] = pipe.TTL(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	fix := s.redis.Pipeline()
	var expireCmds []*redis.BoolCmd
	for i, cmd := range ttlCmds {
		// go-redis reports "no expiry" as a raw -1, not -1s.
		if cmd.Val() == -1 {
			expireCmds = append(expireCmds, fix.Expire(ctx, keys[i], ttl))
		}
	}
	if len(expireCmds) == 0 {
		return 0, nil
	}
	if _, err := fix.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	fixed := 0
	for _, cmd := range expireCmds {
		if cmd.Val() {
			fixed++
		}
	}
	return fixed, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}

// scanKeys walks SCAN MATCH pattern to completion. On a cluster client every
// master is scanned.
func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	if cluster, ok := s.redis.(*redis.ClusterClient); ok {
		var (
			keys []string
			mu   sync.Mutex
		)
		err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			found, err := scanNode(ctx, node, pattern)
			if err != nil {
				return err
			}
			mu.Lock()
			keys = append(keys, found...)
			mu.Unlock()
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return keys, nil
	}

	keys, err := scanNode(ctx, s.redis, pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return keys, nil
}

func scanNode(ctx context.Context, c redis.Cmdable, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	seen := make(map[string]struct{})
	for {
		batch, next, err := c.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			// SCAN may return a key more than once.
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
