package accountstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/halinh/authcore"
	"github.com/jackc/pgx/v5/pgconn"
)

// Dialect selects placeholder syntax and duplicate-key detection.
type Dialect int

const (
	// DialectPostgres targets the pgx stdlib driver ("pgx").
	DialectPostgres Dialect = iota
	// DialectSQLite targets modernc.org/sqlite ("sqlite").
	DialectSQLite
)

const accountColumns = `id, email, phone, password_hash, active, locale, timezone, failed_attempts, lock_until`

// SQL persists accounts in a single accounts table through database/sql.
// lock_until holds unix nanoseconds with 0 meaning unlocked.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQL wraps db. The caller owns db and closes it.
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect}
}

// EnsureSchema creates the accounts table when it does not exist.
func (s *SQL) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			locale TEXT NOT NULL DEFAULT '',
			timezone TEXT NOT NULL DEFAULT '',
			failed_attempts INTEGER NOT NULL DEFAULT 0,
			lock_until BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS accounts_email_idx ON accounts (email) WHERE email <> ''`,
		`CREATE UNIQUE INDEX IF NOT EXISTS accounts_phone_idx ON accounts (phone) WHERE phone <> ''`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure accounts schema: %w", err)
		}
	}
	return nil
}

// FindByID implements authcore.AccountRepository.
func (s *SQL) FindByID(ctx context.Context, id string) (*authcore.Account, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`), id)
	return scanAccount(row)
}

// FindByEmail looks an account up by case-insensitive email.
func (s *SQL) FindByEmail(ctx context.Context, email string) (*authcore.Account, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM accounts WHERE email = ?`), normalizeEmail(email))
	return scanAccount(row)
}

// FindByPhone looks an account up by its phone number.
func (s *SQL) FindByPhone(ctx context.Context, phone string) (*authcore.Account, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM accounts WHERE phone = ?`), normalizePhone(phone))
	return scanAccount(row)
}

// Create inserts a new account and fails with ErrDuplicate when the id,
// email or phone is already present.
func (s *SQL) Create(ctx context.Context, account *authcore.Account) error {
	if account == nil || account.ID == "" {
		return ErrInvalidAccount
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`), accountArgs(account)...)
	if err != nil {
		if s.isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// Save implements authcore.AccountRepository. It inserts or replaces the
// whole row, lockout columns included; use UpdatePasswordHash to change
// only the credential.
func (s *SQL) Save(ctx context.Context, account *authcore.Account) error {
	if account == nil || account.ID == "" {
		return ErrInvalidAccount
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			phone = excluded.phone,
			password_hash = excluded.password_hash,
			active = excluded.active,
			locale = excluded.locale,
			timezone = excluded.timezone,
			failed_attempts = excluded.failed_attempts,
			lock_until = excluded.lock_until`), accountArgs(account)...)
	if err != nil {
		if s.isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

// UpdatePasswordHash replaces the stored password hash and leaves every
// other column, the lockout state in particular, untouched.
func (s *SQL) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE accounts SET password_hash = ? WHERE id = ?`), hash, id)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if n == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

// CompareAndSwapLockout implements authcore.AccountRepository with a
// conditional UPDATE on the current lockout columns.
func (s *SQL) CompareAndSwapLockout(ctx context.Context, id string, expected, next authcore.LockoutState) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE accounts
		SET failed_attempts = ?, lock_until = ?
		WHERE id = ? AND failed_attempts = ? AND lock_until = ?`),
		next.FailedAttempts, toNanos(next.LockUntil),
		id, expected.FailedAttempts, toNanos(expected.LockUntil))
	if err != nil {
		return false, fmt.Errorf("update lockout: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update lockout: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM accounts WHERE id = ?`), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, authcore.ErrAccountNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check account: %w", err)
	}
	return false, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQL) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQL) isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return s.dialect == DialectSQLite && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*authcore.Account, error) {
	var (
		a         authcore.Account
		lockUntil int64
	)
	err := row.Scan(&a.ID, &a.Email, &a.Phone, &a.PasswordHash, &a.Active,
		&a.Locale, &a.Timezone, &a.FailedAttempts, &lockUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authcore.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.LockUntil = fromNanos(lockUntil)
	return &a, nil
}

func accountArgs(a *authcore.Account) []any {
	return []any{
		a.ID, normalizeEmail(a.Email), normalizePhone(a.Phone), a.PasswordHash, a.Active,
		a.Locale, a.Timezone, a.FailedAttempts, toNanos(a.LockUntil),
	}
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
