package accountstore

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/halinh/authcore"
)

var (
	// ErrDuplicate is returned by Create when the id, email or phone is
	// taken.
	ErrDuplicate = errors.New("account already exists")
	// ErrInvalidAccount is returned for accounts without an id.
	ErrInvalidAccount = errors.New("account id required")
)

// Memory is a mutex-guarded in-process repository. Accounts are copied on
// the way in and out so callers never share state with the store.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]authcore.Account
	byEmail  map[string]string
	byPhone  map[string]string
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{
		accounts: map[string]authcore.Account{},
		byEmail:  map[string]string{},
		byPhone:  map[string]string{},
	}
}

// FindByID implements authcore.AccountRepository.
func (m *Memory) FindByID(_ context.Context, id string) (*authcore.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}
	return &a, nil
}

// FindByEmail looks an account up by case-insensitive email.
func (m *Memory) FindByEmail(_ context.Context, email string) (*authcore.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}
	a := m.accounts[id]
	return &a, nil
}

// FindByPhone looks an account up by its phone number.
func (m *Memory) FindByPhone(_ context.Context, phone string) (*authcore.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byPhone[normalizePhone(phone)]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}
	a := m.accounts[id]
	return &a, nil
}

// Create inserts a new account and fails with ErrDuplicate when the id,
// email or phone is already present.
func (m *Memory) Create(_ context.Context, account *authcore.Account) error {
	if account == nil || account.ID == "" {
		return ErrInvalidAccount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[account.ID]; ok {
		return ErrDuplicate
	}
	if m.claimedByOther(account) {
		return ErrDuplicate
	}
	m.index(account)
	m.accounts[account.ID] = *account
	return nil
}

// Save implements authcore.AccountRepository. It inserts or replaces the
// whole account, lockout fields included; use UpdatePasswordHash to change
// only the credential.
func (m *Memory) Save(_ context.Context, account *authcore.Account) error {
	if account == nil || account.ID == "" {
		return ErrInvalidAccount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claimedByOther(account) {
		return ErrDuplicate
	}
	if prev, ok := m.accounts[account.ID]; ok {
		delete(m.byEmail, normalizeEmail(prev.Email))
		delete(m.byPhone, normalizePhone(prev.Phone))
	}
	m.index(account)
	m.accounts[account.ID] = *account
	return nil
}

// UpdatePasswordHash replaces the stored password hash and nothing else.
func (m *Memory) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return authcore.ErrAccountNotFound
	}
	a.PasswordHash = hash
	m.accounts[id] = a
	return nil
}

func (m *Memory) claimedByOther(account *authcore.Account) bool {
	if email := normalizeEmail(account.Email); email != "" {
		if owner, ok := m.byEmail[email]; ok && owner != account.ID {
			return true
		}
	}
	if phone := normalizePhone(account.Phone); phone != "" {
		if owner, ok := m.byPhone[phone]; ok && owner != account.ID {
			return true
		}
	}
	return false
}

func (m *Memory) index(account *authcore.Account) {
	if email := normalizeEmail(account.Email); email != "" {
		m.byEmail[email] = account.ID
	}
	if phone := normalizePhone(account.Phone); phone != "" {
		m.byPhone[phone] = account.ID
	}
}

// CompareAndSwapLockout implements authcore.AccountRepository.
func (m *Memory) CompareAndSwapLockout(_ context.Context, id string, expected, next authcore.LockoutState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return false, authcore.ErrAccountNotFound
	}
	if !a.Lockout().Equal(expected) {
		return false, nil
	}
	a.FailedAttempts = next.FailedAttempts
	a.LockUntil = next.LockUntil
	m.accounts[id] = a
	return true, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizePhone(phone string) string {
	return strings.TrimSpace(phone)
}
