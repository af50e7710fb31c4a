package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"lingkod.org/internal/ids"
	"lingkod.org/internal/portal"
)

// MemoryAccounts implements AccountStore in memory for tests and standalone
// deployments.
type MemoryAccounts struct {
	mu      sync.RWMutex
	byID    map[string]*Account
	byEmail map[string]string // normalized email -> id
	now     func() time.Time
}

// NewMemoryAccounts creates an empty account store.
func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func (s *MemoryAccounts) Create(ctx context.Context, a *Account) error {
	if a == nil {
		return ErrInvalidInput
	}
	email := normalizeEmail(a.Email)
	if email == "" || !strings.Contains(email, "@") {
		return ErrInvalidInput
	}
	if a.Role != portal.RoleOfficial && a.Role != portal.RoleResident {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[email]; taken {
		return ErrEmailTaken
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	a.Email = email
	cp := *a
	s.byID[a.ID] = &cp
	s.byEmail[email] = a.ID
	return nil
}

func (s *MemoryAccounts) Find(ctx context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryAccounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryAccounts) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byEmail, a.Email)
	delete(s.byID, id)
	return nil
}
