package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"lingkod.org/internal/portal"
)

const defaultSessionTTL = 12 * time.Hour

// LocalProvider implements Provider against an AccountStore. Sessions are
// JWTs minted locally and persisted to a state directory so they survive
// restarts, mirroring the per-browser session key of hosted providers.
type LocalProvider struct {
	accounts AccountStore
	stateDir string
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	current   *Session
	restored  bool
	listeners map[int]Listener
	nextSub   int
}

// LocalOption configures LocalProvider behavior.
type LocalOption func(*LocalProvider)

// WithStateDir persists the active session under dir. Empty disables
// persistence.
func WithStateDir(dir string) LocalOption {
	return func(p *LocalProvider) { p.stateDir = dir }
}

// WithSessionTTL overrides the session token lifetime.
func WithSessionTTL(ttl time.Duration) LocalOption {
	return func(p *LocalProvider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithProviderClock overrides the time source (useful for tests).
func WithProviderClock(fn func() time.Time) LocalOption {
	return func(p *LocalProvider) {
		if fn != nil {
			p.now = fn
		}
	}
}

// NewLocalProvider constructs a provider over the given account store.
func NewLocalProvider(accounts AccountStore, opts ...LocalOption) *LocalProvider {
	p := &LocalProvider{
		accounts:  accounts,
		ttl:       defaultSessionTTL,
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignUp creates an account and auto-authenticates it.
func (p *LocalProvider) SignUp(ctx context.Context, email, password string, role portal.Role) (string, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return "", ErrInvalidInput
	}
	account := &Account{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	}
	if err := p.accounts.Create(ctx, account); err != nil {
		return "", err
	}
	if _, err := p.establish(account); err != nil {
		return "", err
	}
	return account.ID, nil
}

// SignIn verifies credentials and establishes a session.
func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	account, err := p.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := VerifyPassword(account.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return p.establish(account)
}

func (p *LocalProvider) establish(account *Account) (*Session, error) {
	token, err := GenerateToken(account.ID, account.Role, p.ttl)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		Identity:  account.ID,
		Email:     account.Email,
		Role:      string(account.Role),
		Token:     token,
		ExpiresAt: p.now().UTC().Add(p.ttl),
	}

	p.mu.Lock()
	p.current = sess
	p.restored = true
	p.mu.Unlock()

	if err := saveSessionState(p.stateDir, sess); err != nil {
		// The session is still valid for this process; it just will not
		// survive a restart.
		_ = err
	}
	p.emit(EventSignedIn, sess)
	return sess, nil
}

// SignOut invalidates the current session.
func (p *LocalProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	had := p.current != nil
	p.current = nil
	p.restored = true
	p.mu.Unlock()

	clearSessionState(p.stateDir)
	if had {
		p.emit(EventSignedOut, nil)
	}
	return nil
}

// CurrentSession returns the active session, restoring persisted state on
// first use. Expired or invalid persisted tokens are discarded silently.
func (p *LocalProvider) CurrentSession(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if !p.restored {
		p.restored = true
		if sess := loadSessionState(p.stateDir); sess != nil {
			if _, err := ParseAndValidate(sess.Token); err == nil {
				p.current = sess
			} else {
				clearSessionState(p.stateDir)
			}
		}
	}
	sess := p.current
	p.mu.Unlock()

	if sess == nil {
		return nil, nil
	}
	if !sess.ExpiresAt.IsZero() && p.now().After(sess.ExpiresAt) {
		_ = p.SignOut(ctx)
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

// Subscribe registers a listener for auth-state changes.
func (p *LocalProvider) Subscribe(fn Listener) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *LocalProvider) emit(kind EventKind, sess *Session) {
	p.mu.Lock()
	fns := make([]Listener, 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		var cp *Session
		if sess != nil {
			c := *sess
			cp = &c
		}
		fn(kind, cp)
	}
}

var _ Provider = (*LocalProvider)(nil)
