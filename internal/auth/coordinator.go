package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	"lingkod.org/internal/obs"
	"lingkod.org/internal/portal"
	"lingkod.org/internal/session"
)

const minPasswordLength = 8

// Binder attaches data synchronization to a signed-in identity and detaches
// it again on sign-out.
type Binder interface {
	Bind(ctx context.Context, identity string) error
	Unbind()
}

// Registrar creates the portal profile for a freshly signed-up identity.
type Registrar interface {
	RegisterProfile(ctx context.Context, in portal.RegistrationInput) (*portal.Resident, error)
}

// Result is the caller-facing outcome of a login or registration attempt.
// Expected failures (wrong password, pending approval) come back as OK=false
// with a message rather than as errors.
type Result struct {
	OK      bool     `json:"ok"`
	Message string   `json:"message,omitempty"`
	Session *Session `json:"session,omitempty"`
}

// Coordinator drives the session store from provider events. It is the only
// writer of session state: it restores persisted sessions on start, resolves
// identities to principals through the directory, and binds or unbinds data
// synchronization as sessions come and go.
type Coordinator struct {
	provider  Provider
	directory Directory
	sessions  *session.Store
	binder    Binder
	registrar Registrar

	settle sync.Once

	mu    sync.Mutex
	unsub func()
}

// CoordOption configures the coordinator.
type CoordOption func(*Coordinator)

// WithBinder attaches a data-synchronization binder.
func WithBinder(b Binder) CoordOption {
	return func(c *Coordinator) { c.binder = b }
}

// WithRegistrar attaches a profile registrar for signups.
func WithRegistrar(r Registrar) CoordOption {
	return func(c *Coordinator) { c.registrar = r }
}

// NewCoordinator wires the auth coordinator. Call Start before use.
func NewCoordinator(provider Provider, directory Directory, sessions *session.Store, opts ...CoordOption) *Coordinator {
	c := &Coordinator{
		provider:  provider,
		directory: directory,
		sessions:  sessions,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes to provider events and restores any persisted session.
// ctx should span the process lifetime; it scopes the data bindings created
// for restored and future sessions.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	c.unsub = c.provider.Subscribe(func(kind EventKind, sess *Session) {
		c.onAuthChange(ctx, kind, sess)
	})
	c.mu.Unlock()

	c.restore(ctx)
}

// Close detaches the coordinator from the provider and releases bindings.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	c.mu.Unlock()
	if c.binder != nil {
		c.binder.Unbind()
	}
}

func (c *Coordinator) restore(ctx context.Context) {
	defer c.settled()

	sess, err := c.provider.CurrentSession(ctx)
	if err != nil {
		obs.LogRequest(map[string]any{
			"level": "warn",
			"msg":   "session restore failed",
			"err":   err.Error(),
		})
		return
	}
	if sess == nil {
		return
	}
	if err := c.adopt(ctx, sess); err != nil {
		obs.LogRequest(map[string]any{
			"level": "warn",
			"msg":   "restored session discarded",
			"err":   err.Error(),
		})
	}
}

// onAuthChange mirrors provider events into the session store.
func (c *Coordinator) onAuthChange(ctx context.Context, kind EventKind, sess *Session) {
	defer c.settled()

	switch kind {
	case EventSignedIn, EventTokenRefreshed:
		if sess == nil {
			return
		}
		if err := c.adopt(ctx, sess); err != nil {
			obs.LogRequest(map[string]any{
				"level":    "warn",
				"msg":      "session not adopted",
				"identity": sess.Identity,
				"err":      err.Error(),
			})
		}
	case EventSignedOut:
		if c.binder != nil {
			c.binder.Unbind()
		}
		c.sessions.Clear()
	}
}

// settled clears the loading flag. Exactly one caller wins, whether the
// initial restore or a provider event lands first.
func (c *Coordinator) settled() {
	c.settle.Do(func() { c.sessions.SetLoading(false) })
}

// adopt resolves the session's identity to a principal and publishes it.
// Sessions that cannot be resolved, or that belong to residents still
// awaiting approval, are signed back out.
func (c *Coordinator) adopt(ctx context.Context, sess *Session) error {
	p, err := c.directory.Resolve(ctx, sess.Identity)
	if err != nil {
		c.discard(ctx)
		return err
	}
	if p.Role == portal.RoleResident && (p.Resident == nil || p.Resident.Status != portal.ResidentStatusActive) {
		c.discard(ctx)
		return ErrPendingApproval
	}
	if c.binder != nil {
		if err := c.binder.Bind(ctx, sess.Identity); err != nil {
			obs.LogRequest(map[string]any{
				"level":    "warn",
				"msg":      "data bind failed",
				"identity": sess.Identity,
				"err":      err.Error(),
			})
		}
	}
	c.sessions.SetPrincipal(&p)
	return nil
}

func (c *Coordinator) discard(ctx context.Context) {
	_ = c.provider.SignOut(ctx)
	if c.binder != nil {
		c.binder.Unbind()
	}
	c.sessions.Clear()
}

// Login authenticates credentials and resolves the principal before
// returning, so the caller observes the final session state rather than a
// transient one.
func (c *Coordinator) Login(ctx context.Context, email, password string) (Result, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Result{Message: "email and password are required"}, nil
	}

	sess, err := c.provider.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return Result{Message: "invalid email or password"}, nil
		}
		return Result{}, err
	}

	// The provider already announced the sign-in; adopting again here is
	// idempotent and gives this caller the authoritative outcome.
	if err := c.adopt(ctx, sess); err != nil {
		switch {
		case errors.Is(err, ErrPendingApproval):
			return Result{Message: "account pending approval"}, nil
		case errors.Is(err, ErrNotFound):
			return Result{Message: "no profile found for this account"}, nil
		default:
			return Result{}, err
		}
	}
	return Result{OK: true, Session: sess}, nil
}

// Logout signs the current session out. The provider event clears the
// session store and unbinds data synchronization.
func (c *Coordinator) Logout(ctx context.Context) error {
	return c.provider.SignOut(ctx)
}

// RegisterInput is a resident signup form.
type RegisterInput struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FirstName  string `json:"first_name"`
	MiddleName string `json:"middle_name,omitempty"`
	LastName   string `json:"last_name"`
	Age        int    `json:"age"`
	Address    string `json:"address"`
	Contact    string `json:"contact"`
}

func (in RegisterInput) validate() string {
	switch {
	case !strings.Contains(in.Email, "@"):
		return "a valid email is required"
	case len(in.Password) < minPasswordLength:
		return "password must be at least 8 characters"
	case strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "":
		return "first and last name are required"
	case in.Age <= 0:
		return "age must be positive"
	case strings.TrimSpace(in.Address) == "":
		return "address is required"
	}
	return ""
}

// Register creates a resident account and its profile. The new account is
// signed back out immediately: residents stay in Pending Approval until an
// official activates them, and only then may they log in.
func (c *Coordinator) Register(ctx context.Context, in RegisterInput) (Result, error) {
	if msg := in.validate(); msg != "" {
		return Result{Message: msg}, nil
	}
	if c.registrar == nil {
		return Result{}, errors.New("auth: no registrar configured")
	}

	identity, err := c.provider.SignUp(ctx, strings.TrimSpace(in.Email), in.Password, portal.RoleResident)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return Result{Message: "email already registered"}, nil
		}
		if errors.Is(err, ErrInvalidInput) {
			return Result{Message: "a valid email is required"}, nil
		}
		return Result{}, err
	}

	if _, err := c.registrar.RegisterProfile(ctx, portal.RegistrationInput{
		IdentityID: identity,
		FirstName:  strings.TrimSpace(in.FirstName),
		MiddleName: strings.TrimSpace(in.MiddleName),
		LastName:   strings.TrimSpace(in.LastName),
		Age:        in.Age,
		Address:    strings.TrimSpace(in.Address),
		Contact:    strings.TrimSpace(in.Contact),
		Email:      strings.TrimSpace(in.Email),
	}); err != nil {
		_ = c.provider.SignOut(ctx)
		return Result{}, err
	}

	// The provider auto-authenticates signups; hand the session straight
	// back so the account waits for approval signed out.
	_ = c.provider.SignOut(ctx)
	return Result{OK: true, Message: "registration submitted for approval"}, nil
}
