package auth

import (
	"context"
	"time"

	"lingkod.org/internal/portal"
)

// EventKind classifies auth-state change notifications.
type EventKind string

const (
	EventSignedIn       EventKind = "signed_in"
	EventSignedOut      EventKind = "signed_out"
	EventTokenRefreshed EventKind = "token_refreshed"
)

// Session is an authenticated session as reported by the provider.
type Session struct {
	Identity  string    `json:"identity"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Listener receives auth-state change events. The session is nil on
// signed-out events.
type Listener func(kind EventKind, sess *Session)

// Provider is the authentication surface of the external backing service.
// The coordinator never constructs identities itself; it only observes them
// through this contract.
type Provider interface {
	// SignUp creates an identity. The provider auto-authenticates the new
	// identity, matching hosted providers; callers that want "register, then
	// log in separately" must sign the session back out.
	SignUp(ctx context.Context, email, password string, role portal.Role) (identity string, err error)
	// SignIn verifies credentials and establishes a session.
	SignIn(ctx context.Context, email, password string) (*Session, error)
	// SignOut invalidates the current session, if any.
	SignOut(ctx context.Context) error
	// CurrentSession returns the existing valid session or nil.
	CurrentSession(ctx context.Context) (*Session, error)
	// Subscribe registers a listener for session changes and returns its
	// unsubscribe function.
	Subscribe(fn Listener) (unsubscribe func())
}

// Account is a stored credential record. Officials carry a display name;
// residents are described by their portal profile instead.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         portal.Role
	Name         string
	CreatedAt    time.Time
}

// AccountStore persists credential records.
type AccountStore interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	Delete(ctx context.Context, id string) error
}
