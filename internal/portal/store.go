package portal

import (
	"context"
	"time"
)

// Store describes the tabular surface of the external backing service. The
// coordinators never know which implementation is active.
type Store interface {
	Profiles(ctx context.Context) ProfileStore
	Requests(ctx context.Context) RequestStore
	History(ctx context.Context) HistoryStore
}

// ProfileStore manages resident profiles.
type ProfileStore interface {
	Create(ctx context.Context, r *Resident) error
	Find(ctx context.Context, id string) (*Resident, error)
	FindByIdentity(ctx context.Context, identityID string) (*Resident, error)
	List(ctx context.Context) ([]*Resident, error)
	Update(ctx context.Context, id string, upd ResidentUpdate) (*Resident, error)
	SetStatus(ctx context.Context, id string, status ResidentStatus) error
	// Delete removes the profile only; the resident's certificate requests
	// remain, identified by their denormalized resident name.
	Delete(ctx context.Context, id string) error
}

// ResidentUpdate carries optional field changes; nil means unchanged.
type ResidentUpdate struct {
	FirstName  *string
	MiddleName *string
	LastName   *string
	Age        *int
	Address    *string
	Contact    *string
}

// RequestStore manages certificate requests.
type RequestStore interface {
	Create(ctx context.Context, req *CertificateRequest) error
	Find(ctx context.Context, id string) (*CertificateRequest, error)
	List(ctx context.Context) ([]*CertificateRequest, error)
	// SetStatus moves a Pending request to a terminal status, stamps the
	// processing time, and appends the matching history entry in the same
	// operation. A request that is already terminal yields ErrTerminalStatus.
	SetStatus(ctx context.Context, id string, status RequestStatus, processedAt time.Time, note string) error
}

// HistoryStore reads the append-only status transition log.
type HistoryStore interface {
	ListByRequest(ctx context.Context, requestID string) ([]StatusHistoryEntry, error)
}
