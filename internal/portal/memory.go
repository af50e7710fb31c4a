package portal

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"lingkod.org/internal/ids"
	"lingkod.org/internal/stream"
)

// MemoryStore implements Store with in-process concurrency safety. It backs
// tests and standalone (no database) deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	residents map[string]*Resident
	requests  map[string]*CertificateRequest
	history   map[string][]StatusHistoryEntry // request id -> entries

	events *stream.Stream
	now    func() time.Time
}

// MemoryOption configures MemoryStore behavior.
type MemoryOption func(*MemoryStore)

// WithEvents publishes change notifications for every mutation.
func WithEvents(events *stream.Stream) MemoryOption {
	return func(s *MemoryStore) { s.events = events }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		residents: make(map[string]*Resident),
		requests:  make(map[string]*CertificateRequest),
		history:   make(map[string][]StatusHistoryEntry),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Profiles(context.Context) ProfileStore { return (*memProfiles)(s) }
func (s *MemoryStore) Requests(context.Context) RequestStore { return (*memRequests)(s) }
func (s *MemoryStore) History(context.Context) HistoryStore  { return (*memHistory)(s) }

func (s *MemoryStore) notify(table, kind, id string) {
	if s.events != nil {
		s.events.Notify(table, kind, id)
	}
}

// Profiles -----------------------------------------------------------------

type memProfiles MemoryStore

func (s *memProfiles) Create(ctx context.Context, r *Resident) error {
	if r == nil || strings.TrimSpace(r.FirstName) == "" || strings.TrimSpace(r.LastName) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	if r.ID == "" {
		r.ID = ids.New()
	}
	now := s.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	cp := *r
	s.residents[r.ID] = &cp
	s.mu.Unlock()

	(*MemoryStore)(s).notify(stream.TableProfiles, stream.KindInsert, r.ID)
	return nil
}

func (s *memProfiles) Find(ctx context.Context, id string) (*Resident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.residents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memProfiles) FindByIdentity(ctx context.Context, identityID string) (*Resident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.residents {
		if r.IdentityID == identityID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memProfiles) List(ctx context.Context) ([]*Resident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Resident, 0, len(s.residents))
	for _, r := range s.residents {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memProfiles) Update(ctx context.Context, id string, upd ResidentUpdate) (*Resident, error) {
	s.mu.Lock()
	r, ok := s.residents[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if upd.FirstName != nil {
		r.FirstName = *upd.FirstName
	}
	if upd.MiddleName != nil {
		r.MiddleName = *upd.MiddleName
	}
	if upd.LastName != nil {
		r.LastName = *upd.LastName
	}
	if upd.Age != nil {
		r.Age = *upd.Age
	}
	if upd.Address != nil {
		r.Address = *upd.Address
	}
	if upd.Contact != nil {
		r.Contact = *upd.Contact
	}
	r.UpdatedAt = s.now().UTC()
	cp := *r
	s.mu.Unlock()

	(*MemoryStore)(s).notify(stream.TableProfiles, stream.KindUpdate, id)
	return &cp, nil
}

func (s *memProfiles) SetStatus(ctx context.Context, id string, status ResidentStatus) error {
	s.mu.Lock()
	r, ok := s.residents[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = s.now().UTC()
	s.mu.Unlock()

	(*MemoryStore)(s).notify(stream.TableProfiles, stream.KindUpdate, id)
	return nil
}

func (s *memProfiles) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.residents[id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.residents, id)
	s.mu.Unlock()

	(*MemoryStore)(s).notify(stream.TableProfiles, stream.KindDelete, id)
	return nil
}

// Requests -----------------------------------------------------------------

type memRequests MemoryStore

func (s *memRequests) Create(ctx context.Context, req *CertificateRequest) error {
	if req == nil || !ValidCertificateType(req.CertificateType) {
		return ErrInvalidInput
	}
	if strings.TrimSpace(req.ResidentID) == "" || strings.TrimSpace(req.Purpose) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	if req.ID == "" {
		req.ID = ids.New()
	}
	if req.Status == "" {
		req.Status = RequestStatusPending
	}
	if req.DateRequested.IsZero() {
		req.DateRequested = s.now().UTC()
	}
	cp := *req
	s.requests[req.ID] = &cp
	s.mu.Unlock()

	(*MemoryStore)(s).notify(stream.TableRequests, stream.KindInsert, req.ID)
	return nil
}

func (s *memRequests) Find(ctx context.Context, id string) (*CertificateRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *memRequests) List(ctx context.Context) ([]*CertificateRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*CertificateRequest, 0, len(s.requests))
	for _, req := range s.requests {
		cp := *req
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memRequests) SetStatus(ctx context.Context, id string, status RequestStatus, processedAt time.Time, note string) error {
	if !status.Terminal() {
		return ErrInvalidInput
	}
	s.mu.Lock()
	req, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if req.Status.Terminal() {
		s.mu.Unlock()
		return ErrTerminalStatus
	}
	req.Status = status
	at := processedAt.UTC()
	req.DateProcessed = &at
	s.history[id] = append(s.history[id], StatusHistoryEntry{
		ID:        ids.New(),
		RequestID: id,
		Status:    status,
		Note:      note,
		CreatedAt: at,
	})
	s.mu.Unlock()

	(*MemoryStore)(s).notify(stream.TableRequests, stream.KindUpdate, id)
	return nil
}

// History ------------------------------------------------------------------

type memHistory MemoryStore

func (s *memHistory) ListByRequest(ctx context.Context, requestID string) ([]StatusHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[requestID]
	out := make([]StatusHistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}
