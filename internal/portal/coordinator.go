package portal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"lingkod.org/internal/ids"
	"lingkod.org/internal/obs"
	"lingkod.org/internal/stream"
)

// Coordinator owns the session's visible slice of residents and certificate
// requests and keeps it fresh against the store. Every mutation and every
// realtime change notification triggers a full fetch-then-replace refresh;
// redundant refreshes are wasted work, never incorrect state.
// AccountRemover deletes the credential record behind an identity. It frees
// the email for re-registration when a resident profile is removed.
type AccountRemover interface {
	Delete(ctx context.Context, identityID string) error
}

type Coordinator struct {
	store    Store
	events   *stream.Stream
	accounts AccountRemover
	now      func() time.Time

	mu            sync.RWMutex
	residents     []*Resident
	requests      []*CertificateRequest
	notifications []*Notification

	watchMu     sync.Mutex
	cancelWatch context.CancelFunc
}

// CoordinatorOption configures Coordinator behavior.
type CoordinatorOption func(*Coordinator)

// WithAccountRemover cascades resident deletion to the credential store.
func WithAccountRemover(r AccountRemover) CoordinatorOption {
	return func(c *Coordinator) { c.accounts = r }
}

// WithCoordinatorClock overrides the time source (useful for tests).
func WithCoordinatorClock(fn func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCoordinator constructs a Coordinator over the given store. The events
// stream may be nil, in which case realtime refresh is disabled.
func NewCoordinator(store Store, events *stream.Stream, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:  store,
		events: events,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind adopts a session identity: it loads the initial snapshot and opens the
// long-lived realtime subscription on the request table. A previous
// subscription, if any, is closed first so nothing leaks across logout/login
// cycles.
func (c *Coordinator) Bind(ctx context.Context, identity string) error {
	c.watchMu.Lock()
	if c.cancelWatch != nil {
		c.cancelWatch()
		c.cancelWatch = nil
	}
	if c.events != nil {
		wctx, cancel := context.WithCancel(context.Background())
		c.cancelWatch = cancel
		ch := c.events.SubscribeTable(wctx, stream.TableRequests)
		go c.watch(wctx, ch)
	}
	c.watchMu.Unlock()

	return c.RefreshAll(ctx)
}

// Unbind closes the realtime subscription when the owning session ends.
func (c *Coordinator) Unbind() {
	c.watchMu.Lock()
	if c.cancelWatch != nil {
		c.cancelWatch()
		c.cancelWatch = nil
	}
	c.watchMu.Unlock()
}

func (c *Coordinator) watch(ctx context.Context, ch <-chan stream.ChangeEvent) {
	for range ch {
		// Any change on the request table invalidates the whole snapshot.
		if err := c.RefreshAll(ctx); err != nil {
			obs.LogRequest(map[string]any{
				"level": "warn",
				"msg":   "realtime refresh failed",
				"err":   err.Error(),
			})
		}
	}
}

// RefreshAll loads both collections in parallel and replaces the local
// snapshot wholesale.
func (c *Coordinator) RefreshAll(ctx context.Context) error {
	var (
		wg        sync.WaitGroup
		residents []*Resident
		requests  []*CertificateRequest
		resErr    error
		reqErr    error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		residents, resErr = c.store.Profiles(ctx).List(ctx)
	}()
	go func() {
		defer wg.Done()
		requests, reqErr = c.store.Requests(ctx).List(ctx)
	}()
	wg.Wait()

	if resErr != nil {
		return fmt.Errorf("refresh profiles: %w", resErr)
	}
	if reqErr != nil {
		return fmt.Errorf("refresh requests: %w", reqErr)
	}

	c.mu.Lock()
	c.residents = residents
	c.requests = requests
	c.mu.Unlock()

	obs.CountSnapshotRefresh()
	return nil
}

// Residents returns a copy of the current profile snapshot.
func (c *Coordinator) Residents() []*Resident {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Resident, len(c.residents))
	copy(out, c.residents)
	return out
}

// Requests returns a copy of the current request snapshot.
func (c *Coordinator) Requests() []*CertificateRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*CertificateRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// AddRequestInput carries the fields for a new certificate request.
type AddRequestInput struct {
	CertificateType CertificateType
	Purpose         string
	Notes           string
	ValidIDFile     string
	ResidentID      string
	ResidentName    string
}

// AddRequest inserts a new Pending request stamped with the current time and
// refreshes the snapshot.
func (c *Coordinator) AddRequest(ctx context.Context, in AddRequestInput) (*CertificateRequest, error) {
	if !ValidCertificateType(in.CertificateType) {
		return nil, fmt.Errorf("%w: unknown certificate type %q", ErrInvalidInput, in.CertificateType)
	}
	if strings.TrimSpace(in.Purpose) == "" {
		return nil, fmt.Errorf("%w: purpose is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.ResidentID) == "" {
		return nil, fmt.Errorf("%w: resident_id is required", ErrInvalidInput)
	}

	req := &CertificateRequest{
		ResidentID:      in.ResidentID,
		ResidentName:    strings.TrimSpace(in.ResidentName),
		CertificateType: in.CertificateType,
		Purpose:         strings.TrimSpace(in.Purpose),
		Notes:           strings.TrimSpace(in.Notes),
		ValidIDFile:     strings.TrimSpace(in.ValidIDFile),
		Status:          RequestStatusPending,
		DateRequested:   c.now().UTC(),
	}
	if err := c.store.Requests(ctx).Create(ctx, req); err != nil {
		return nil, err
	}

	c.pushNotification(&Notification{
		Title:       "New Certificate Request",
		Description: fmt.Sprintf("%s requested a %s", req.ResidentName, req.CertificateType),
		Kind:        NotificationPending,
		RequestID:   req.ID,
	})
	obs.CountRequestAction("created")

	if err := c.RefreshAll(ctx); err != nil {
		return nil, err
	}
	return req, nil
}

// UpdateRequestStatus moves a Pending request to Approved or Denied, stamps
// the processing time, records the history entry, and refreshes. Terminal
// requests are rejected.
func (c *Coordinator) UpdateRequestStatus(ctx context.Context, id string, status RequestStatus, note string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: status must be %s or %s", ErrInvalidInput, RequestStatusApproved, RequestStatusDenied)
	}
	processedAt := c.now().UTC()
	if err := c.store.Requests(ctx).SetStatus(ctx, id, status, processedAt, note); err != nil {
		return err
	}

	if status == RequestStatusApproved {
		if req, err := c.store.Requests(ctx).Find(ctx, id); err == nil {
			c.pushNotification(&Notification{
				Title:       "Certificate Approved",
				Description: fmt.Sprintf("%s for %s has been approved", req.CertificateType, req.ResidentName),
				Kind:        NotificationApproved,
				RequestID:   id,
			})
		}
		obs.CountRequestAction("approved")
	} else {
		obs.CountRequestAction("denied")
	}

	return c.RefreshAll(ctx)
}

// RequestsForResident filters the local snapshot; no store call.
func (c *Coordinator) RequestsForResident(residentID string) []*CertificateRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*CertificateRequest
	for _, req := range c.requests {
		if req.ResidentID == residentID {
			out = append(out, req)
		}
	}
	return out
}

// RequestHistory fetches the ordered transition log for one request. A
// request with no transitions yields an empty slice.
func (c *Coordinator) RequestHistory(ctx context.Context, requestID string) ([]StatusHistoryEntry, error) {
	return c.store.History(ctx).ListByRequest(ctx, requestID)
}

// PendingCount counts Pending requests in the local snapshot.
func (c *Coordinator) PendingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, req := range c.requests {
		if req.Status == RequestStatusPending {
			n++
		}
	}
	return n
}

// ActiveResidentCount counts Active residents in the local snapshot.
func (c *Coordinator) ActiveResidentCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, r := range c.residents {
		if r.Status == ResidentStatusActive {
			n++
		}
	}
	return n
}

// RegistrationInput carries the profile fields supplied at signup or when an
// official records a resident directly.
type RegistrationInput struct {
	IdentityID string
	FirstName  string
	MiddleName string
	LastName   string
	Age        int
	Address    string
	Contact    string
	Email      string
}

// RegisterProfile creates a resident profile in Pending Approval and
// refreshes. New signups stay pending until an official approves them.
func (c *Coordinator) RegisterProfile(ctx context.Context, in RegistrationInput) (*Resident, error) {
	if strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" {
		return nil, fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}
	if in.Age <= 0 {
		return nil, fmt.Errorf("%w: age must be positive", ErrInvalidInput)
	}
	r := &Resident{
		IdentityID: in.IdentityID,
		FirstName:  strings.TrimSpace(in.FirstName),
		MiddleName: strings.TrimSpace(in.MiddleName),
		LastName:   strings.TrimSpace(in.LastName),
		Age:        in.Age,
		Address:    strings.TrimSpace(in.Address),
		Contact:    strings.TrimSpace(in.Contact),
		Email:      strings.TrimSpace(strings.ToLower(in.Email)),
		Status:     ResidentStatusPending,
	}
	if err := c.store.Profiles(ctx).Create(ctx, r); err != nil {
		return nil, err
	}

	c.pushNotification(&Notification{
		Title:       "New Resident Signup",
		Description: fmt.Sprintf("%s signed up and is pending approval", r.FullName()),
		Kind:        NotificationInfo,
	})

	if err := c.RefreshAll(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateProfile applies field changes to one resident and refreshes.
func (c *Coordinator) UpdateProfile(ctx context.Context, id string, upd ResidentUpdate) (*Resident, error) {
	r, err := c.store.Profiles(ctx).Update(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	if err := c.RefreshAll(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// ApproveResident activates a pending signup and refreshes.
func (c *Coordinator) ApproveResident(ctx context.Context, id string) error {
	if err := c.store.Profiles(ctx).SetStatus(ctx, id, ResidentStatusActive); err != nil {
		return err
	}
	return c.RefreshAll(ctx)
}

// DeleteResident removes a profile and its credential record, then
// refreshes. The account goes too so the email can register again. Deletion
// is irreversible; there is no distinct reject-signup path. The resident's
// certificate requests stay in the store.
func (c *Coordinator) DeleteResident(ctx context.Context, id string) error {
	r, err := c.store.Profiles(ctx).Find(ctx, id)
	if err != nil {
		return err
	}
	if err := c.store.Profiles(ctx).Delete(ctx, id); err != nil {
		return err
	}
	if c.accounts != nil && r.IdentityID != "" {
		if err := c.accounts.Delete(ctx, r.IdentityID); err != nil {
			obs.LogRequest(map[string]any{
				"level":    "warn",
				"msg":      "account delete failed",
				"identity": r.IdentityID,
				"err":      err.Error(),
			})
		}
	}
	return c.RefreshAll(ctx)
}

// Notifications returns the feed, newest first. Entries are copies so a
// caller encoding them never observes a concurrent mark-as-read.
func (c *Coordinator) Notifications() []*Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Notification, len(c.notifications))
	for i, n := range c.notifications {
		cp := *n
		out[i] = &cp
	}
	return out
}

// MarkNotificationRead flags one feed item as read.
func (c *Coordinator) MarkNotificationRead(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.notifications {
		if n.ID == id {
			n.Read = true
			return true
		}
	}
	return false
}

// MarkAllNotificationsRead flags the whole feed as read.
func (c *Coordinator) MarkAllNotificationsRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.notifications {
		n.Read = true
	}
}

func (c *Coordinator) pushNotification(n *Notification) {
	n.ID = ids.New()
	n.CreatedAt = c.now().UTC()
	c.mu.Lock()
	c.notifications = append([]*Notification{n}, c.notifications...)
	c.mu.Unlock()
}
