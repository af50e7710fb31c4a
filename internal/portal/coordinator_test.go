package portal

import (
	"context"
	"errors"
	"testing"
	"time"

	"lingkod.org/internal/stream"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestCoordinator(t *testing.T) (*Coordinator, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	c := NewCoordinator(store, nil)
	if err := c.RefreshAll(context.Background()); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}
	return c, store
}

func seedResident(t *testing.T, c *Coordinator) *Resident {
	t.Helper()
	r, err := c.RegisterProfile(context.Background(), RegistrationInput{
		IdentityID: "id-juan",
		FirstName:  "Juan",
		MiddleName: "Perez",
		LastName:   "Dela Cruz",
		Age:        30,
		Address:    "123 Rizal St, Palma-Urbano",
		Contact:    "09171234567",
		Email:      "juan@email.com",
	})
	if err != nil {
		t.Fatalf("register profile: %v", err)
	}
	return r
}

func TestAddRequestConvergence(t *testing.T) {
	c, _ := newTestCoordinator(t)
	resident := seedResident(t, c)

	before := len(c.RequestsForResident(resident.ID))
	start := time.Now().UTC()

	req, err := c.AddRequest(context.Background(), AddRequestInput{
		CertificateType: CertBarangayClearance,
		Purpose:         "job application",
		ResidentID:      resident.ID,
		ResidentName:    "Juan Dela Cruz",
	})
	if err != nil {
		t.Fatalf("add request: %v", err)
	}

	after := c.RequestsForResident(resident.ID)
	if len(after) != before+1 {
		t.Fatalf("expected %d requests, got %d", before+1, len(after))
	}
	if after[len(after)-1].Status != RequestStatusPending {
		t.Fatalf("new request not pending: %s", after[len(after)-1].Status)
	}
	if req.DateRequested.Before(start) || req.DateRequested.After(time.Now().UTC().Add(time.Second)) {
		t.Fatalf("date requested out of range: %v", req.DateRequested)
	}
	if req.DateProcessed != nil {
		t.Fatal("pending request must not carry a processed date")
	}
}

func TestAddRequestValidation(t *testing.T) {
	c, _ := newTestCoordinator(t)
	resident := seedResident(t, c)

	cases := []AddRequestInput{
		{CertificateType: "Certificate of Awesomeness", Purpose: "x", ResidentID: resident.ID},
		{CertificateType: CertIndigency, Purpose: "   ", ResidentID: resident.ID},
		{CertificateType: CertIndigency, Purpose: "medical assistance", ResidentID: ""},
	}
	for i, in := range cases {
		if _, err := c.AddRequest(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestStatusTransitionTerminality(t *testing.T) {
	c, _ := newTestCoordinator(t)
	resident := seedResident(t, c)

	req, err := c.AddRequest(context.Background(), AddRequestInput{
		CertificateType: CertResidency,
		Purpose:         "school enrollment",
		ResidentID:      resident.ID,
		ResidentName:    resident.FullName(),
	})
	if err != nil {
		t.Fatalf("add request: %v", err)
	}

	if err := c.UpdateRequestStatus(context.Background(), req.ID, RequestStatusApproved, "verified"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Approved is terminal: neither deny nor re-approve may succeed.
	for _, next := range []RequestStatus{RequestStatusDenied, RequestStatusApproved} {
		if err := c.UpdateRequestStatus(context.Background(), req.ID, next, ""); !errors.Is(err, ErrTerminalStatus) {
			t.Fatalf("transition to %s after approval: expected ErrTerminalStatus, got %v", next, err)
		}
	}

	// Pending is never a valid target.
	if err := c.UpdateRequestStatus(context.Background(), req.ID, RequestStatusPending, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for Pending target, got %v", err)
	}
}

func TestDateProcessedInvariant(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(fixedClock(now)))
	c := NewCoordinator(store, nil, WithCoordinatorClock(fixedClock(now)))
	resident := seedResident(t, c)

	req, err := c.AddRequest(context.Background(), AddRequestInput{
		CertificateType: CertLowIncome,
		Purpose:         "scholarship",
		ResidentID:      resident.ID,
		ResidentName:    resident.FullName(),
	})
	if err != nil {
		t.Fatalf("add request: %v", err)
	}

	check := func() {
		t.Helper()
		for _, r := range c.Requests() {
			pending := r.Status == RequestStatusPending
			unset := r.DateProcessed == nil
			if pending != unset {
				t.Fatalf("invariant violated for %s: status=%s processed=%v", r.ID, r.Status, r.DateProcessed)
			}
		}
	}
	check()

	if err := c.UpdateRequestStatus(context.Background(), req.ID, RequestStatusDenied, "incomplete documents"); err != nil {
		t.Fatalf("deny: %v", err)
	}
	check()

	denied, err := store.Requests(context.Background()).Find(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if denied.DateProcessed == nil || !denied.DateProcessed.Equal(now) {
		t.Fatalf("processed date not stamped with clock time: %v", denied.DateProcessed)
	}
}

func TestRequestHistoryAppendOnly(t *testing.T) {
	c, _ := newTestCoordinator(t)
	resident := seedResident(t, c)

	req, err := c.AddRequest(context.Background(), AddRequestInput{
		CertificateType: CertIndigency,
		Purpose:         "medical assistance",
		ResidentID:      resident.ID,
		ResidentName:    resident.FullName(),
	})
	if err != nil {
		t.Fatalf("add request: %v", err)
	}

	// Still pending: history is empty, not an error.
	entries, err := c.RequestHistory(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(entries))
	}

	if err := c.UpdateRequestStatus(context.Background(), req.ID, RequestStatusApproved, "docs complete"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	entries, err = c.RequestHistory(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one history entry, got %d", len(entries))
	}
	if entries[0].Status != RequestStatusApproved || entries[0].Note != "docs complete" {
		t.Fatalf("unexpected history entry: %+v", entries[0])
	}
}

func TestPendingCountTracksSnapshot(t *testing.T) {
	c, _ := newTestCoordinator(t)
	resident := seedResident(t, c)

	var reqIDs []string
	for i := 0; i < 3; i++ {
		req, err := c.AddRequest(context.Background(), AddRequestInput{
			CertificateType: CertBarangayClearance,
			Purpose:         "employment",
			ResidentID:      resident.ID,
			ResidentName:    resident.FullName(),
		})
		if err != nil {
			t.Fatalf("add request %d: %v", i, err)
		}
		reqIDs = append(reqIDs, req.ID)
	}
	if got := c.PendingCount(); got != 3 {
		t.Fatalf("pending count = %d, want 3", got)
	}

	if err := c.UpdateRequestStatus(context.Background(), reqIDs[0], RequestStatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := c.UpdateRequestStatus(context.Background(), reqIDs[1], RequestStatusDenied, ""); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if got := c.PendingCount(); got != 1 {
		t.Fatalf("pending count = %d, want 1", got)
	}
}

func TestActiveResidentCountExcludesPending(t *testing.T) {
	c, _ := newTestCoordinator(t)
	r := seedResident(t, c)

	if got := c.ActiveResidentCount(); got != 0 {
		t.Fatalf("active count = %d, want 0 before approval", got)
	}
	if err := c.ApproveResident(context.Background(), r.ID); err != nil {
		t.Fatalf("approve resident: %v", err)
	}
	if got := c.ActiveResidentCount(); got != 1 {
		t.Fatalf("active count = %d, want 1 after approval", got)
	}
}

func TestRealtimeRefreshIdempotence(t *testing.T) {
	events := stream.New()
	store := NewMemoryStore(WithEvents(events))
	c := NewCoordinator(store, events)

	if err := c.Bind(context.Background(), "id-official"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer c.Unbind()

	resident := seedResident(t, c)
	req, err := c.AddRequest(context.Background(), AddRequestInput{
		CertificateType: CertBusinessPermit,
		Purpose:         "sari-sari store",
		ResidentID:      resident.ID,
		ResidentName:    resident.FullName(),
	})
	if err != nil {
		t.Fatalf("add request: %v", err)
	}

	// Re-announce the same underlying change twice; the snapshot must not
	// duplicate or drift.
	events.Notify(stream.TableRequests, stream.KindInsert, req.ID)
	events.Notify(stream.TableRequests, stream.KindInsert, req.ID)

	deadline := time.After(2 * time.Second)
	for {
		reqs := c.RequestsForResident(resident.ID)
		if len(reqs) == 1 && reqs[0].ID == req.ID {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("snapshot diverged: %d requests", len(reqs))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestUnbindStopsRealtimeRefresh(t *testing.T) {
	events := stream.New()
	store := NewMemoryStore(WithEvents(events))
	c := NewCoordinator(store, events)

	if err := c.Bind(context.Background(), "id-official"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	c.Unbind()

	// Mutate the store behind the coordinator's back. With the watcher gone
	// the stale snapshot must survive the notification.
	r := &Resident{FirstName: "Maria", LastName: "Santos", Status: ResidentStatusActive}
	if err := store.Profiles(context.Background()).Create(context.Background(), r); err != nil {
		t.Fatalf("create: %v", err)
	}
	req := &CertificateRequest{
		ResidentID:      r.ID,
		ResidentName:    r.FullName(),
		CertificateType: CertResidency,
		Purpose:         "bank requirement",
	}
	if err := store.Requests(context.Background()).Create(context.Background(), req); err != nil {
		t.Fatalf("create request: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := len(c.Requests()); got != 0 {
		t.Fatalf("unbound coordinator refreshed anyway: %d requests", got)
	}
}

func TestNotificationsFeed(t *testing.T) {
	c, _ := newTestCoordinator(t)
	resident := seedResident(t, c)

	req, err := c.AddRequest(context.Background(), AddRequestInput{
		CertificateType: CertOathOfUndertaking,
		Purpose:         "barangay hearing",
		ResidentID:      resident.ID,
		ResidentName:    resident.FullName(),
	})
	if err != nil {
		t.Fatalf("add request: %v", err)
	}
	if err := c.UpdateRequestStatus(context.Background(), req.ID, RequestStatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	feed := c.Notifications()
	// signup + new request + approval, newest first
	if len(feed) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(feed))
	}
	if feed[0].Kind != NotificationApproved {
		t.Fatalf("newest notification kind = %s, want %s", feed[0].Kind, NotificationApproved)
	}
	for _, n := range feed {
		if n.Read {
			t.Fatalf("fresh notification already read: %+v", n)
		}
	}

	if !c.MarkNotificationRead(feed[0].ID) {
		t.Fatal("mark read failed for existing notification")
	}
	if c.MarkNotificationRead("missing") {
		t.Fatal("mark read succeeded for unknown id")
	}

	c.MarkAllNotificationsRead()
	for _, n := range c.Notifications() {
		if !n.Read {
			t.Fatalf("notification left unread: %+v", n)
		}
	}
}

func TestUpdateAndDeleteResident(t *testing.T) {
	c, _ := newTestCoordinator(t)
	r := seedResident(t, c)

	addr := "456 Mabini St, Palma-Urbano"
	updated, err := c.UpdateProfile(context.Background(), r.ID, ResidentUpdate{Address: &addr})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Address != addr {
		t.Fatalf("address not applied: %s", updated.Address)
	}
	if updated.FirstName != "Juan" {
		t.Fatalf("unrelated field changed: %s", updated.FirstName)
	}

	if err := c.DeleteResident(context.Background(), r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(c.Residents()) != 0 {
		t.Fatal("snapshot still contains deleted resident")
	}
	if err := c.DeleteResident(context.Background(), r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestDeleteResidentKeepsRequests(t *testing.T) {
	c, _ := newTestCoordinator(t)
	r := seedResident(t, c)

	req, err := c.AddRequest(context.Background(), AddRequestInput{
		CertificateType: CertIndigency,
		Purpose:         "medical assistance",
		ResidentID:      r.ID,
		ResidentName:    r.FullName(),
	})
	if err != nil {
		t.Fatalf("add request: %v", err)
	}

	if err := c.DeleteResident(context.Background(), r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// The request outlives its resident, identified by the denormalized name.
	remaining := c.RequestsForResident(r.ID)
	if len(remaining) != 1 || remaining[0].ID != req.ID {
		t.Fatalf("requests after delete = %+v", remaining)
	}
	if remaining[0].ResidentName != r.FullName() {
		t.Fatalf("resident name lost: %q", remaining[0].ResidentName)
	}
}

type recordingRemover struct {
	deleted []string
}

func (r *recordingRemover) Delete(ctx context.Context, id string) error {
	r.deleted = append(r.deleted, id)
	return nil
}

func TestDeleteResidentRemovesAccount(t *testing.T) {
	remover := &recordingRemover{}
	store := NewMemoryStore()
	c := NewCoordinator(store, nil, WithAccountRemover(remover))
	r := seedResident(t, c)

	if err := c.DeleteResident(context.Background(), r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(remover.deleted) != 1 || remover.deleted[0] != "id-juan" {
		t.Fatalf("account deletions = %v, want [id-juan]", remover.deleted)
	}
}

func TestNotificationsReturnCopies(t *testing.T) {
	c, _ := newTestCoordinator(t)
	seedResident(t, c)

	feed := c.Notifications()
	if len(feed) == 0 || feed[0].Read {
		t.Fatalf("unexpected feed: %+v", feed)
	}

	c.MarkAllNotificationsRead()

	// The previously returned snapshot must not observe the mutation.
	if feed[0].Read {
		t.Fatal("snapshot entry mutated after mark-as-read")
	}
	if fresh := c.Notifications(); !fresh[0].Read {
		t.Fatal("mark-as-read not applied in store")
	}
}

func TestFullName(t *testing.T) {
	cases := []struct {
		in   Resident
		want string
	}{
		{Resident{FirstName: "Juan", MiddleName: "Perez", LastName: "Dela Cruz"}, "Juan Perez Dela Cruz"},
		{Resident{FirstName: "Pedro", LastName: "Reyes"}, "Pedro Reyes"},
		{Resident{FirstName: " Maria ", LastName: " Santos "}, "Maria Santos"},
	}
	for _, tc := range cases {
		if got := tc.in.FullName(); got != tc.want {
			t.Fatalf("FullName() = %q, want %q", got, tc.want)
		}
	}
}
