package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"lingkod.org/internal/portal"
	"lingkod.org/internal/stream"
)

func newMockStore(t *testing.T, opts ...Option) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db, opts...), mock
}

func TestSetStatusTransitionsPendingRequest(t *testing.T) {
	events := stream.New()
	store, mock := newMockStore(t, WithEvents(events))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := events.SubscribeTable(ctx, stream.TableRequests)

	processedAt := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("update certificate_requests").
		WithArgs("req-1", string(portal.RequestStatusApproved), processedAt, string(portal.RequestStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into request_status_history").
		WithArgs(sqlmock.AnyArg(), "req-1", string(portal.RequestStatusApproved), "looks good", processedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.Requests(ctx).SetStatus(ctx, "req-1", portal.RequestStatusApproved, processedAt, "looks good")
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Table != stream.TableRequests || evt.Kind != stream.KindUpdate || evt.RecordID != "req-1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no change event published")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetStatusRejectsProcessedRequest(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	processedAt := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("update certificate_requests").
		WithArgs("req-1", string(portal.RequestStatusDenied), processedAt, string(portal.RequestStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select status from certificate_requests").
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(portal.RequestStatusApproved)))
	mock.ExpectRollback()

	err := store.Requests(ctx).SetStatus(ctx, "req-1", portal.RequestStatusDenied, processedAt, "")
	if !errors.Is(err, portal.ErrTerminalStatus) {
		t.Fatalf("err = %v, want ErrTerminalStatus", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetStatusUnknownRequest(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	processedAt := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("update certificate_requests").
		WithArgs("nope", string(portal.RequestStatusApproved), processedAt, string(portal.RequestStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select status from certificate_requests").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectRollback()

	err := store.Requests(ctx).SetStatus(ctx, "nope", portal.RequestStatusApproved, processedAt, "")
	if !errors.Is(err, portal.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSetStatusRejectsPendingTarget(t *testing.T) {
	store, _ := newMockStore(t)
	err := store.Requests(context.Background()).SetStatus(context.Background(), "req-1", portal.RequestStatusPending, time.Now(), "")
	if !errors.Is(err, portal.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCreateRequestStampsDefaults(t *testing.T) {
	fixed := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	store, mock := newMockStore(t, WithClock(func() time.Time { return fixed }))

	mock.ExpectExec("insert into certificate_requests").
		WithArgs(sqlmock.AnyArg(), "res-1", "Juan Dela Cruz", string(portal.CertBarangayClearance),
			"employment", "", "", string(portal.RequestStatusPending), fixed, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	req := &portal.CertificateRequest{
		ResidentID:      "res-1",
		ResidentName:    "Juan Dela Cruz",
		CertificateType: portal.CertBarangayClearance,
		Purpose:         "employment",
	}
	if err := store.Requests(context.Background()).Create(context.Background(), req); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if req.ID == "" {
		t.Fatal("expected generated id")
	}
	if !req.DateRequested.Equal(fixed) {
		t.Fatalf("date requested = %v, want %v", req.DateRequested, fixed)
	}
	if req.Status != portal.RequestStatusPending {
		t.Fatalf("status = %q", req.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindProfileNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select .* from profiles where id=").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "identity_id", "last_name", "first_name", "middle_name",
			"age", "address", "contact", "email", "status", "created_at", "updated_at",
		}))

	_, err := store.Profiles(context.Background()).Find(context.Background(), "missing")
	if !errors.Is(err, portal.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListProfiles(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("select .* from profiles order by id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "identity_id", "last_name", "first_name", "middle_name",
			"age", "address", "contact", "email", "status", "created_at", "updated_at",
		}).
			AddRow("res-1", "acct-1", "Dela Cruz", "Juan", "Perez", 30, "123 Mabini St",
				"0917-000-0000", "juan@example.com", string(portal.ResidentStatusActive), now, now).
			AddRow("res-2", "acct-2", "Santos", "Maria", "", 25, "45 Rizal Ave",
				"0918-111-2222", "maria@example.com", string(portal.ResidentStatusPending), now, now))

	profiles, err := store.Profiles(context.Background()).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("len = %d, want 2", len(profiles))
	}
	if got := profiles[0].FullName(); got != "Juan Perez Dela Cruz" {
		t.Fatalf("full name = %q", got)
	}
	if profiles[1].Status != portal.ResidentStatusPending {
		t.Fatalf("status = %q", profiles[1].Status)
	}
}

func TestHistoryListByRequest(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("select id, request_id, status, note, created_at").
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "request_id", "status", "note", "created_at"}).
			AddRow("h-1", "req-1", string(portal.RequestStatusApproved), "ok", now))

	entries, err := store.History(context.Background()).ListByRequest(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("ListByRequest: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != portal.RequestStatusApproved {
		t.Fatalf("entries = %+v", entries)
	}
}
