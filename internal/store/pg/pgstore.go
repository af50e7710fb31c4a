// Package pg implements the portal and account stores on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"lingkod.org/internal/auth"
	"lingkod.org/internal/ids"
	"lingkod.org/internal/portal"
	"lingkod.org/internal/stream"
)

const uniqueViolation = "23505"

// Store backs the portal and account stores with PostgreSQL. Mutations
// publish change events so coordinators refresh without polling.
type Store struct {
	db     *sql.DB
	events *stream.Stream
	now    func() time.Time
}

var (
	_ portal.Store      = (*Store)(nil)
	_ auth.AccountStore = (*Store)(nil)
)

// Option configures Store behavior.
type Option func(*Store)

// WithEvents publishes change notifications to the given stream.
func WithEvents(events *stream.Stream) Option {
	return func(s *Store) { s.events = events }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// Open connects to PostgreSQL using the pgx stdlib driver.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewWithDB wraps an existing connection, mostly for tests.
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies connectivity, used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Profiles(context.Context) portal.ProfileStore { return (*pgProfiles)(s) }
func (s *Store) Requests(context.Context) portal.RequestStore { return (*pgRequests)(s) }
func (s *Store) History(context.Context) portal.HistoryStore  { return (*pgHistory)(s) }

func (s *Store) notify(table, kind, id string) {
	if s.events != nil {
		s.events.Notify(table, kind, id)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- resident profiles ---

type pgProfiles Store

const profileColumns = `id, identity_id, last_name, first_name, middle_name, age, address, contact, email, status, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (*portal.Resident, error) {
	var r portal.Resident
	err := row.Scan(&r.ID, &r.IdentityID, &r.LastName, &r.FirstName, &r.MiddleName,
		&r.Age, &r.Address, &r.Contact, &r.Email, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, portal.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *pgProfiles) Create(ctx context.Context, r *portal.Resident) error {
	if r == nil {
		return portal.ErrInvalidInput
	}
	if r.ID == "" {
		r.ID = ids.New()
	}
	now := (*Store)(s).now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = portal.ResidentStatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		insert into profiles(`+profileColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, r.ID, r.IdentityID, r.LastName, r.FirstName, r.MiddleName,
		r.Age, r.Address, r.Contact, r.Email, r.Status, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return portal.ErrInvalidInput
		}
		return err
	}
	(*Store)(s).notify(stream.TableProfiles, stream.KindInsert, r.ID)
	return nil
}

func (s *pgProfiles) Find(ctx context.Context, id string) (*portal.Resident, error) {
	row := s.db.QueryRowContext(ctx, `select `+profileColumns+` from profiles where id=$1`, id)
	return scanProfile(row)
}

func (s *pgProfiles) FindByIdentity(ctx context.Context, identityID string) (*portal.Resident, error) {
	row := s.db.QueryRowContext(ctx, `select `+profileColumns+` from profiles where identity_id=$1`, identityID)
	return scanProfile(row)
}

func (s *pgProfiles) List(ctx context.Context) ([]*portal.Resident, error) {
	rows, err := s.db.QueryContext(ctx, `select `+profileColumns+` from profiles order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*portal.Resident
	for rows.Next() {
		r, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgProfiles) Update(ctx context.Context, id string, upd portal.ResidentUpdate) (*portal.Resident, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `select `+profileColumns+` from profiles where id=$1 for update`, id)
	r, err := scanProfile(row)
	if err != nil {
		return nil, err
	}

	if upd.FirstName != nil {
		r.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	if upd.MiddleName != nil {
		r.MiddleName = strings.TrimSpace(*upd.MiddleName)
	}
	if upd.LastName != nil {
		r.LastName = strings.TrimSpace(*upd.LastName)
	}
	if upd.Age != nil {
		r.Age = *upd.Age
	}
	if upd.Address != nil {
		r.Address = strings.TrimSpace(*upd.Address)
	}
	if upd.Contact != nil {
		r.Contact = strings.TrimSpace(*upd.Contact)
	}
	r.UpdatedAt = (*Store)(s).now().UTC()

	if _, err := tx.ExecContext(ctx, `
		update profiles
		set last_name=$2, first_name=$3, middle_name=$4, age=$5, address=$6, contact=$7, updated_at=$8
		where id=$1
	`, r.ID, r.LastName, r.FirstName, r.MiddleName, r.Age, r.Address, r.Contact, r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	(*Store)(s).notify(stream.TableProfiles, stream.KindUpdate, r.ID)
	return r, nil
}

func (s *pgProfiles) SetStatus(ctx context.Context, id string, status portal.ResidentStatus) error {
	res, err := s.db.ExecContext(ctx, `
		update profiles set status=$2, updated_at=$3 where id=$1
	`, id, status, (*Store)(s).now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return portal.ErrNotFound
	}
	(*Store)(s).notify(stream.TableProfiles, stream.KindUpdate, id)
	return nil
}

func (s *pgProfiles) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from profiles where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return portal.ErrNotFound
	}
	(*Store)(s).notify(stream.TableProfiles, stream.KindDelete, id)
	return nil
}

// --- certificate requests ---

type pgRequests Store

const requestColumns = `id, resident_id, resident_name, certificate_type, purpose, notes, valid_id_file, status, date_requested, date_processed`

func scanRequest(row interface{ Scan(...any) error }) (*portal.CertificateRequest, error) {
	var req portal.CertificateRequest
	var processed sql.NullTime
	err := row.Scan(&req.ID, &req.ResidentID, &req.ResidentName, &req.CertificateType,
		&req.Purpose, &req.Notes, &req.ValidIDFile, &req.Status, &req.DateRequested, &processed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, portal.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if processed.Valid {
		t := processed.Time
		req.DateProcessed = &t
	}
	return &req, nil
}

func (s *pgRequests) Create(ctx context.Context, req *portal.CertificateRequest) error {
	if req == nil {
		return portal.ErrInvalidInput
	}
	if req.ID == "" {
		req.ID = ids.New()
	}
	if req.Status == "" {
		req.Status = portal.RequestStatusPending
	}
	if req.DateRequested.IsZero() {
		req.DateRequested = (*Store)(s).now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		insert into certificate_requests(`+requestColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, req.ID, req.ResidentID, req.ResidentName, req.CertificateType,
		req.Purpose, req.Notes, req.ValidIDFile, req.Status, req.DateRequested, nullTime(req.DateProcessed))
	if err != nil {
		return err
	}
	(*Store)(s).notify(stream.TableRequests, stream.KindInsert, req.ID)
	return nil
}

func (s *pgRequests) Find(ctx context.Context, id string) (*portal.CertificateRequest, error) {
	row := s.db.QueryRowContext(ctx, `select `+requestColumns+` from certificate_requests where id=$1`, id)
	return scanRequest(row)
}

func (s *pgRequests) List(ctx context.Context) ([]*portal.CertificateRequest, error) {
	rows, err := s.db.QueryContext(ctx, `select `+requestColumns+` from certificate_requests order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*portal.CertificateRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// SetStatus transitions a Pending request and appends its history entry in a
// single transaction. The Pending guard in the update statement makes
// concurrent processing of the same request safe: the loser sees zero rows.
func (s *pgRequests) SetStatus(ctx context.Context, id string, status portal.RequestStatus, processedAt time.Time, note string) error {
	if !status.Terminal() {
		return portal.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update certificate_requests
		set status=$2, date_processed=$3
		where id=$1 and status=$4
	`, id, status, processedAt.UTC(), portal.RequestStatusPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var current portal.RequestStatus
		err := tx.QueryRowContext(ctx, `select status from certificate_requests where id=$1`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return portal.ErrNotFound
		}
		if err != nil {
			return err
		}
		return portal.ErrTerminalStatus
	}

	historyID := ids.New()
	if _, err := tx.ExecContext(ctx, `
		insert into request_status_history(id, request_id, status, note, created_at)
		values ($1,$2,$3,$4,$5)
	`, historyID, id, status, note, processedAt.UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	(*Store)(s).notify(stream.TableRequests, stream.KindUpdate, id)
	(*Store)(s).notify(stream.TableHistory, stream.KindInsert, historyID)
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// --- request status history ---

type pgHistory Store

func (s *pgHistory) ListByRequest(ctx context.Context, requestID string) ([]portal.StatusHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, request_id, status, note, created_at
		from request_status_history
		where request_id=$1
		order by created_at, id
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []portal.StatusHistoryEntry
	for rows.Next() {
		var e portal.StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Status, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- credential accounts ---

// Create implements auth.AccountStore.
func (s *Store) Create(ctx context.Context, a *auth.Account) error {
	if a == nil {
		return auth.ErrInvalidInput
	}
	email := strings.TrimSpace(strings.ToLower(a.Email))
	if email == "" || !strings.Contains(email, "@") {
		return auth.ErrInvalidInput
	}
	if a.Role != portal.RoleOfficial && a.Role != portal.RoleResident {
		return auth.ErrInvalidInput
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	a.Email = email

	_, err := s.db.ExecContext(ctx, `
		insert into accounts(id, email, password_hash, role, name, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, a.ID, a.Email, a.PasswordHash, a.Role, a.Name, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrEmailTaken
		}
		return err
	}
	return nil
}

func scanAccount(row interface{ Scan(...any) error }) (*auth.Account, error) {
	var a auth.Account
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.Name, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) Find(ctx context.Context, id string) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, role, name, created_at from accounts where id=$1
	`, id)
	return scanAccount(row)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, role, name, created_at from accounts where email=$1
	`, strings.TrimSpace(strings.ToLower(email)))
	return scanAccount(row)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from accounts where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
