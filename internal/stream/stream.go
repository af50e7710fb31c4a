package stream

import (
	"context"
	"sync"
	"time"
)

// Table names carried by change events. They mirror the logical tables the
// data layer exposes.
const (
	TableProfiles = "profiles"
	TableRequests = "certificate_requests"
	TableHistory  = "request_status_history"
)

// Change kinds. Consumers must treat every kind the same way: reload.
const (
	KindInsert = "insert"
	KindUpdate = "update"
	KindDelete = "delete"
)

// ChangeEvent announces that something in a table changed. There is no
// payload guarantee beyond the table name and kind; consumers refetch.
type ChangeEvent struct {
	Table     string    `json:"table"`
	Kind      string    `json:"kind"`
	RecordID  string    `json:"record_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream fan-outs change events to all active subscribers (the data
// coordinator and any SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

type subscriber struct {
	ch    chan ChangeEvent
	table string // empty means all tables
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for every table and returns a channel
// which will receive events. The channel is closed when the context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan ChangeEvent {
	return s.subscribe(ctx, "")
}

// SubscribeTable registers a subscriber for a single table.
func (s *Stream) SubscribeTable(ctx context.Context, table string) <-chan ChangeEvent {
	return s.subscribe(ctx, table)
}

func (s *Stream) subscribe(ctx context.Context, table string) <-chan ChangeEvent {
	ch := make(chan ChangeEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, table: table}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all matching subscribers.
func (s *Stream) Publish(evt ChangeEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.table != "" && sub.table != evt.Table {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Notify is shorthand for publishing a change on a table.
func (s *Stream) Notify(table, kind, recordID string) {
	s.Publish(ChangeEvent{Table: table, Kind: kind, RecordID: recordID})
}
