package session

import (
	"context"
	"testing"
	"time"

	"lingkod.org/internal/portal"
)

func TestStoreStartsLoadingAndSignedOut(t *testing.T) {
	s := NewStore()
	state := s.Snapshot()
	if !state.Loading {
		t.Fatal("fresh store must be loading")
	}
	if state.SignedIn() {
		t.Fatal("fresh store must be signed out")
	}
}

func TestSetPrincipalBroadcasts(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)

	p := &portal.Principal{
		Identity: "id-1",
		Role:     portal.RoleOfficial,
		Official: &portal.Official{ID: "o1", Name: "Rose", Email: "rose@barangay.gov"},
	}
	s.SetPrincipal(p)

	select {
	case state := <-ch:
		if !state.SignedIn() || state.Principal.Identity != "id-1" {
			t.Fatalf("unexpected state: %+v", state)
		}
		if state.Principal.DisplayName() != "Rose" {
			t.Fatalf("display name = %q", state.Principal.DisplayName())
		}
	case <-time.After(time.Second):
		t.Fatal("no broadcast after SetPrincipal")
	}

	s.Clear()
	select {
	case state := <-ch:
		if state.SignedIn() {
			t.Fatal("state still signed in after Clear")
		}
	case <-time.After(time.Second):
		t.Fatal("no broadcast after Clear")
	}
}

func TestSetLoadingDeduplicates(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)

	s.SetLoading(false)
	s.SetLoading(false) // no-op, must not broadcast again

	select {
	case state := <-ch:
		if state.Loading {
			t.Fatal("expected loading=false")
		}
	case <-time.After(time.Second):
		t.Fatal("no broadcast after first SetLoading")
	}

	select {
	case state, ok := <-ch:
		if ok {
			t.Fatalf("unexpected duplicate broadcast: %+v", state)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeChannelClosesOnContextEnd(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel did not close")
	}

	// Writers must not panic after unsubscribe.
	s.SetLoading(false)
}
