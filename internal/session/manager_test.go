package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("shop-1", "https://seep.test", "Europe/Rome")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.MerchantID != "shop-1" || got.ServiceHost != "https://seep.test" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestManagerSupersedeClearsTurn(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("shop-1", "", "")
	if err := m.StartTurn(s.ID, "turn-1"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if err := m.Supersede(s.ID); err != nil {
		t.Fatalf("Supersede() error = %v", err)
	}
	if err := m.Supersede(s.ID); err != nil {
		t.Fatalf("Supersede() error = %v", err)
	}

	got, _ := m.Get(s.ID)
	if got.ActiveTurnID != "" {
		t.Fatalf("ActiveTurnID = %q, want empty", got.ActiveTurnID)
	}
	if got.SupersededTurns != 1 || got.Turns != 1 {
		t.Fatalf("Turns = %d, SupersededTurns = %d, want 1 and 1", got.Turns, got.SupersededTurns)
	}
}

func TestManagerFinishTurnIgnoresStaleTurn(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("shop-1", "", "")
	_ = m.StartTurn(s.ID, "turn-1")
	_ = m.StartTurn(s.ID, "turn-2")
	_ = m.FinishTurn(s.ID, "turn-1")

	got, _ := m.Get(s.ID)
	if got.ActiveTurnID != "turn-2" {
		t.Fatalf("ActiveTurnID = %q, want turn-2", got.ActiveTurnID)
	}
}

func TestManagerUnknownSession(t *testing.T) {
	m := NewManager(time.Minute)
	if _, err := m.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if err := m.Touch("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Touch() error = %v, want ErrNotFound", err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("shop-1", "", "")
	var expired atomic.Int32
	m.SetExpireHook(func(got *Session) {
		if got.ID == s.ID {
			expired.Add(1)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
	if expired.Load() != 1 {
		t.Fatalf("expire hook calls = %d, want 1", expired.Load())
	}
}
