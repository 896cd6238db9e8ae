package timerstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "timers.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	payload := json.RawMessage(`{"user_id":7}`)
	created, err := s.Create(ctx, "reminder", now, now.Add(time.Hour), payload)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.ID <= 0 {
		t.Fatalf("assigned id = %d, want positive", created.ID)
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for an existing timer")
	}
	if got.Event != "reminder" {
		t.Fatalf("Event = %q", got.Event)
	}
	if string(got.Payload) != `{"user_id":7}` {
		t.Fatalf("Payload = %s", got.Payload)
	}
	// Millisecond precision survives the round trip.
	if got.Expires.Sub(created.Expires) > time.Millisecond {
		t.Fatalf("Expires drifted: %v vs %v", got.Expires, created.Expires)
	}

	n, err := s.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Count = (%d, %v), want (1, nil)", n, err)
	}

	ok, err := s.Delete(ctx, created.ID)
	if err != nil || !ok {
		t.Fatalf("Delete = (%v, %v)", ok, err)
	}
	ok, err = s.Delete(ctx, created.ID)
	if err != nil || ok {
		t.Fatalf("second Delete = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestStoreNextHonorsOrderAndHorizon(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	far, err := s.Create(ctx, "far", now, now.Add(48*time.Hour), nil)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	near, err := s.Create(ctx, "near", now, now.Add(time.Minute), nil)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := s.Next(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if got == nil || got.ID != near.ID {
		t.Fatalf("Next = %v, want timer %d", got, near.ID)
	}

	// With both inside the horizon, ordering is by expiry.
	got, err = s.Next(ctx, 72*time.Hour)
	if err != nil || got == nil || got.ID != near.ID {
		t.Fatalf("Next = (%v, %v), want nearest first", got, err)
	}

	if _, err := s.Delete(ctx, near.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	got, err = s.Next(ctx, 24*time.Hour)
	if err != nil || got != nil {
		t.Fatalf("Next = (%v, %v), want nothing within horizon", got, err)
	}
	_ = far
}

func TestStoreDeleteByEvent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if _, err := s.Create(ctx, "bulk", now, now.Add(time.Hour), nil); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}
	if _, err := s.Create(ctx, "other", now, now.Add(time.Hour), nil); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	n, err := s.DeleteByEvent(ctx, "bulk")
	if err != nil || n != 3 {
		t.Fatalf("DeleteByEvent = (%d, %v), want (3, nil)", n, err)
	}
	total, err := s.Count(ctx)
	if err != nil || total != 1 {
		t.Fatalf("Count = (%d, %v), want (1, nil)", total, err)
	}
}
