package sched

import (
	"context"
	"testing"
	"time"

	"lockstep/pkg/logx"
)

func TestRepeaterAddValidation(t *testing.T) {
	t.Parallel()
	r := NewRepeater(New("test", logx.Logger{}), time.UTC, logx.Logger{})
	run := NewRunnable("job", func(ctx context.Context) error { return nil })

	tests := []struct {
		name string
		id   string
		spec string
		run  *Runnable
	}{
		{name: "empty name", id: "  ", spec: "@hourly", run: run},
		{name: "nil runnable", id: "job", spec: "@hourly"},
		{name: "bad spec", id: "job", spec: "not a cron line", run: run},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Add(context.Background(), tt.id, tt.spec, tt.run); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRepeaterAddAcceptsSpecs(t *testing.T) {
	t.Parallel()
	r := NewRepeater(New("test", logx.Logger{}), time.UTC, logx.Logger{})
	run := NewRunnable("job", func(ctx context.Context) error { return nil })

	for _, spec := range []string{"*/5 * * * *", "@hourly", "@every 90s"} {
		if err := r.Add(context.Background(), "job", spec, run); err != nil {
			t.Fatalf("Add(%q) error: %v", spec, err)
		}
	}
}

func TestRepeaterUpsertAndRemove(t *testing.T) {
	t.Parallel()
	r := NewRepeater(New("test", logx.Logger{}), time.UTC, logx.Logger{})
	run := NewRunnable("job", func(ctx context.Context) error { return nil })

	if err := r.Add(context.Background(), "job", "@hourly", run); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	// Re-adding replaces the schedule rather than stacking entries.
	if err := r.Add(context.Background(), "job", "@every 10m", run); err != nil {
		t.Fatalf("re-Add error: %v", err)
	}
	if len(r.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(r.entries))
	}

	if !r.Remove("job") {
		t.Fatal("Remove returned false for a live entry")
	}
	if r.Remove("job") {
		t.Fatal("Remove returned true for a removed entry")
	}
}

func TestRepeaterTickSchedulesTask(t *testing.T) {
	t.Parallel()
	s := New("test", logx.Logger{})
	r := NewRepeater(s, time.UTC, logx.Logger{})

	done := make(chan struct{}, 4)
	run := NewRunnable("tick", func(ctx context.Context) error {
		done <- struct{}{}
		return nil
	})
	if err := r.Add(context.Background(), "tick", "@every 1s", run); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	r.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Stop(ctx)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("recurring task never fired")
	}
}
