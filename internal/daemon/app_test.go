package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lockstep/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  *config.Config
		ok   bool
	}{
		{name: "nil config"},
		{name: "empty", cfg: &config.Config{}, ok: true},
		{
			name: "valid job",
			cfg: &config.Config{Jobs: map[string]config.JobConfig{
				"cleanup": {Schedule: "@every 5m", Timeout: "30s"},
			}},
			ok: true,
		},
		{
			name: "bad timezone",
			cfg:  &config.Config{Scheduler: config.SchedulerConfig{Timezone: "Mars/Olympus"}},
		},
		{
			name: "job without schedule",
			cfg:  &config.Config{Jobs: map[string]config.JobConfig{"cleanup": {}}},
		},
		{
			name: "job with bad timeout",
			cfg: &config.Config{Jobs: map[string]config.JobConfig{
				"cleanup": {Schedule: "@hourly", Timeout: "soon"},
			}},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := validate(tt.cfg)
			if tt.ok && err != nil {
				t.Fatalf("validate error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSchedulerLocation(t *testing.T) {
	t.Parallel()
	loc, err := schedulerLocation("")
	if err != nil || loc != time.Local {
		t.Fatalf("empty tz = (%v, %v), want local", loc, err)
	}
	loc, err = schedulerLocation("UTC")
	if err != nil || loc.String() != "UTC" {
		t.Fatalf("UTC tz = (%v, %v)", loc, err)
	}
	if _, err := schedulerLocation("Nowhere/Else"); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestAppStartStop(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	body := `
logging:
  level: error
  console: false
scheduler:
  name: testd
  timezone: UTC
timers:
  path: ` + filepath.Join(dir, "timers.db") + `
jobs:
  timer-report:
    schedule: "@every 1h"
`
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	app, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if app.Timers() == nil {
		t.Fatal("timer dispatcher not wired despite timers.path")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
}
