package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: false
scheduler:
  name: primary
  timezone: UTC
timers:
  path: ./data/timers.db
jobs:
  cleanup:
    schedule: "@every 5m"
    timeout: 30s
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.ConsoleEnabled() {
		t.Fatal("console: false not honored")
	}
	if cfg.Scheduler.Name != "primary" || cfg.Scheduler.Timezone != "UTC" {
		t.Fatalf("scheduler section = %+v", cfg.Scheduler)
	}
	job, ok := cfg.Jobs["cleanup"]
	if !ok || job.Schedule != "@every 5m" || job.Timeout != "30s" {
		t.Fatalf("jobs section = %+v", cfg.Jobs)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"scheduler":{"name":"alt"}}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Scheduler.Name != "alt" {
		t.Fatalf("Scheduler.Name = %q", cfg.Scheduler.Name)
	}
	// Console defaults to on when unset.
	if !cfg.ConsoleEnabled() {
		t.Fatal("console default should be true")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"schedular":{"name":"typo"}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"scheduler":{"name":"a"}}{"extra":1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing JSON")
	}
}

func TestLoadCommitsAndGetReturns(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `scheduler: {name: primary}`)
	m := NewManager(path)

	if m.Get() != nil {
		t.Fatal("Get before Load should be nil")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestPublishDropsOldestKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-ch:
		if got != second {
			t.Fatal("subscriber kept the stale config")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber got nothing")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	// Second unsubscribe of the same channel is a no-op.
	m.Unsubscribe(ch)

	// Publishing after removal must not panic or deliver.
	m.publish(&Config{})
}

func TestHashConfigDistinguishesContent(t *testing.T) {
	t.Parallel()
	a := &Config{Scheduler: SchedulerConfig{Name: "a"}}
	b := &Config{Scheduler: SchedulerConfig{Name: "b"}}
	if hashConfig(a) == hashConfig(b) {
		t.Fatal("different configs hash equal")
	}
	if hashConfig(a) != hashConfig(&Config{Scheduler: SchedulerConfig{Name: "a"}}) {
		t.Fatal("equal configs hash differently")
	}
	if hashConfig(nil) != 0 {
		t.Fatal("nil config should hash to zero")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want time.Duration
		ok   bool
	}{
		{name: "empty", raw: "", want: 0, ok: true},
		{name: "seconds", raw: "30s", want: 30 * time.Second, ok: true},
		{name: "spaced", raw: " 5m ", want: 5 * time.Minute, ok: true},
		{name: "negative", raw: "-1s"},
		{name: "garbage", raw: "soon"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDurationField("test.field", tt.raw)
			if tt.ok {
				if err != nil || d != tt.want {
					t.Fatalf("ParseDurationField = (%v, %v), want (%v, nil)", d, err, tt.want)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
