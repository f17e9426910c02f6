package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"greenledger/internal/streaming/window"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("addr = %q", cfg.HTTPAddr)
	}
	if cfg.Limits.EmissionThresholdKg != 500 || cfg.Limits.DailyLimitKg != 10000 {
		t.Fatalf("limits = %+v", cfg.Limits)
	}
	if cfg.Windows.RollingDuration.Std() != 10*time.Minute || cfg.Windows.RollingHop.Std() != 30*time.Second {
		t.Fatalf("windows = %+v", cfg.Windows)
	}
	if cfg.Windows.Lateness.Std() != 30*time.Second {
		t.Fatalf("lateness = %v", cfg.Windows.Lateness)
	}

	specs, err := cfg.WindowSpecs()
	if err != nil {
		t.Fatalf("window specs: %v", err)
	}
	if len(specs) != 4 {
		t.Fatalf("got %d specs, want 4", len(specs))
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("GREENLEDGER_EMISSION_THRESHOLD_KG", "750")
	t.Setenv("GREENLEDGER_ROLLING_HOP", "1m")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Limits.EmissionThresholdKg != 750 {
		t.Fatalf("threshold = %v", cfg.Limits.EmissionThresholdKg)
	}
	if cfg.Windows.RollingHop.Std() != time.Minute {
		t.Fatalf("hop = %v", cfg.Windows.RollingHop)
	}
	rules := cfg.Rules()
	for _, rule := range rules {
		if rule.Name == "THRESHOLD_EXCEEDED" && rule.Threshold != 750 {
			t.Fatalf("rule threshold = %v", rule.Threshold)
		}
	}
}

func TestYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("http_addr: \":9090\"\nlimits:\n  hourly_limit_kg: 600\nwindows:\n  rolling_duration: 10m\n  rolling_hop: 30s\n  score_duration: 1h\n  score_hop: 5m\n  lateness: 30s\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GREENLEDGER_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("addr = %q", cfg.HTTPAddr)
	}
	if cfg.Limits.HourlyLimitKg != 600 {
		t.Fatalf("hourly limit = %v", cfg.Limits.HourlyLimitKg)
	}
}

func TestUnalignedWindowsAreFatal(t *testing.T) {
	t.Setenv("GREENLEDGER_ROLLING_HOP", "42s") // 10m % 42s != 0
	_, err := Load()
	if !errors.Is(err, window.ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
}

func TestConfigurableScoreFloor(t *testing.T) {
	t.Setenv("GREENLEDGER_EFFICIENCY_MIN", "15")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	score := cfg.ScoreFunc()
	if got := score(17); got != 80 {
		t.Fatalf("score(17) = %v, want 80", got)
	}
	if got := score(15); got != 50 {
		t.Fatalf("score(15) = %v, want flat 50", got)
	}
}
