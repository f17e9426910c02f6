package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	compliance "greenledger/internal/compliance/domain"
	"greenledger/internal/streaming/window"
)

// Duration wraps time.Duration so yaml overlays can use values like
// "10m" or "30s".
type Duration time.Duration

// UnmarshalYAML accepts a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Limits defines the rule thresholds.
type Limits struct {
	EmissionThresholdKg float64 `yaml:"emission_threshold_kg"`
	TemperatureLimitC   float64 `yaml:"temperature_limit_c"`
	ZScoreThreshold     float64 `yaml:"z_score_threshold"`
	EfficiencyMin       float64 `yaml:"efficiency_min"`
	EfficiencyMax       float64 `yaml:"efficiency_max"`
	HourlyLimitKg       float64 `yaml:"hourly_limit_kg"`
	DailyLimitKg        float64 `yaml:"daily_limit_kg"`
}

// Windows defines the window geometry.
type Windows struct {
	RollingDuration Duration `yaml:"rolling_duration"`
	RollingHop      Duration `yaml:"rolling_hop"`
	ScoreDuration   Duration `yaml:"score_duration"`
	ScoreHop        Duration `yaml:"score_hop"`
	Lateness        Duration `yaml:"lateness"`
}

// Config defines the full service configuration. Env vars provide the
// defaults; GREENLEDGER_CONFIG may point at a yaml file overlaying them.
type Config struct {
	HTTPAddr     string `yaml:"http_addr"`
	DatabaseURL  string `yaml:"database_url"`
	JWTSecret    string `yaml:"jwt_secret"`
	IngestSecret string `yaml:"ingest_secret"`
	WebhookURL   string `yaml:"webhook_url"`
	IngestStdin  bool   `yaml:"ingest_stdin"`
	EmitStdout   bool   `yaml:"emit_stdout"`

	Partitions int      `yaml:"partitions"`
	Retention  Duration `yaml:"retention"`

	Windows Windows `yaml:"windows"`
	Limits  Limits  `yaml:"limits"`

	SpikeExcludeCurrent bool     `yaml:"spike_exclude_current"`
	NotifyMinSeverity   string   `yaml:"notify_min_severity"`
	NotifyCooldown      Duration `yaml:"notify_cooldown"`
}

// Load reads configuration from env plus optional yaml overlay.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:     getenvDefault("GREENLEDGER_HTTP_ADDR", ":8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		JWTSecret:    os.Getenv("GREENLEDGER_JWT_SECRET"),
		IngestSecret: os.Getenv("GREENLEDGER_INGEST_SECRET"),
		WebhookURL:   os.Getenv("GREENLEDGER_WEBHOOK_URL"),
		IngestStdin:  getenvBool("GREENLEDGER_INGEST_STDIN", false),
		EmitStdout:   getenvBool("GREENLEDGER_EMIT_STDOUT", false),
		Partitions:   getenvIntDefault("GREENLEDGER_PARTITIONS", 4),
		Retention:    getenvDurationDefault("GREENLEDGER_RETENTION", time.Hour),
		Windows: Windows{
			RollingDuration: getenvDurationDefault("GREENLEDGER_ROLLING_DURATION", compliance.DefaultRollingWindow),
			RollingHop:      getenvDurationDefault("GREENLEDGER_ROLLING_HOP", compliance.DefaultRollingHop),
			ScoreDuration:   getenvDurationDefault("GREENLEDGER_SCORE_DURATION", compliance.DefaultScoreWindow),
			ScoreHop:        getenvDurationDefault("GREENLEDGER_SCORE_HOP", compliance.DefaultScoreHop),
			Lateness:        getenvDurationDefault("GREENLEDGER_LATENESS", 30*time.Second),
		},
		Limits: Limits{
			EmissionThresholdKg: getenvFloatDefault("GREENLEDGER_EMISSION_THRESHOLD_KG", compliance.DefaultEmissionThresholdKg),
			TemperatureLimitC:   getenvFloatDefault("GREENLEDGER_TEMPERATURE_LIMIT_C", compliance.DefaultTemperatureLimitC),
			ZScoreThreshold:     getenvFloatDefault("GREENLEDGER_Z_SCORE_THRESHOLD", compliance.DefaultZScoreThreshold),
			EfficiencyMin:       getenvFloatDefault("GREENLEDGER_EFFICIENCY_MIN", compliance.DefaultEfficiencyMin),
			EfficiencyMax:       getenvFloatDefault("GREENLEDGER_EFFICIENCY_MAX", compliance.DefaultEfficiencyMax),
			HourlyLimitKg:       getenvFloatDefault("GREENLEDGER_HOURLY_LIMIT_KG", compliance.DefaultHourlyLimitKg),
			DailyLimitKg:        getenvFloatDefault("GREENLEDGER_DAILY_LIMIT_KG", compliance.DefaultDailyLimitKg),
		},
		SpikeExcludeCurrent: getenvBool("GREENLEDGER_SPIKE_EXCLUDE_CURRENT", false),
		NotifyMinSeverity:   getenvDefault("GREENLEDGER_NOTIFY_MIN_SEVERITY", string(compliance.SeverityHigh)),
		NotifyCooldown:      getenvDurationDefault("GREENLEDGER_NOTIFY_COOLDOWN", 5*time.Minute),
	}

	if path := os.Getenv("GREENLEDGER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration. Window geometry errors are fatal:
// the service must refuse to start rather than aggregate on a broken
// window set.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: http addr required")
	}
	if c.Partitions < 1 {
		return errors.New("config: partitions must be positive")
	}
	specs, err := c.WindowSpecs()
	if err != nil {
		return err
	}
	for _, rule := range c.Rules() {
		if err := rule.Validate(); err != nil {
			return err
		}
	}
	if len(specs) == 0 {
		return fmt.Errorf("%w: no windows configured", window.ErrInvalidSpec)
	}
	return nil
}

// WindowSpecs builds the engine's window set.
func (c Config) WindowSpecs() ([]window.Spec, error) {
	rolling := window.Sliding(compliance.WindowRolling, c.Windows.RollingDuration.Std(), c.Windows.RollingHop.Std(), c.Windows.Lateness.Std())
	score := window.Sliding(compliance.WindowScore, c.Windows.ScoreDuration.Std(), c.Windows.ScoreHop.Std(), c.Windows.Lateness.Std())
	hourly := window.Tumbling(compliance.WindowHourly, time.Hour, c.Windows.Lateness.Std())
	hourly.RetainClosed = true
	daily := window.Tumbling(compliance.WindowDaily, 24*time.Hour, c.Windows.Lateness.Std())
	daily.RetainClosed = true

	specs := []window.Spec{rolling, score, hourly, daily}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}
	return specs, nil
}

// Rules builds the rule set from the configured limits.
func (c Config) Rules() []compliance.RuleDefinition {
	rules := compliance.DefaultRules()
	for i := range rules {
		switch rules[i].Name {
		case "THRESHOLD_EXCEEDED":
			rules[i].Threshold = c.Limits.EmissionThresholdKg
		case "HIGH_TEMPERATURE":
			rules[i].Threshold = c.Limits.TemperatureLimitC
		case "SPIKE_DETECTED":
			rules[i].Threshold = c.Limits.ZScoreThreshold
		case "LOW_EFFICIENCY":
			rules[i].Threshold = c.Limits.EfficiencyMax
		case "HOURLY_EMISSION_LIMIT":
			rules[i].Threshold = c.Limits.HourlyLimitKg
		case "DAILY_EMISSION_LIMIT":
			rules[i].Threshold = c.Limits.DailyLimitKg
		}
	}
	return rules
}

// ScoreFunc builds the scoring curve from the configured efficiency
// floor, preserving the flat-50 branch at and below it.
func (c Config) ScoreFunc() compliance.ScoreFunc {
	floor := c.Limits.EfficiencyMin
	return func(efficiency float64) float64 {
		if efficiency > floor {
			return 100 - (efficiency-floor)*10
		}
		return 50
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDurationDefault(key string, fallback time.Duration) Duration {
	value := os.Getenv(key)
	if value == "" {
		return Duration(fallback)
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return Duration(fallback)
	}
	return Duration(parsed)
}
