package compliance

import (
	"errors"
	"time"
)

// Kind selects the evaluation strategy for a rule.
type Kind string

const (
	// KindThreshold compares a single reading's metric to a threshold.
	KindThreshold Kind = "threshold"
	// KindSpike compares a reading's z-score within its rolling window.
	KindSpike Kind = "spike"
	// KindEfficiency compares a window's carbon-per-unit ratio.
	KindEfficiency Kind = "efficiency"
	// KindFixedPeriod compares a tumbling window's carbon total when the
	// window closes. It never fires on a live window.
	KindFixedPeriod Kind = "fixed_period"
)

type Operator string

const (
	OperatorGreater        Operator = ">"
	OperatorGreaterOrEqual Operator = ">="
	OperatorLess           Operator = "<"
	OperatorLessOrEqual    Operator = "<="
)

// Valid returns true when operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OperatorGreater, OperatorGreaterOrEqual, OperatorLess, OperatorLessOrEqual:
		return true
	default:
		return false
	}
}

// Exceeds applies the operator to an observed value.
func (o Operator) Exceeds(value, threshold float64) bool {
	switch o {
	case OperatorGreater:
		return value > threshold
	case OperatorGreaterOrEqual:
		return value >= threshold
	case OperatorLess:
		return value < threshold
	case OperatorLessOrEqual:
		return value <= threshold
	default:
		return false
	}
}

// Metric names a reading or window field a rule evaluates.
const (
	MetricCarbonKg    = "carbon_kg"
	MetricTemperature = "temperature"
	MetricZScore      = "z_score"
	MetricEfficiency  = "efficiency"
	MetricCarbonSum   = "carbon_sum"
)

// RuleDefinition describes one compliance rule. Threshold and spike
// rules evaluate individual readings; efficiency rules evaluate live
// window aggregates; fixed-period rules evaluate closed tumbling
// windows only.
type RuleDefinition struct {
	Name      string
	Kind      Kind
	Metric    string
	Operator  Operator
	Threshold float64
	Severity  Severity
	// Window names the window spec the rule is bound to. Required for
	// spike, efficiency and fixed_period kinds; empty for threshold.
	Window  string
	Enabled bool
}

// Validate checks rule invariants.
func (r RuleDefinition) Validate() error {
	if r.Name == "" {
		return errors.New("compliance rule: empty name")
	}
	switch r.Kind {
	case KindThreshold, KindSpike, KindEfficiency, KindFixedPeriod:
	default:
		return errors.New("compliance rule: unknown kind")
	}
	if r.Metric == "" {
		return errors.New("compliance rule: empty metric")
	}
	if !r.Operator.Valid() {
		return errors.New("compliance rule: invalid operator")
	}
	if !r.Severity.Valid() {
		return errors.New("compliance rule: invalid severity")
	}
	if r.Kind != KindThreshold && r.Window == "" {
		return errors.New("compliance rule: window required for " + string(r.Kind))
	}
	return nil
}

// Default rule and window parameters.
const (
	DefaultEmissionThresholdKg = 500.0
	DefaultZScoreThreshold     = 2.0
	DefaultTemperatureLimitC   = 35.0
	DefaultEfficiencyMax       = 20.0
	DefaultEfficiencyMin       = 10.0
	DefaultHourlyLimitKg       = 500.0
	DefaultDailyLimitKg        = 10000.0

	DefaultRollingWindow = 10 * time.Minute
	DefaultRollingHop    = 30 * time.Second
	DefaultScoreWindow   = time.Hour
	DefaultScoreHop      = 5 * time.Minute
)

// Canonical window spec names the default rules bind to.
const (
	WindowRolling = "rolling"
	WindowScore   = "score"
	WindowHourly  = "hourly"
	WindowDaily   = "daily"
)

// DefaultRules returns the built-in rule set.
func DefaultRules() []RuleDefinition {
	return []RuleDefinition{
		{
			Name:      "THRESHOLD_EXCEEDED",
			Kind:      KindThreshold,
			Metric:    MetricCarbonKg,
			Operator:  OperatorGreater,
			Threshold: DefaultEmissionThresholdKg,
			Severity:  SeverityHigh,
			Enabled:   true,
		},
		{
			Name:      "HIGH_TEMPERATURE",
			Kind:      KindThreshold,
			Metric:    MetricTemperature,
			Operator:  OperatorGreater,
			Threshold: DefaultTemperatureLimitC,
			Severity:  SeverityLow,
			Enabled:   true,
		},
		{
			Name:      "SPIKE_DETECTED",
			Kind:      KindSpike,
			Metric:    MetricZScore,
			Operator:  OperatorGreater,
			Threshold: DefaultZScoreThreshold,
			Severity:  SeverityMedium,
			Window:    WindowRolling,
			Enabled:   true,
		},
		{
			Name:      "LOW_EFFICIENCY",
			Kind:      KindEfficiency,
			Metric:    MetricEfficiency,
			Operator:  OperatorGreater,
			Threshold: DefaultEfficiencyMax,
			Severity:  SeverityMedium,
			Window:    WindowScore,
			Enabled:   true,
		},
		{
			Name:      "HOURLY_EMISSION_LIMIT",
			Kind:      KindFixedPeriod,
			Metric:    MetricCarbonSum,
			Operator:  OperatorGreater,
			Threshold: DefaultHourlyLimitKg,
			Severity:  SeverityCritical,
			Window:    WindowHourly,
			Enabled:   true,
		},
		{
			Name:      "DAILY_EMISSION_LIMIT",
			Kind:      KindFixedPeriod,
			Metric:    MetricCarbonSum,
			Operator:  OperatorGreater,
			Threshold: DefaultDailyLimitKg,
			Severity:  SeverityCritical,
			Window:    WindowDaily,
			Enabled:   true,
		},
	}
}
