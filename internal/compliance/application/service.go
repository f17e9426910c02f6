package application

import (
	"context"
	"errors"
	"fmt"
	"log"

	compliance "greenledger/internal/compliance/domain"
	"greenledger/internal/observability/metrics"
	"greenledger/internal/outputs"
	"greenledger/internal/streaming"
	"greenledger/internal/streaming/window"
)

// Service evaluates compliance rules against the streaming record flow
// and publishes Violation and Score records back onto the bus. Delivery
// is at least once; nothing is deduplicated across overlapping windows.
type Service struct {
	perReading []compliance.RuleDefinition
	spike      map[string][]compliance.RuleDefinition
	efficiency map[string][]compliance.RuleDefinition
	fixed      map[string][]compliance.RuleDefinition

	specs       map[string]window.Spec
	scoreWindow string
	scoreFunc   compliance.ScoreFunc

	pub            outputs.Publisher
	logger         *log.Logger
	excludeCurrent bool
}

// Option customizes the rule engine.
type Option func(*Service)

// WithScoreFunc overrides the default scoring curve.
func WithScoreFunc(fn compliance.ScoreFunc) Option {
	return func(s *Service) {
		if fn != nil {
			s.scoreFunc = fn
		}
	}
}

// WithSpikeExcludeCurrent removes the current reading from the rolling
// mean and std before computing its z-score. The default keeps it in,
// which dampens z on small windows.
func WithSpikeExcludeCurrent(exclude bool) Option {
	return func(s *Service) {
		s.excludeCurrent = exclude
	}
}

// WithScoreWindow binds scoring to a different window spec name.
func WithScoreWindow(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.scoreWindow = name
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService validates the rule set and builds the engine. Every
// window-bound rule must reference one of the supplied window specs.
func NewService(rules []compliance.RuleDefinition, specs []window.Spec, pub outputs.Publisher, opts ...Option) (*Service, error) {
	if pub == nil {
		return nil, errors.New("compliance: nil publisher")
	}
	specByName := make(map[string]window.Spec, len(specs))
	for _, spec := range specs {
		specByName[spec.Name] = spec
	}

	service := &Service{
		spike:       make(map[string][]compliance.RuleDefinition),
		efficiency:  make(map[string][]compliance.RuleDefinition),
		fixed:       make(map[string][]compliance.RuleDefinition),
		specs:       specByName,
		scoreWindow: compliance.WindowScore,
		scoreFunc:   compliance.DefaultScore,
		pub:         pub,
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(service)
	}

	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		if !rule.Enabled {
			continue
		}
		switch rule.Kind {
		case compliance.KindThreshold:
			service.perReading = append(service.perReading, rule)
		case compliance.KindSpike, compliance.KindEfficiency, compliance.KindFixedPeriod:
			spec, ok := specByName[rule.Window]
			if !ok {
				return nil, fmt.Errorf("compliance: rule %s references unknown window %q", rule.Name, rule.Window)
			}
			switch rule.Kind {
			case compliance.KindSpike:
				if spec.Kind != window.KindSliding {
					return nil, fmt.Errorf("compliance: spike rule %s needs a sliding window", rule.Name)
				}
				service.spike[rule.Window] = append(service.spike[rule.Window], rule)
			case compliance.KindEfficiency:
				service.efficiency[rule.Window] = append(service.efficiency[rule.Window], rule)
			case compliance.KindFixedPeriod:
				if spec.Kind != window.KindTumbling {
					return nil, fmt.Errorf("compliance: fixed_period rule %s needs a tumbling window", rule.Name)
				}
				service.fixed[rule.Window] = append(service.fixed[rule.Window], rule)
			}
		}
	}
	return service, nil
}

// Register wires the engine's handlers onto the bus.
func (s *Service) Register(bus *outputs.Bus) {
	outputs.SubscribeTo(bus, "compliance-readings", s.HandleReadingApplied)
	outputs.SubscribeTo(bus, "compliance-windows", s.HandleWindowUpdated)
	outputs.SubscribeTo(bus, "compliance-closures", s.HandleWindowClosed)
}

// HandleReadingApplied evaluates per-reading threshold rules.
func (s *Service) HandleReadingApplied(ctx context.Context, evt streaming.ReadingApplied) error {
	r := evt.Reading
	for _, rule := range s.perReading {
		var observed float64
		switch rule.Metric {
		case compliance.MetricCarbonKg:
			observed = r.CarbonKg
		case compliance.MetricTemperature:
			observed = r.Temperature
		default:
			continue
		}
		if !rule.Operator.Exceeds(observed, rule.Threshold) {
			continue
		}
		s.emit(ctx, compliance.Violation{
			PlantID:       r.PlantID,
			Rule:          rule.Name,
			Severity:      rule.Severity,
			ObservedValue: observed,
			Threshold:     rule.Threshold,
			Timestamp:     r.Timestamp,
			Message:       thresholdMessage(rule, observed),
		})
	}
	return nil
}

// HandleWindowUpdated evaluates spike and efficiency rules on live
// sliding windows, and refreshes the compliance score.
func (s *Service) HandleWindowUpdated(ctx context.Context, evt streaming.WindowUpdated) error {
	if rules := s.spike[evt.Window.Spec]; len(rules) > 0 && s.isBaselineWindow(evt) {
		s.evaluateSpike(ctx, rules, evt)
	}
	for _, rule := range s.efficiency[evt.Window.Spec] {
		s.evaluateEfficiency(ctx, rule, evt)
	}
	if evt.Window.Spec == s.scoreWindow {
		s.emitScore(ctx, evt)
	}
	return nil
}

// HandleWindowClosed evaluates fixed-period limits. These rules fire
// exactly on closure, never while the window is live.
func (s *Service) HandleWindowClosed(ctx context.Context, evt streaming.WindowClosed) error {
	for _, rule := range s.fixed[evt.Window.Spec] {
		var observed float64
		switch rule.Metric {
		case compliance.MetricCarbonSum:
			observed = evt.State.TotalCarbonKg
		default:
			continue
		}
		if !rule.Operator.Exceeds(observed, rule.Threshold) {
			continue
		}
		s.emit(ctx, compliance.Violation{
			PlantID:       evt.Window.PlantID,
			Rule:          rule.Name,
			Severity:      rule.Severity,
			ObservedValue: observed,
			Threshold:     rule.Threshold,
			Window:        windowRange(evt.Window),
			Timestamp:     evt.Window.End,
			Message:       fixedPeriodMessage(rule),
		})
	}
	return nil
}

// isBaselineWindow reports whether the reading landed near the end of
// the oldest sliding window that contains it. That window carries the
// longest trailing history, so the z-score compares the reading against
// up to a full window of baseline. Each reading has exactly one such
// window per sliding spec, giving one spike evaluation per reading
// instead of one per overlapping window.
func (s *Service) isBaselineWindow(evt streaming.WindowUpdated) bool {
	spec, ok := s.specs[evt.Window.Spec]
	if !ok || spec.Hop <= 0 {
		return false
	}
	offset := evt.Reading.Timestamp.Sub(evt.Window.Start)
	return offset >= spec.Duration-spec.Hop && offset < spec.Duration
}

func (s *Service) evaluateSpike(ctx context.Context, rules []compliance.RuleDefinition, evt streaming.WindowUpdated) {
	x := evt.Reading.CarbonKg
	mean := evt.State.AvgCarbonKg
	std := evt.State.StdCarbonKg
	if s.excludeCurrent {
		mean, std = evt.State.MeanStdExcluding(x)
	}
	if std <= 0 {
		// A flat window has no spikes by definition.
		return
	}
	z := (x - mean) / std

	for _, rule := range rules {
		if !rule.Operator.Exceeds(z, rule.Threshold) {
			continue
		}
		s.emit(ctx, compliance.Violation{
			PlantID:       evt.Window.PlantID,
			Rule:          rule.Name,
			Severity:      rule.Severity,
			ObservedValue: z,
			Threshold:     rule.Threshold,
			Window:        windowRange(evt.Window),
			Timestamp:     evt.Reading.Timestamp,
			Message:       fmt.Sprintf("Spike detected: %.1fσ above mean", z),
		})
	}
}

func (s *Service) evaluateEfficiency(ctx context.Context, rule compliance.RuleDefinition, evt streaming.WindowUpdated) {
	if evt.State.TotalProduction <= 0 {
		// Idle plants report zero efficiency, never a violation.
		return
	}
	efficiency := evt.State.CarbonPerUnit
	if !rule.Operator.Exceeds(efficiency, rule.Threshold) {
		return
	}
	s.emit(ctx, compliance.Violation{
		PlantID:       evt.Window.PlantID,
		Rule:          rule.Name,
		Severity:      rule.Severity,
		ObservedValue: efficiency,
		Threshold:     rule.Threshold,
		Window:        windowRange(evt.Window),
		Timestamp:     evt.Reading.Timestamp,
		Message:       fmt.Sprintf("Low efficiency: %.1fkg CO2/unit (threshold: %g)", efficiency, rule.Threshold),
	})
}

func (s *Service) emitScore(ctx context.Context, evt streaming.WindowUpdated) {
	efficiency := 0.0
	if evt.State.TotalProduction > 0 {
		efficiency = evt.State.CarbonPerUnit
	}
	score := compliance.Score{
		PlantID:     evt.Window.PlantID,
		WindowStart: evt.Window.Start,
		WindowEnd:   evt.Window.End,
		TotalCarbon: evt.State.TotalCarbonKg,
		Production:  evt.State.TotalProduction,
		Readings:    evt.State.ReadingCount,
		Efficiency:  efficiency,
		Value:       s.scoreFunc(efficiency),
	}
	metrics.IncScore()
	if err := s.pub.Publish(ctx, score); err != nil {
		s.logger.Printf("compliance: publish score for %s: %v", score.PlantID, err)
	}
}

func (s *Service) emit(ctx context.Context, v compliance.Violation) {
	metrics.IncViolation(v.Rule, string(v.Severity))
	if err := s.pub.Publish(ctx, v); err != nil {
		s.logger.Printf("compliance: publish violation %s/%s: %v", v.PlantID, v.Rule, err)
	}
}

func windowRange(ref streaming.WindowRef) *compliance.WindowRange {
	return &compliance.WindowRange{Name: ref.Spec, Start: ref.Start, End: ref.End}
}

func thresholdMessage(rule compliance.RuleDefinition, observed float64) string {
	switch rule.Metric {
	case compliance.MetricCarbonKg:
		return fmt.Sprintf("Emission %.1fkg exceeds threshold %.0fkg", observed, rule.Threshold)
	case compliance.MetricTemperature:
		return fmt.Sprintf("Temperature %.1f°C exceeds normal range", observed)
	default:
		return fmt.Sprintf("%s %.1f exceeds threshold %.1f", rule.Metric, observed, rule.Threshold)
	}
}

func fixedPeriodMessage(rule compliance.RuleDefinition) string {
	switch rule.Window {
	case compliance.WindowHourly:
		return "Hourly emissions exceed permitted limit"
	case compliance.WindowDaily:
		return "Daily emissions exceed permitted limit"
	default:
		return fmt.Sprintf("%s emissions exceed permitted limit", rule.Window)
	}
}
