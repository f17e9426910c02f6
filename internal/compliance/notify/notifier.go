package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	compliance "greenledger/internal/compliance/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier pushes violations to a channel. Violations never clear or
// escalate; the notifier only rate-limits repeats of the same rule per
// plant via cooldown and dedupe windows.
type Notifier struct {
	channel      Channel
	template     *Template
	minSeverity  compliance.Severity
	clock        Clock
	mu           sync.Mutex
	sent         map[string]sendRecord
	cooldown     time.Duration
	dedupeWindow time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithMinSeverity drops violations below the given severity.
func WithMinSeverity(severity compliance.Severity) Option {
	return func(n *Notifier) {
		if severity.Valid() {
			n.minSeverity = severity
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the
// same plant and rule.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewNotifier constructs a violation notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("violation notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:  channel,
		template: template,
		clock:    systemClock{},
		sent:     make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// HandleViolation implements the bus handler for violation records.
func (n *Notifier) HandleViolation(ctx context.Context, v compliance.Violation) error {
	if n == nil || n.channel == nil {
		return nil
	}
	if n.minSeverity != "" && v.Severity.Rank() < n.minSeverity.Rank() {
		return nil
	}
	content, err := n.template.Render(buildTemplateData(v))
	if err != nil {
		return err
	}
	if !n.shouldSend(v.PlantID, v.Rule, content) {
		return nil
	}
	if err := n.channel.Send(ctx, v, content); err != nil {
		return err
	}
	n.markSent(v.PlantID, v.Rule, content)
	return nil
}

func buildTemplateData(v compliance.Violation) TemplateData {
	windowText := ""
	if v.Window != nil {
		windowText = fmt.Sprintf("%s %s - %s",
			v.Window.Name,
			v.Window.Start.UTC().Format(time.RFC3339),
			v.Window.End.UTC().Format(time.RFC3339))
	}
	return TemplateData{
		Plant:     v.PlantID,
		Rule:      v.Rule,
		Severity:  string(v.Severity),
		Observed:  fmt.Sprintf("%.2f", v.ObservedValue),
		Threshold: fmt.Sprintf("%.2f", v.Threshold),
		Window:    windowText,
		Time:      v.Timestamp.UTC().Format(time.RFC3339),
		Message:   v.Message,
	}
}

func (n *Notifier) shouldSend(plantID, rule, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := plantID + "|" + rule
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(plantID, rule, content string) {
	key := plantID + "|" + rule
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
