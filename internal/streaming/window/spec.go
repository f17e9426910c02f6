package window

import (
	"errors"
	"fmt"
	"time"
)

// Kind selects the windowing behavior of a spec.
type Kind string

const (
	KindSliding  Kind = "sliding"
	KindTumbling Kind = "tumbling"
)

// ErrInvalidSpec is wrapped by all spec validation failures. Spec errors
// are fatal at startup; the pipeline refuses to run with a bad spec.
var ErrInvalidSpec = errors.New("window: invalid spec")

// Interval is an aligned half-open window interval [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Spec describes one named window configuration. Sliding windows advance
// by Hop and overlap; tumbling windows are the Hop == Duration case and
// never overlap.
type Spec struct {
	Name        string
	Kind        Kind
	Duration    time.Duration
	Hop         time.Duration
	Lateness    time.Duration
	RetainClosed bool
}

// Tumbling builds a non-overlapping spec.
func Tumbling(name string, duration, lateness time.Duration) Spec {
	return Spec{Name: name, Kind: KindTumbling, Duration: duration, Hop: duration, Lateness: lateness}
}

// Sliding builds an overlapping spec advancing by hop.
func Sliding(name string, duration, hop, lateness time.Duration) Spec {
	return Spec{Name: name, Kind: KindSliding, Duration: duration, Hop: hop, Lateness: lateness}
}

// Validate checks spec invariants. Duration must be a multiple of Hop so
// every window boundary aligns to hop multiples and assignment stays
// O(Duration/Hop).
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidSpec)
	}
	if s.Kind != KindSliding && s.Kind != KindTumbling {
		return fmt.Errorf("%w %q: unknown kind %q", ErrInvalidSpec, s.Name, s.Kind)
	}
	if s.Duration <= 0 {
		return fmt.Errorf("%w %q: non-positive duration", ErrInvalidSpec, s.Name)
	}
	if s.Hop <= 0 {
		return fmt.Errorf("%w %q: non-positive hop", ErrInvalidSpec, s.Name)
	}
	if s.Kind == KindTumbling && s.Hop != s.Duration {
		return fmt.Errorf("%w %q: tumbling hop must equal duration", ErrInvalidSpec, s.Name)
	}
	if s.Duration%s.Hop != 0 {
		return fmt.Errorf("%w %q: duration %s is not a multiple of hop %s", ErrInvalidSpec, s.Name, s.Duration, s.Hop)
	}
	if s.Lateness < 0 {
		return fmt.Errorf("%w %q: negative lateness", ErrInvalidSpec, s.Name)
	}
	return nil
}

// Intervals returns every window interval containing t, in ascending
// start order. An event exactly on a hop boundary belongs to the window
// starting at that boundary, not the one ending there.
func (s Spec) Intervals(t time.Time) []Interval {
	d := s.Duration.Nanoseconds()
	h := s.Hop.Nanoseconds()
	ts := t.UnixNano()

	// Latest aligned start at or before t.
	base := floorDiv(ts, h) * h
	n := int(d / h)
	intervals := make([]Interval, 0, n)
	for k := n - 1; k >= 0; k-- {
		start := base - int64(k)*h
		end := start + d
		if start <= ts && ts < end {
			intervals = append(intervals, Interval{
				Start: time.Unix(0, start).UTC(),
				End:   time.Unix(0, end).UTC(),
			})
		}
	}
	return intervals
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
