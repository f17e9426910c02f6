package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"greenledger/internal/streaming/window"
	telemetry "greenledger/internal/telemetry/domain"
)

type capture struct {
	mu      sync.Mutex
	records []any
}

func (c *capture) Publish(_ context.Context, record any) error {
	c.mu.Lock()
	c.records = append(c.records, record)
	c.mu.Unlock()
	return nil
}

func (c *capture) closed() []WindowClosed {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []WindowClosed
	for _, record := range c.records {
		if evt, ok := record.(WindowClosed); ok {
			out = append(out, evt)
		}
	}
	return out
}

func (c *capture) updated() []WindowUpdated {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []WindowUpdated
	for _, record := range c.records {
		if evt, ok := record.(WindowUpdated); ok {
			out = append(out, evt)
		}
	}
	return out
}

func reading(plant string, at time.Time, carbon float64) telemetry.Reading {
	return telemetry.Reading{
		PlantID:         plant,
		Timestamp:       at,
		EnergyKWh:       carbon / telemetry.CarbonFactorEnergyKWh,
		ProductionUnits: 1,
		CarbonKg:        carbon,
	}
}

func newTestEngine(t *testing.T, sink *capture, specs ...window.Spec) *Engine {
	t.Helper()
	engine, err := NewEngine(specs, sink)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return engine
}

func TestRejectsInvalidSpec(t *testing.T) {
	_, err := NewEngine([]window.Spec{window.Sliding("bad", 10*time.Minute, 42*time.Second, 0)}, &capture{})
	if !errors.Is(err, window.ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
}

func TestTumblingClosesOnWatermark(t *testing.T) {
	sink := &capture{}
	engine := newTestEngine(t, sink, window.Tumbling("hourly", time.Hour, 30*time.Second))

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mustProcess(t, engine, reading("A", base.Add(5*time.Minute), 100))
	mustProcess(t, engine, reading("A", base.Add(20*time.Minute), 520))
	mustProcess(t, engine, reading("A", base.Add(40*time.Minute), 130))
	// Watermark passes window end + lateness.
	mustProcess(t, engine, reading("A", base.Add(time.Hour+31*time.Second), 10))
	engine.Stop()

	closed := sink.closed()
	if len(closed) != 2 {
		t.Fatalf("got %d closed windows, want 2 (watermark close + shutdown flush)", len(closed))
	}
	first := closed[0]
	if !first.Window.Start.Equal(base) || !first.Window.End.Equal(base.Add(time.Hour)) {
		t.Fatalf("closed window = [%v, %v)", first.Window.Start, first.Window.End)
	}
	if first.State.ReadingCount != 3 || first.State.TotalCarbonKg != 750 {
		t.Fatalf("closed state = %+v, want count 3 sum 750", first.State)
	}
	if len(sink.updated()) != 0 {
		t.Fatalf("tumbling windows must not emit updates")
	}
}

func TestSlidingEmitsRefreshedSnapshots(t *testing.T) {
	sink := &capture{}
	engine := newTestEngine(t, sink, window.Sliding("rolling", 10*time.Minute, 30*time.Second, 30*time.Second))

	at := time.Date(2026, 3, 1, 10, 7, 13, 0, time.UTC)
	mustProcess(t, engine, reading("A", at, 100))
	engine.Stop()

	updated := sink.updated()
	if len(updated) != 20 {
		t.Fatalf("got %d updates, want one per overlapping window (20)", len(updated))
	}
	for i, evt := range updated {
		if evt.State.ReadingCount != 1 {
			t.Fatalf("update %d count = %d", i, evt.State.ReadingCount)
		}
		if i > 0 && !updated[i-1].Window.Start.Before(evt.Window.Start) {
			t.Fatalf("updates not in ascending window order")
		}
	}
}

func TestLateWithinLatenessStillApplies(t *testing.T) {
	sink := &capture{}
	engine := newTestEngine(t, sink, window.Tumbling("hourly", time.Hour, 30*time.Second))

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mustProcess(t, engine, reading("A", base.Add(59*time.Minute), 100))
	// Out of order, but the hourly window is still within lateness.
	mustProcess(t, engine, reading("A", base.Add(time.Hour+10*time.Second), 50))
	mustProcess(t, engine, reading("A", base.Add(30*time.Minute), 200))
	engine.Stop()

	closed := sink.closed()
	var first *WindowClosed
	for i := range closed {
		if closed[i].Window.Start.Equal(base) {
			first = &closed[i]
			break
		}
	}
	if first == nil {
		t.Fatalf("first hourly window never closed")
	}
	if first.State.ReadingCount != 2 || first.State.TotalCarbonKg != 300 {
		t.Fatalf("late-but-in-time reading not applied: %+v", first.State)
	}
}

func TestLateBeyondLatenessIsDropped(t *testing.T) {
	sink := &capture{}
	engine := newTestEngine(t, sink, window.Tumbling("hourly", time.Hour, 30*time.Second))

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mustProcess(t, engine, reading("A", base.Add(10*time.Minute), 100))
	// Advances the watermark past base+1h+30s: the first window closes.
	mustProcess(t, engine, reading("A", base.Add(time.Hour+31*time.Second), 10))
	// Late beyond the cutoff; must not reopen or mutate the closed window.
	mustProcess(t, engine, reading("A", base.Add(20*time.Minute), 999))
	engine.Stop()

	closed := sink.closed()
	count := 0
	for _, evt := range closed {
		if evt.Window.Start.Equal(base) {
			count++
			if evt.State.ReadingCount != 1 || evt.State.TotalCarbonKg != 100 {
				t.Fatalf("closed aggregate changed by late event: %+v", evt.State)
			}
		}
	}
	if count != 1 {
		t.Fatalf("window [%v) closed %d times, want exactly once", base, count)
	}
}

func TestStopFlushesOpenWindows(t *testing.T) {
	sink := &capture{}
	engine := newTestEngine(t, sink, window.Tumbling("daily", 24*time.Hour, 30*time.Second))

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mustProcess(t, engine, reading("A", at, 100))
	mustProcess(t, engine, reading("B", at, 200))
	engine.Stop()

	closed := sink.closed()
	if len(closed) != 2 {
		t.Fatalf("got %d final aggregates, want 2", len(closed))
	}
}

func TestReplayDeterminism(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	input := []telemetry.Reading{
		reading("A", base.Add(1*time.Minute), 100),
		reading("B", base.Add(2*time.Minute), 90),
		reading("A", base.Add(90*time.Second), 105), // out of order, within lateness
		reading("A", base.Add(12*time.Minute), 300),
		reading("B", base.Add(70*time.Minute), 80),
		reading("A", base.Add(75*time.Minute), 110),
	}

	run := func() []byte {
		sink := &capture{}
		engine := newTestEngine(t, sink,
			window.Sliding("rolling", 10*time.Minute, 30*time.Second, 30*time.Second),
			window.Tumbling("hourly", time.Hour, 30*time.Second),
		)
		for _, r := range input {
			mustProcess(t, engine, r)
		}
		engine.Stop()

		sink.mu.Lock()
		defer sink.mu.Unlock()
		encoded, err := json.Marshal(sink.records)
		if err != nil {
			t.Fatalf("marshal records: %v", err)
		}
		return encoded
	}

	first := run()
	second := run()
	if string(first) != string(second) {
		t.Fatalf("replay produced different outputs")
	}
}

func TestSnapshotsExposeRetainedClosedWindows(t *testing.T) {
	sink := &capture{}
	spec := window.Sliding("rolling", time.Minute, 30*time.Second, 0)
	spec.RetainClosed = true
	engine := newTestEngine(t, sink, spec)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mustProcess(t, engine, reading("A", base, 100))
	mustProcess(t, engine, reading("A", base.Add(5*time.Minute), 100))

	// Drain before snapshotting: Stop would also flush-close open windows.
	deadline := time.Now().Add(2 * time.Second)
	for {
		snaps := engine.Snapshots()
		closed := 0
		for _, snap := range snaps {
			if snap.Status == StatusClosed {
				closed++
			}
		}
		if closed >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("retained closed windows never appeared: %+v", snaps)
		}
		time.Sleep(10 * time.Millisecond)
	}
	engine.Stop()
}

func TestProcessAfterStopReturnsNotRunning(t *testing.T) {
	engine := newTestEngine(t, &capture{}, window.Tumbling("hourly", time.Hour, 30*time.Second))
	engine.Stop()

	err := engine.Process(reading("A", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), 100))
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("process after stop = %v, want ErrNotRunning", err)
	}
}

func TestConcurrentProcessDuringStop(t *testing.T) {
	engine := newTestEngine(t, &capture{}, window.Tumbling("hourly", time.Hour, 30*time.Second))

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; ; i++ {
				at := base.Add(time.Duration(i) * time.Second)
				err := engine.Process(reading(string(rune('A'+g)), at, 100))
				if err == nil {
					continue
				}
				// Producers racing Stop may only ever see a clean refusal.
				if !errors.Is(err, ErrNotRunning) {
					t.Errorf("process during stop = %v, want ErrNotRunning", err)
				}
				return
			}
		}(g)
	}
	engine.Stop()
	wg.Wait()
}

func mustProcess(t *testing.T, engine *Engine, r telemetry.Reading) {
	t.Helper()
	if err := engine.Process(r); err != nil {
		t.Fatalf("process: %v", err)
	}
}
