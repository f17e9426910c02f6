package streaming

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sort"
	"sync"
	"time"

	"greenledger/internal/observability/metrics"
	"greenledger/internal/outputs"
	"greenledger/internal/streaming/aggregate"
	"greenledger/internal/streaming/window"
	telemetry "greenledger/internal/telemetry/domain"
)

// ErrNotRunning is returned by Process outside the Start/Stop lifecycle.
var ErrNotRunning = errors.New("streaming: engine not running")

const defaultBuffer = 256

// Engine owns all window state. Readings are sharded by plant across
// partition workers; each partition processes its keys strictly
// sequentially in arrival order, so no cross-partition locking exists.
// Window closing is driven by per-key event-time watermarks, never by
// the wall clock.
type Engine struct {
	specs      []window.Spec
	specByName map[string]window.Spec
	pub        outputs.Publisher
	logger     *log.Logger
	retention  time.Duration
	buffer     int

	partitions []*partition
	wg         sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

// Option configures the engine.
type Option func(*Engine)

// WithPartitions sets the number of partition workers.
func WithPartitions(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.partitions = make([]*partition, n)
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRetention sets how long closed windows with RetainClosed stay
// available after the watermark passes them.
func WithRetention(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retention = d
		}
	}
}

// WithBuffer sets the per-partition input channel capacity.
func WithBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.buffer = n
		}
	}
}

// NewEngine validates the window specs and constructs an engine. Spec
// validation failures are fatal configuration errors; the caller must
// refuse to run.
func NewEngine(specs []window.Spec, pub outputs.Publisher, opts ...Option) (*Engine, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no window specs", window.ErrInvalidSpec)
	}
	if pub == nil {
		return nil, errors.New("streaming: nil publisher")
	}
	byName := make(map[string]window.Spec, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, exists := byName[spec.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate spec %q", window.ErrInvalidSpec, spec.Name)
		}
		byName[spec.Name] = spec
	}

	engine := &Engine{
		specs:      append([]window.Spec(nil), specs...),
		specByName: byName,
		pub:        pub,
		logger:     log.Default(),
		retention:  time.Hour,
		buffer:     defaultBuffer,
		partitions: make([]*partition, 1),
	}
	for _, opt := range opts {
		opt(engine)
	}
	for i := range engine.partitions {
		engine.partitions[i] = newPartition(engine, i)
	}
	return engine, nil
}

// Start launches the partition workers.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("streaming: engine already started")
	}
	e.started = true
	for _, p := range e.partitions {
		e.wg.Add(1)
		go func(p *partition) {
			defer e.wg.Done()
			p.run()
		}(p)
	}
	return nil
}

// Process routes a normalized reading to its key's partition. Blocks
// only when the partition's buffer is full (backpressure).
func (e *Engine) Process(r telemetry.Reading) error {
	// The read lock is held across the send so Stop cannot close the
	// partition channels while a send is in flight.
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started || e.stopped {
		return ErrNotRunning
	}
	e.partitionFor(r.PlantID).input <- r
	return nil
}

// Stop drains remaining input, then closes every live window and
// publishes its final aggregate. No partially updated window is ever
// observable by a sink.
func (e *Engine) Stop() {
	// Taking the write lock waits out in-flight Process sends; once
	// stopped is set, late callers get ErrNotRunning instead of a send
	// on a closed channel.
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	for _, p := range e.partitions {
		close(p.input)
	}
	e.wg.Wait()
	for _, p := range e.partitions {
		p.closeAll()
	}
}

// Snapshots returns the current state of every live and retained window,
// ordered by (spec, plant, start) for deterministic output.
func (e *Engine) Snapshots() []WindowSnapshot {
	var all []WindowSnapshot
	for _, p := range e.partitions {
		all = append(all, p.snapshots()...)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].Window, all[j].Window
		if a.Spec != b.Spec {
			return a.Spec < b.Spec
		}
		if a.PlantID != b.PlantID {
			return a.PlantID < b.PlantID
		}
		return a.Start.Before(b.Start)
	})
	return all
}

func (e *Engine) partitionFor(key string) *partition {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return e.partitions[int(h.Sum32())%len(e.partitions)]
}

func (e *Engine) publish(record any) {
	// Sink failures are isolated inside the bus; nothing propagates here.
	if err := e.pub.Publish(context.Background(), record); err != nil {
		e.logger.Printf("streaming: publish %s: %v", outputs.RecordType(record), err)
	}
}

type instanceKey struct {
	spec  string
	start int64
	end   int64
}

type instance struct {
	ref WindowRef
	agg aggregate.Aggregate
}

type keyState struct {
	watermark time.Time
	windows   map[instanceKey]*instance
	retained  map[instanceKey]*instance
}

type partition struct {
	engine *Engine
	name   string
	input  chan telemetry.Reading

	mu   sync.Mutex
	keys map[string]*keyState
}

func newPartition(engine *Engine, index int) *partition {
	return &partition{
		engine: engine,
		name:   fmt.Sprintf("p%d", index),
		input:  make(chan telemetry.Reading, engine.buffer),
		keys:   make(map[string]*keyState),
	}
}

func (p *partition) run() {
	for r := range p.input {
		p.process(r)
	}
}

func (p *partition) process(r telemetry.Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ks := p.keys[r.PlantID]
	if ks == nil {
		ks = &keyState{
			windows:  make(map[instanceKey]*instance),
			retained: make(map[instanceKey]*instance),
		}
		p.keys[r.PlantID] = ks
	}

	p.engine.publish(ReadingApplied{Reading: r})
	metrics.IncReading(metrics.ResultSuccess)

	for _, spec := range p.engine.specs {
		for _, iv := range spec.Intervals(r.Timestamp) {
			ik := instanceKey{spec: spec.Name, start: iv.Start.UnixNano(), end: iv.End.UnixNano()}
			if !ks.watermark.IsZero() && ks.watermark.After(iv.End.Add(spec.Lateness)) {
				// The window already closed for this key; the reading is
				// late beyond the cutoff.
				metrics.IncLateDropped(spec.Name)
				continue
			}
			inst := ks.windows[ik]
			if inst == nil {
				inst = &instance{ref: WindowRef{
					Spec:    spec.Name,
					Kind:    spec.Kind,
					PlantID: r.PlantID,
					Start:   iv.Start,
					End:     iv.End,
				}}
				ks.windows[ik] = inst
				metrics.IncWindowOpened(spec.Name)
			}
			inst.agg.Apply(r)
			if spec.Kind == window.KindSliding {
				p.engine.publish(WindowUpdated{Window: inst.ref, Reading: r, State: inst.agg.Snapshot()})
			}
		}
	}

	if r.Timestamp.After(ks.watermark) {
		ks.watermark = r.Timestamp
		p.closeDue(ks)
	}
	metrics.SetWatermarkLag(p.name, time.Since(ks.watermark))
}

// closeDue closes every window whose end plus lateness is behind the
// key's watermark, in deterministic (spec, start) order.
func (p *partition) closeDue(ks *keyState) {
	var due []instanceKey
	for ik := range ks.windows {
		spec := p.engine.specByName[ik.spec]
		end := time.Unix(0, ik.end).UTC()
		if ks.watermark.After(end.Add(spec.Lateness)) {
			due = append(due, ik)
		}
	}
	sortInstanceKeys(due)
	for _, ik := range due {
		p.closeInstance(ks, ik)
	}
	p.evict(ks)
}

func (p *partition) closeInstance(ks *keyState, ik instanceKey) {
	inst := ks.windows[ik]
	if inst == nil {
		return
	}
	delete(ks.windows, ik)
	spec := p.engine.specByName[ik.spec]
	if spec.RetainClosed {
		ks.retained[ik] = inst
	}
	metrics.IncWindowClosed(ik.spec)
	p.engine.publish(WindowClosed{Window: inst.ref, State: inst.agg.Snapshot()})
}

// evict drops retained windows past the retention horizon.
func (p *partition) evict(ks *keyState) {
	if len(ks.retained) == 0 {
		return
	}
	horizon := ks.watermark.Add(-p.engine.retention)
	for ik := range ks.retained {
		if time.Unix(0, ik.end).UTC().Before(horizon) {
			delete(ks.retained, ik)
		}
	}
}

// closeAll finalizes every remaining window on shutdown.
func (p *partition) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.keys))
	for key := range p.keys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		ks := p.keys[key]
		var remaining []instanceKey
		for ik := range ks.windows {
			remaining = append(remaining, ik)
		}
		sortInstanceKeys(remaining)
		for _, ik := range remaining {
			p.closeInstance(ks, ik)
		}
	}
}

func (p *partition) snapshots() []WindowSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []WindowSnapshot
	for _, ks := range p.keys {
		for _, inst := range ks.windows {
			out = append(out, WindowSnapshot{Window: inst.ref, Status: StatusOpen, State: inst.agg.Snapshot()})
		}
		for _, inst := range ks.retained {
			out = append(out, WindowSnapshot{Window: inst.ref, Status: StatusClosed, State: inst.agg.Snapshot()})
		}
	}
	return out
}

func sortInstanceKeys(keys []instanceKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].spec != keys[j].spec {
			return keys[i].spec < keys[j].spec
		}
		if keys[i].start != keys[j].start {
			return keys[i].start < keys[j].start
		}
		return keys[i].end < keys[j].end
	})
}
