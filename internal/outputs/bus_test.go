package outputs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

type testRecord struct {
	Key   string
	Value int
}

type otherRecord struct {
	Name string
}

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus(log.New(&bytes.Buffer{}, "", 0))

	var mu sync.Mutex
	var seen []int
	SubscribeTo(bus, "collector", func(_ context.Context, record testRecord) error {
		mu.Lock()
		seen = append(seen, record.Value)
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		if err := bus.Publish(context.Background(), testRecord{Key: "A", Value: i}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	if len(seen) != 5 {
		t.Fatalf("got %d records, want 5", len(seen))
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("out of order at %d: got %d", i, v)
		}
	}
}

func TestSinkFailureIsIsolated(t *testing.T) {
	var logged bytes.Buffer
	bus := NewBus(log.New(&logged, "", 0))

	SubscribeTo(bus, "failing", func(_ context.Context, _ testRecord) error {
		return errors.New("sink down")
	})
	SubscribeTo(bus, "panicking", func(_ context.Context, _ testRecord) error {
		panic("sink panic")
	})
	delivered := 0
	SubscribeTo(bus, "healthy", func(_ context.Context, _ testRecord) error {
		delivered++
		return nil
	})

	if err := bus.Publish(context.Background(), testRecord{Key: "A"}); err != nil {
		t.Fatalf("publish must not propagate sink errors, got %v", err)
	}
	if delivered != 1 {
		t.Fatalf("healthy sink not reached, delivered=%d", delivered)
	}
	out := logged.String()
	if !strings.Contains(out, "failing") || !strings.Contains(out, "panicking") {
		t.Fatalf("expected both failures logged, got %q", out)
	}
}

func TestSubscribeFiltered(t *testing.T) {
	bus := NewBus(log.New(&bytes.Buffer{}, "", 0))

	var seen []string
	SubscribeFiltered(bus, "filtered",
		func(record testRecord) bool { return record.Key == "B" },
		func(_ context.Context, record testRecord) error {
			seen = append(seen, record.Key)
			return nil
		})

	_ = bus.Publish(context.Background(), testRecord{Key: "A"})
	_ = bus.Publish(context.Background(), testRecord{Key: "B"})
	_ = bus.Publish(context.Background(), otherRecord{Name: "ignored"})

	if len(seen) != 1 || seen[0] != "B" {
		t.Fatalf("filtered sink saw %v, want [B]", seen)
	}
}

func TestPublishNilRecord(t *testing.T) {
	bus := NewBus(log.New(&bytes.Buffer{}, "", 0))
	if err := bus.Publish(context.Background(), nil); !errors.Is(err, ErrNilRecord) {
		t.Fatalf("expected ErrNilRecord, got %v", err)
	}
}

func TestNDJSONSinkWritesEnvelope(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewNDJSONSink(&buf)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := sink.Handle(context.Background(), testRecord{Key: "A", Value: 7}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.RecordType != RecordTypeOf[testRecord]() {
		t.Fatalf("record_type = %q", env.RecordType)
	}
	if env.Key != "A" {
		t.Fatalf("key = %q, want A", env.Key)
	}
	if env.OccurredAt.IsZero() || time.Since(env.OccurredAt) > time.Minute {
		t.Fatalf("occurred_at not set: %v", env.OccurredAt)
	}
}
