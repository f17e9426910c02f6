package outputs

import (
	"context"
	"errors"
	"log"
	"reflect"
	"sync"

	"greenledger/internal/observability/metrics"
)

// Handler consumes a published record.
type Handler func(ctx context.Context, record any) error

// Publisher is the engine-facing side of the multiplexer.
type Publisher interface {
	Publish(ctx context.Context, record any) error
}

// ErrNilRecord is returned when a nil record is published.
var ErrNilRecord = errors.New("outputs: nil record")

// ErrInvalidRecordType is returned when the record type cannot be
// determined, or a handler receives an unexpected type.
var ErrInvalidRecordType = errors.New("outputs: invalid record type")

type subscriber struct {
	name    string
	handler Handler
}

// Bus fans records out to subscribed sinks. Delivery is synchronous and
// in publish order, so records produced under a partition's lock reach
// every sink in per-key causal order. A failing or panicking sink is
// isolated: it is logged and counted, and the remaining sinks still
// receive the record.
type Bus struct {
	mu       sync.RWMutex
	logger   *log.Logger
	handlers map[string][]subscriber
}

// NewBus constructs an output multiplexer.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		logger:   logger,
		handlers: make(map[string][]subscriber),
	}
}

// Publish delivers a record to every sink subscribed to its type. Sink
// failures never propagate to the publisher.
func (b *Bus) Publish(ctx context.Context, record any) error {
	if record == nil {
		return ErrNilRecord
	}
	recordType := RecordType(record)
	if recordType == "" {
		return ErrInvalidRecordType
	}

	b.mu.RLock()
	subscribers := append([]subscriber(nil), b.handlers[recordType]...)
	b.mu.RUnlock()

	for _, sub := range subscribers {
		b.deliver(ctx, sub, record)
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, sub subscriber, record any) {
	defer func() {
		if recovered := recover(); recovered != nil {
			metrics.IncSinkFailure(sub.name)
			b.logger.Printf("outputs: sink %s panicked: %v", sub.name, recovered)
		}
	}()
	if err := sub.handler(ctx, record); err != nil {
		metrics.IncSinkFailure(sub.name)
		b.logger.Printf("outputs: sink %s failed: %v", sub.name, err)
	}
}

// Subscribe registers a named sink for a record type.
func (b *Bus) Subscribe(recordType, name string, handler Handler) {
	if recordType == "" || handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers[recordType] = append(b.handlers[recordType], subscriber{name: name, handler: handler})
	b.mu.Unlock()
}

// SubscribeTo registers a typed sink, asserting the record type before
// invoking the handler.
func SubscribeTo[T any](b *Bus, name string, handler func(ctx context.Context, record T) error) {
	b.Subscribe(RecordTypeOf[T](), name, func(ctx context.Context, record any) error {
		typed, ok := record.(T)
		if !ok {
			return ErrInvalidRecordType
		}
		return handler(ctx, typed)
	})
}

// SubscribeFiltered registers a typed sink that only sees records
// matching the predicate.
func SubscribeFiltered[T any](b *Bus, name string, predicate func(record T) bool, handler func(ctx context.Context, record T) error) {
	SubscribeTo(b, name, func(ctx context.Context, record T) error {
		if predicate != nil && !predicate(record) {
			return nil
		}
		return handler(ctx, record)
	})
}

// RecordType returns the fully-qualified type name for a record instance.
func RecordType(record any) string {
	if record == nil {
		return ""
	}
	t := reflect.TypeOf(record)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}

// RecordTypeOf returns the fully-qualified type name for a type parameter.
func RecordTypeOf[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
