package outputs

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// NDJSONSink writes enveloped records as newline-delimited JSON. This is
// the serialized record stream external collaborators (dashboard,
// explanation service) tail.
type NDJSONSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewNDJSONSink constructs an NDJSON sink over a writer.
func NewNDJSONSink(w io.Writer) (*NDJSONSink, error) {
	if w == nil {
		return nil, ErrNilWriter
	}
	return &NDJSONSink{w: w}, nil
}

// Handle implements Handler for any record type.
func (s *NDJSONSink) Handle(_ context.Context, record any) error {
	env, err := BuildEnvelope(record, time.Time{})
	if err != nil {
		return err
	}
	line, err := json.Marshal(env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return err
	}
	_, err = s.w.Write([]byte("\n"))
	return err
}
