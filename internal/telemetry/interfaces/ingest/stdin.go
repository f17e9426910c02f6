package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log"

	"greenledger/internal/observability/metrics"
)

// StdinReader feeds NDJSON readings from a stream into the processor.
// Used for pipeline deployments where a collector writes to stdin.
type StdinReader struct {
	source    io.Reader
	processor Processor
	logger    *log.Logger
}

// NewStdinReader constructs a stream reader.
func NewStdinReader(source io.Reader, processor Processor, logger *log.Logger) (*StdinReader, error) {
	if source == nil {
		return nil, errors.New("ingest: nil source")
	}
	if processor == nil {
		return nil, errors.New("ingest: nil processor")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &StdinReader{source: source, processor: processor, logger: logger}, nil
}

// Run consumes the stream until EOF or context cancellation. Malformed
// lines are dropped and counted, never fatal.
func (r *StdinReader) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(r.source)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		reading, err := decodeLine(line)
		if err != nil {
			metrics.IncReading(metrics.ResultError)
			r.logger.Printf("ingest: drop line %d: %v", lineNo, err)
			continue
		}
		if err := r.processor.Process(reading); err != nil {
			r.logger.Printf("ingest: process line %d: %v", lineNo, err)
		}
	}
	return scanner.Err()
}
