package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"greenledger/internal/observability/metrics"
	telemetry "greenledger/internal/telemetry/domain"
)

const maxLineBytes = 1 << 20

// Processor consumes normalized readings.
type Processor interface {
	Process(r telemetry.Reading) error
}

// Handler ingests NDJSON readings over HTTP. Each line is validated
// independently; a malformed line is rejected and counted without
// failing the batch.
type Handler struct {
	processor Processor
	logger    *log.Logger
}

// NewHandler constructs an ingest handler.
func NewHandler(processor Processor, logger *log.Logger) (*Handler, error) {
	if processor == nil {
		return nil, errors.New("ingest: nil processor")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{processor: processor, logger: logger}, nil
}

type lineError struct {
	Line   int    `json:"line"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

const maxReportedErrors = 20

// ServeHTTP handles POST /ingest/readings.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveIngest(result, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		result = metrics.ResultError
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	accepted, rejected, lineErrors, err := h.consume(r.Body)
	if err != nil {
		h.logger.Printf("ingest: read body error: %v", err)
		result = metrics.ResultError
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}

	resp := map[string]any{
		"accepted": accepted,
		"rejected": rejected,
	}
	if len(lineErrors) > 0 {
		resp["errors"] = lineErrors
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) consume(body io.Reader) (accepted, rejected int, lineErrors []lineError, err error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		reading, lineErr := decodeLine(line)
		if lineErr != nil {
			rejected++
			metrics.IncReading(metrics.ResultError)
			if len(lineErrors) < maxReportedErrors {
				lineErrors = append(lineErrors, toLineError(lineNo, lineErr))
			}
			continue
		}
		if err := h.processor.Process(reading); err != nil {
			h.logger.Printf("ingest: process line %d: %v", lineNo, err)
			rejected++
			if len(lineErrors) < maxReportedErrors {
				lineErrors = append(lineErrors, lineError{Line: lineNo, Reason: err.Error()})
			}
			continue
		}
		accepted++
	}
	if err := scanner.Err(); err != nil {
		return accepted, rejected, lineErrors, err
	}
	return accepted, rejected, lineErrors, nil
}

func decodeLine(line []byte) (telemetry.Reading, error) {
	var raw telemetry.RawReading
	if err := json.Unmarshal(line, &raw); err != nil {
		metrics.IncMalformedReading("json")
		return telemetry.Reading{}, &telemetry.MalformedReadingError{Field: "json", Reason: err.Error()}
	}
	reading, err := telemetry.Normalize(raw)
	if err != nil {
		var malformed *telemetry.MalformedReadingError
		if errors.As(err, &malformed) {
			metrics.IncMalformedReading(malformed.Field)
		} else {
			metrics.IncMalformedReading("unknown")
		}
		return telemetry.Reading{}, err
	}
	return reading, nil
}

func toLineError(lineNo int, err error) lineError {
	var malformed *telemetry.MalformedReadingError
	if errors.As(err, &malformed) {
		return lineError{Line: lineNo, Field: malformed.Field, Reason: malformed.Reason}
	}
	return lineError{Line: lineNo, Reason: err.Error()}
}
