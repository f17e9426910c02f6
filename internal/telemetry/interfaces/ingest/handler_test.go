package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	telemetry "greenledger/internal/telemetry/domain"
)

type recordingProcessor struct {
	readings []telemetry.Reading
}

func (p *recordingProcessor) Process(r telemetry.Reading) error {
	p.readings = append(p.readings, r)
	return nil
}

func quietLogger() *log.Logger {
	return log.New(&bytes.Buffer{}, "", 0)
}

func TestIngestHandlerMixedBatch(t *testing.T) {
	processor := &recordingProcessor{}
	handler, err := NewHandler(processor, quietLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	body := strings.Join([]string{
		`{"plant_id":"plant_1","timestamp":"2026-03-01T10:00:00","energy_kwh":100,"fuel_liters":10,"production_units":5,"temperature":25}`,
		`{"plant_id":"","timestamp":"2026-03-01T10:00:30","energy_kwh":100,"fuel_liters":0,"production_units":1,"temperature":25}`,
		`not json at all`,
		``,
		`{"plant_id":"plant_2","timestamp":"2026-03-01T10:01:00","energy_kwh":50,"fuel_liters":0,"production_units":2,"temperature":30}`,
	}, "\n")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest/readings", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Accepted int `json:"accepted"`
		Rejected int `json:"rejected"`
		Errors   []struct {
			Line   int    `json:"line"`
			Field  string `json:"field"`
			Reason string `json:"reason"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Accepted != 2 || resp.Rejected != 2 {
		t.Fatalf("accepted/rejected = %d/%d, want 2/2", resp.Accepted, resp.Rejected)
	}
	if len(resp.Errors) != 2 {
		t.Fatalf("errors = %+v", resp.Errors)
	}
	if resp.Errors[0].Line != 2 || resp.Errors[0].Field != "plant_id" {
		t.Fatalf("first error = %+v", resp.Errors[0])
	}
	if resp.Errors[1].Line != 3 || resp.Errors[1].Field != "json" {
		t.Fatalf("second error = %+v", resp.Errors[1])
	}

	if len(processor.readings) != 2 {
		t.Fatalf("processed %d readings", len(processor.readings))
	}
	first := processor.readings[0]
	if first.PlantID != "plant_1" || first.CarbonKg != 100*telemetry.CarbonFactorEnergyKWh+10*telemetry.CarbonFactorFuelLiters {
		t.Fatalf("first reading = %+v", first)
	}
}

func TestIngestHandlerRejectsGet(t *testing.T) {
	handler, err := NewHandler(&recordingProcessor{}, quietLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/readings", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStdinReader(t *testing.T) {
	processor := &recordingProcessor{}
	input := strings.Join([]string{
		`{"plant_id":"plant_1","timestamp":"2026-03-01T10:00:00","energy_kwh":100,"fuel_liters":0,"production_units":1,"temperature":25}`,
		`broken`,
		`{"plant_id":"plant_1","timestamp":"2026-03-01T10:00:30","energy_kwh":110,"fuel_liters":0,"production_units":1,"temperature":25}`,
	}, "\n")

	reader, err := NewStdinReader(strings.NewReader(input), processor, quietLogger())
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	if err := reader.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(processor.readings) != 2 {
		t.Fatalf("processed %d readings, want 2", len(processor.readings))
	}
	want := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	if !processor.readings[1].Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v", processor.readings[1].Timestamp)
	}
}
