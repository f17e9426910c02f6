package telemetry

import (
	"fmt"
	"math"
	"time"
)

// Emission factors in kg CO2 per unit of input.
const (
	CarbonFactorEnergyKWh  = 0.82
	CarbonFactorFuelLiters = 2.31
)

// Timestamp layouts accepted on ingest. The simulator and the upstream
// collectors emit ISO 8601 with fractional seconds and no zone suffix;
// RFC 3339 is accepted for hand-written captures.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	time.RFC3339,
}

// RawReading is an unvalidated reading as decoded from the wire.
type RawReading struct {
	PlantID         string  `json:"plant_id"`
	Timestamp       string  `json:"timestamp"`
	EnergyKWh       float64 `json:"energy_kwh"`
	FuelLiters      float64 `json:"fuel_liters"`
	ProductionUnits int64   `json:"production_units"`
	Temperature     float64 `json:"temperature"`
}

// Reading is a validated sensor reading with the derived carbon metric.
// Immutable once normalized.
type Reading struct {
	PlantID         string    `json:"plant_id"`
	Timestamp       time.Time `json:"timestamp"`
	EnergyKWh       float64   `json:"energy_kwh"`
	FuelLiters      float64   `json:"fuel_liters"`
	ProductionUnits int64     `json:"production_units"`
	Temperature     float64   `json:"temperature"`
	CarbonKg        float64   `json:"carbon_kg"`
}

// MalformedReadingError reports a validation failure naming the offending
// field. Malformed readings are dropped and counted, never fatal.
type MalformedReadingError struct {
	Field  string
	Reason string
}

func (e *MalformedReadingError) Error() string {
	return fmt.Sprintf("malformed reading: field %q: %s", e.Field, e.Reason)
}

// CarbonKg derives the carbon emission in kg for one reading.
func CarbonKg(energyKWh, fuelLiters float64) float64 {
	return energyKWh*CarbonFactorEnergyKWh + fuelLiters*CarbonFactorFuelLiters
}

// Normalize validates a raw reading and produces a typed Reading with the
// derived carbon metric. No rounding is applied; formatting is a sink
// concern.
func Normalize(raw RawReading) (Reading, error) {
	if raw.PlantID == "" {
		return Reading{}, &MalformedReadingError{Field: "plant_id", Reason: "empty"}
	}
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return Reading{}, &MalformedReadingError{Field: "timestamp", Reason: err.Error()}
	}
	if !isFinite(raw.EnergyKWh) {
		return Reading{}, &MalformedReadingError{Field: "energy_kwh", Reason: "not finite"}
	}
	if !isFinite(raw.FuelLiters) {
		return Reading{}, &MalformedReadingError{Field: "fuel_liters", Reason: "not finite"}
	}
	if raw.ProductionUnits < 0 {
		return Reading{}, &MalformedReadingError{Field: "production_units", Reason: "negative"}
	}
	if !isFinite(raw.Temperature) {
		return Reading{}, &MalformedReadingError{Field: "temperature", Reason: "not finite"}
	}

	return Reading{
		PlantID:         raw.PlantID,
		Timestamp:       ts.UTC(),
		EnergyKWh:       raw.EnergyKWh,
		FuelLiters:      raw.FuelLiters,
		ProductionUnits: raw.ProductionUnits,
		Temperature:     raw.Temperature,
		CarbonKg:        CarbonKg(raw.EnergyKWh, raw.FuelLiters),
	}, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty")
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, value)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func isFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
