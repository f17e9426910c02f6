package aggregate

import (
	"math"

	telemetry "greenledger/internal/telemetry/domain"
)

// Aggregate accumulates readings for one window instance. Sums, count and
// min/max are order-independent; mean and m2 follow Welford's online
// algorithm over carbon_kg so the standard deviation never needs the raw
// readings.
type Aggregate struct {
	Count           uint64
	TotalEnergyKWh  float64
	TotalFuelLiters float64
	TotalProduction int64
	TotalCarbonKg   float64
	MinCarbonKg     float64
	MaxCarbonKg     float64

	mean float64
	m2   float64
}

// Apply folds one reading into the aggregate.
func (a *Aggregate) Apply(r telemetry.Reading) {
	if a.Count == 0 {
		a.MinCarbonKg = r.CarbonKg
		a.MaxCarbonKg = r.CarbonKg
	} else {
		if r.CarbonKg < a.MinCarbonKg {
			a.MinCarbonKg = r.CarbonKg
		}
		if r.CarbonKg > a.MaxCarbonKg {
			a.MaxCarbonKg = r.CarbonKg
		}
	}
	a.Count++
	a.TotalEnergyKWh += r.EnergyKWh
	a.TotalFuelLiters += r.FuelLiters
	a.TotalProduction += r.ProductionUnits
	a.TotalCarbonKg += r.CarbonKg

	delta := r.CarbonKg - a.mean
	a.mean += delta / float64(a.Count)
	a.m2 += delta * (r.CarbonKg - a.mean)
}

// Mean returns the running carbon mean, 0 for an empty aggregate.
func (a Aggregate) Mean() float64 { return a.mean }

// Std returns the population standard deviation of carbon_kg. An empty
// aggregate has no signal and reports 0.
func (a Aggregate) Std() float64 {
	if a.Count == 0 || a.m2 <= 0 {
		return 0
	}
	return math.Sqrt(a.m2 / float64(a.Count))
}

// Efficiency returns carbon per production unit, 0 when nothing was
// produced (zero-denominator guard, not a violation condition).
func (a Aggregate) Efficiency() float64 {
	if a.TotalProduction <= 0 {
		return 0
	}
	return a.TotalCarbonKg / float64(a.TotalProduction)
}

// Snapshot is the externally visible aggregate state of a window.
type Snapshot struct {
	ReadingCount    uint64  `json:"reading_count"`
	TotalEnergyKWh  float64 `json:"total_energy_kwh"`
	TotalFuelLiters float64 `json:"total_fuel_liters"`
	TotalProduction int64   `json:"total_production"`
	TotalCarbonKg   float64 `json:"total_carbon_kg"`
	AvgCarbonKg     float64 `json:"avg_carbon_per_reading"`
	StdCarbonKg     float64 `json:"std_carbon_kg"`
	MinCarbonKg     float64 `json:"min_carbon_kg"`
	MaxCarbonKg     float64 `json:"max_carbon_kg"`
	CarbonPerUnit   float64 `json:"carbon_per_unit"`
}

// MeanStdExcluding returns the carbon mean and standard deviation as
// they would be with one occurrence of value removed, reconstructing m2
// from the population std. Leave-one-out spike evaluation uses this;
// with fewer than two readings there is no remaining signal.
func (s Snapshot) MeanStdExcluding(value float64) (float64, float64) {
	if s.ReadingCount < 2 {
		return 0, 0
	}
	n := float64(s.ReadingCount)
	m2 := s.StdCarbonKg * s.StdCarbonKg * n
	mean := (n*s.AvgCarbonKg - value) / (n - 1)
	m2 -= (value - mean) * (value - s.AvgCarbonKg)
	if m2 <= 0 {
		return mean, 0
	}
	return mean, math.Sqrt(m2 / (n - 1))
}

// Snapshot captures the current aggregate state.
func (a Aggregate) Snapshot() Snapshot {
	return Snapshot{
		ReadingCount:    a.Count,
		TotalEnergyKWh:  a.TotalEnergyKWh,
		TotalFuelLiters: a.TotalFuelLiters,
		TotalProduction: a.TotalProduction,
		TotalCarbonKg:   a.TotalCarbonKg,
		AvgCarbonKg:     a.mean,
		StdCarbonKg:     a.Std(),
		MinCarbonKg:     a.MinCarbonKg,
		MaxCarbonKg:     a.MaxCarbonKg,
		CarbonPerUnit:   a.Efficiency(),
	}
}
