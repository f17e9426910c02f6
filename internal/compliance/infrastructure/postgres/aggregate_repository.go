package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"greenledger/internal/streaming"
)

// AggregateRepository persists final window aggregates. Only closed
// windows are written; re-delivered closures replace the existing row
// so the table always holds the last published state.
type AggregateRepository struct {
	db *sql.DB
}

// NewAggregateRepository constructs a repository.
func NewAggregateRepository(db *sql.DB) *AggregateRepository {
	return &AggregateRepository{db: db}
}

// InsertClosed upserts a closed window aggregate.
func (r *AggregateRepository) InsertClosed(ctx context.Context, evt streaming.WindowClosed) error {
	if r == nil || r.db == nil {
		return errors.New("aggregate repo: nil db")
	}
	ref := evt.Window
	if ref.PlantID == "" || ref.Spec == "" {
		return errors.New("aggregate repo: missing window identity")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO window_aggregates (
	window_name, plant_id, window_start, window_end,
	reading_count, total_energy_kwh, total_fuel_liters, total_production,
	total_carbon_kg, avg_carbon_kg, std_carbon_kg, min_carbon_kg, max_carbon_kg,
	carbon_per_unit, closed_at
) VALUES (
	$1, $2, $3, $4,
	$5, $6, $7, $8,
	$9, $10, $11, $12, $13,
	$14, $15
)
ON CONFLICT (window_name, plant_id, window_start) DO UPDATE SET
	reading_count = EXCLUDED.reading_count,
	total_energy_kwh = EXCLUDED.total_energy_kwh,
	total_fuel_liters = EXCLUDED.total_fuel_liters,
	total_production = EXCLUDED.total_production,
	total_carbon_kg = EXCLUDED.total_carbon_kg,
	avg_carbon_kg = EXCLUDED.avg_carbon_kg,
	std_carbon_kg = EXCLUDED.std_carbon_kg,
	min_carbon_kg = EXCLUDED.min_carbon_kg,
	max_carbon_kg = EXCLUDED.max_carbon_kg,
	carbon_per_unit = EXCLUDED.carbon_per_unit,
	closed_at = EXCLUDED.closed_at`,
		ref.Spec,
		ref.PlantID,
		ref.Start,
		ref.End,
		int64(evt.State.ReadingCount),
		evt.State.TotalEnergyKWh,
		evt.State.TotalFuelLiters,
		evt.State.TotalProduction,
		evt.State.TotalCarbonKg,
		evt.State.AvgCarbonKg,
		evt.State.StdCarbonKg,
		evt.State.MinCarbonKg,
		evt.State.MaxCarbonKg,
		evt.State.CarbonPerUnit,
		time.Now().UTC(),
	)
	return err
}

// TotalCarbonByPlant sums persisted carbon for a plant over one window
// kind and time range.
func (r *AggregateRepository) TotalCarbonByPlant(ctx context.Context, windowName, plantID string, from, to time.Time) (float64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("aggregate repo: nil db")
	}
	var total sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
SELECT SUM(total_carbon_kg)
FROM window_aggregates
WHERE window_name = $1 AND plant_id = $2 AND window_start >= $3 AND window_start < $4`,
		windowName, plantID, from.UTC(), to.UTC()).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}
