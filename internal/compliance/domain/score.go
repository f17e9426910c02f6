package compliance

import "time"

// ScoreFunc maps a window's carbon-per-unit efficiency to a compliance
// score in [0, 100].
type ScoreFunc func(efficiency float64) float64

// DefaultScore is the production scoring curve. Efficiency at or below
// EfficiencyMin scores a flat 50; above it the score decays linearly by
// 10 points per unit of efficiency. Note the discontinuity at the
// boundary: efficiency just above 10 scores near 100 while 10 itself
// scores 50. Kept as is for parity with historical reports; pass a
// custom ScoreFunc to change it.
func DefaultScore(efficiency float64) float64 {
	if efficiency > DefaultEfficiencyMin {
		return 100 - (efficiency-DefaultEfficiencyMin)*10
	}
	return 50
}

// Score is the periodic compliance rating for one plant, derived from
// the score window's aggregate each time it refreshes.
type Score struct {
	PlantID     string    `json:"plant_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	TotalCarbon float64   `json:"total_carbon"`
	Production  int64     `json:"total_production"`
	Readings    uint64    `json:"reading_count"`
	Efficiency  float64   `json:"efficiency"`
	Value       float64   `json:"compliance_score"`
}
