package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	compliance "greenledger/internal/compliance/domain"
)

// ViolationRepository persists violations for audit and reporting.
// Inserts are idempotent on (plant_id, rule, window_start, timestamp):
// at-least-once delivery from the bus becomes exactly-once rows.
type ViolationRepository struct {
	db *sql.DB
}

// NewViolationRepository constructs a repository.
func NewViolationRepository(db *sql.DB) *ViolationRepository {
	return &ViolationRepository{db: db}
}

// Insert stores a violation. Conflicting re-deliveries are ignored.
func (r *ViolationRepository) Insert(ctx context.Context, v compliance.Violation) error {
	if r == nil || r.db == nil {
		return errors.New("violation repo: nil db")
	}
	if v.PlantID == "" || v.Rule == "" {
		return errors.New("violation repo: missing fields")
	}
	var windowJSON []byte
	var windowStart sql.NullTime
	if v.Window != nil {
		encoded, err := json.Marshal(v.Window)
		if err != nil {
			return err
		}
		windowJSON = encoded
		windowStart = sql.NullTime{Time: v.Window.Start, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO violations (
	plant_id, rule, severity, observed_value, threshold,
	window_start, window_ref, occurred_at, message, created_at
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8, $9, $10
)
ON CONFLICT (plant_id, rule, window_start, occurred_at) DO NOTHING`,
		v.PlantID,
		v.Rule,
		string(v.Severity),
		v.ObservedValue,
		v.Threshold,
		windowStart,
		nullableJSON(windowJSON),
		v.Timestamp,
		v.Message,
		time.Now().UTC(),
	)
	return err
}

// ListByPlantAndTime lists violations for a plant, newest first.
func (r *ViolationRepository) ListByPlantAndTime(ctx context.Context, plantID string, from, to time.Time, limit int) ([]compliance.Violation, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("violation repo: nil db")
	}
	if plantID == "" {
		return nil, errors.New("violation repo: plant id required")
	}
	query := `
SELECT plant_id, rule, severity, observed_value, threshold, window_ref, occurred_at, message
FROM violations
WHERE plant_id = $1 AND occurred_at >= $2 AND occurred_at < $3
ORDER BY occurred_at DESC`
	args := []any{plantID, from.UTC(), to.UTC()}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []compliance.Violation
	for rows.Next() {
		var v compliance.Violation
		var severity string
		var windowJSON []byte
		if err := rows.Scan(&v.PlantID, &v.Rule, &severity, &v.ObservedValue, &v.Threshold, &windowJSON, &v.Timestamp, &v.Message); err != nil {
			return nil, err
		}
		v.Severity = compliance.Severity(severity)
		v.Timestamp = v.Timestamp.UTC()
		if len(windowJSON) > 0 {
			var window compliance.WindowRange
			if err := json.Unmarshal(windowJSON, &window); err != nil {
				return nil, err
			}
			v.Window = &window
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullableJSON(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}
