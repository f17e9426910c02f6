package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	compliance "greenledger/internal/compliance/domain"
)

func violation(plant, rule string, severity compliance.Severity, at time.Time) compliance.Violation {
	return compliance.Violation{
		PlantID:   plant,
		Rule:      rule,
		Severity:  severity,
		Timestamp: at,
	}
}

func TestListViolationsNewestFirst(t *testing.T) {
	store := NewStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v := violation("plant_1", fmt.Sprintf("R%d", i), compliance.SeverityHigh, base.Add(time.Duration(i)*time.Minute))
		if err := store.HandleViolation(ctx, v); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	got, err := store.ListViolations(ctx, ViolationFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d violations, want 3", len(got))
	}
	if got[0].Rule != "R2" || got[2].Rule != "R0" {
		t.Fatalf("not newest first: %+v", got)
	}
}

func TestRingEvictsOldest(t *testing.T) {
	store := NewStore(WithCapacity(5))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		v := violation("plant_1", fmt.Sprintf("R%d", i), compliance.SeverityLow, base.Add(time.Duration(i)*time.Second))
		if err := store.HandleViolation(ctx, v); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	got, err := store.ListViolations(ctx, ViolationFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d violations, want capacity 5", len(got))
	}
	if got[0].Rule != "R7" || got[4].Rule != "R3" {
		t.Fatalf("eviction order wrong: %+v", got)
	}
}

func TestViolationFilters(t *testing.T) {
	store := NewStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	seed := []compliance.Violation{
		violation("plant_1", "THRESHOLD_EXCEEDED", compliance.SeverityHigh, base),
		violation("plant_2", "HIGH_TEMPERATURE", compliance.SeverityLow, base.Add(time.Minute)),
		violation("plant_1", "HOURLY_EMISSION_LIMIT", compliance.SeverityCritical, base.Add(2*time.Minute)),
	}
	for _, v := range seed {
		if err := store.HandleViolation(ctx, v); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	got, _ := store.ListViolations(ctx, ViolationFilter{PlantID: "plant_1"})
	if len(got) != 2 {
		t.Fatalf("plant filter: %+v", got)
	}
	got, _ = store.ListViolations(ctx, ViolationFilter{MinSeverity: compliance.SeverityHigh})
	if len(got) != 2 {
		t.Fatalf("severity filter: %+v", got)
	}
	got, _ = store.ListViolations(ctx, ViolationFilter{From: base.Add(30 * time.Second), To: base.Add(90 * time.Second)})
	if len(got) != 1 || got[0].Rule != "HIGH_TEMPERATURE" {
		t.Fatalf("time filter: %+v", got)
	}
	got, _ = store.ListViolations(ctx, ViolationFilter{Limit: 1})
	if len(got) != 1 || got[0].Rule != "HOURLY_EMISSION_LIMIT" {
		t.Fatalf("limit: %+v", got)
	}
}

func TestLatestScorePerPlant(t *testing.T) {
	store := NewStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	older := compliance.Score{PlantID: "plant_1", WindowEnd: base, Value: 70}
	newer := compliance.Score{PlantID: "plant_1", WindowEnd: base.Add(5 * time.Minute), Value: 80}
	if err := store.HandleScore(ctx, newer); err != nil {
		t.Fatalf("handle: %v", err)
	}
	// Out-of-order refresh must not regress the latest score.
	if err := store.HandleScore(ctx, older); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := store.HandleScore(ctx, compliance.Score{PlantID: "plant_2", WindowEnd: base, Value: 55}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	scores, err := store.LatestScores(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("got %d scores, want 2", len(scores))
	}
	if scores[0].PlantID != "plant_1" || scores[0].Value != 80 {
		t.Fatalf("plant_1 score = %+v, want the newer window", scores[0])
	}

	if _, err := store.ScoreByPlant(ctx, "plant_3"); err != compliance.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
