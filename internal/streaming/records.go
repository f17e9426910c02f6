package streaming

import (
	"time"

	"greenledger/internal/streaming/aggregate"
	"greenledger/internal/streaming/window"
	telemetry "greenledger/internal/telemetry/domain"
)

// WindowRef identifies one window instance. Consumers treat it as the
// unit of idempotent replace: a re-emitted record with the same ref
// supersedes the previous one.
type WindowRef struct {
	Spec    string      `json:"window"`
	Kind    window.Kind `json:"kind"`
	PlantID string      `json:"plant_id"`
	Start   time.Time   `json:"window_start"`
	End     time.Time   `json:"window_end"`
}

// ReadingApplied is published once per accepted reading, before any
// window delta for it.
type ReadingApplied struct {
	Reading telemetry.Reading `json:"reading"`
}

// WindowUpdated is the refreshed aggregate of a sliding window after a
// reading was applied to it. Tumbling windows do not emit updates; they
// publish a single WindowClosed.
type WindowUpdated struct {
	Window  WindowRef          `json:"window"`
	Reading telemetry.Reading  `json:"reading"`
	State   aggregate.Snapshot `json:"state"`
}

// WindowClosed is the final aggregate of a window once the key's
// watermark passed its end plus lateness, or the engine shut down.
type WindowClosed struct {
	Window WindowRef          `json:"window"`
	State  aggregate.Snapshot `json:"state"`
}

// Window instance status values.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// WindowSnapshot is a point-in-time view of a window instance, served by
// the read API.
type WindowSnapshot struct {
	Window WindowRef          `json:"window"`
	Status string             `json:"status"`
	State  aggregate.Snapshot `json:"state"`
}
