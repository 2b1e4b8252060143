package domain

import "time"

// LogEvent is one unit of build output. Events are append-only; they are
// removed only in bulk when the owning project is deleted.
type LogEvent struct {
	EventID      string
	DeploymentID string
	Log          string
	Timestamp    time.Time
}
