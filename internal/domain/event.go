package domain

import "time"

// Event levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Event is one append-only log line in a job's history. IDs increase
// monotonically so polling clients can resume from a cursor.
type Event struct {
	ID        int64
	JobID     string
	Level     string
	Message   string
	CreatedAt time.Time
}
