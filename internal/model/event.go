package model

import "time"

// ProgressEvent reports bytes received for one job. Total is -1 when unknown.
type ProgressEvent struct {
	JobID string
	Bytes int64
	Total int64
	Time  time.Time
}

// EventType distinguishes the events a renderer receives.
type EventType int

const (
	EventQueued EventType = iota
	EventStarted
	EventProgress
	EventFinished
)

// Event is what the scheduler publishes to a progress renderer.
//
// Progress events may be dropped when the renderer lags. Queued, Started and
// Finished events are always delivered unless the run is cancelled.
type Event struct {
	Type     EventType
	JobID    string
	Index    int
	Label    string
	Progress ProgressEvent
	Result   *Result
}
