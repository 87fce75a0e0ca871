package model

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a job.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusSucceeded
	StatusSucceededUntagged
	StatusAlreadyExists
	StatusFailed
)

// ErrTerminal is returned when a job in a terminal state is asked to move.
var ErrTerminal = errors.New("job already in terminal state")

// String returns the status name used in logs, metrics and summaries.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusSucceeded:
		return "succeeded"
	case StatusSucceededUntagged:
		return "succeeded_untagged"
	case StatusAlreadyExists:
		return "already_exists"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s >= StatusSucceeded
}

// OK reports whether the status counts as a success for the caller.
func (s Status) OK() bool {
	return s == StatusSucceeded || s == StatusSucceededUntagged || s == StatusAlreadyExists
}

// Job is the runtime state of one descriptor.
//
// Only the worker that moved the job to InProgress mutates it.
type Job struct {
	ID         string
	Index      int
	Descriptor StreamDescriptor

	Status   Status
	Bytes    int64
	Attempts int
	Err      error

	// Path is the final destination once known.
	Path string

	StartedAt  time.Time
	FinishedAt time.Time
}

// NewJob creates a pending job for the descriptor at the given input position.
func NewJob(id string, index int, d StreamDescriptor) *Job {
	return &Job{ID: id, Index: index, Descriptor: d, Status: StatusPending}
}

// Start moves a pending job to InProgress.
func (j *Job) Start(now time.Time) error {
	if j.Status != StatusPending {
		return fmt.Errorf("start job %s from %s: %w", j.ID, j.Status, errOrTerminal(j.Status))
	}
	j.Status = StatusInProgress
	j.StartedAt = now
	return nil
}

// Finish moves the job to a terminal status. err is recorded for Failed.
func (j *Job) Finish(s Status, err error, now time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("finish job %s as %s: %w", j.ID, s, ErrTerminal)
	}
	if !s.Terminal() {
		return fmt.Errorf("finish job %s: %s is not terminal", j.ID, s)
	}
	j.Status = s
	j.Err = err
	j.FinishedAt = now
	return nil
}

// Result builds the caller-facing outcome of a terminal job.
func (j *Job) Result() Result {
	return Result{
		JobID:      j.ID,
		Descriptor: j.Descriptor,
		Status:     j.Status,
		Path:       j.Path,
		Bytes:      j.Bytes,
		Attempts:   j.Attempts,
		Err:        j.Err,
	}
}

func errOrTerminal(s Status) error {
	if s.Terminal() {
		return ErrTerminal
	}
	return errors.New("job not pending")
}

// Result is the outcome reported for one input descriptor.
type Result struct {
	JobID      string
	Descriptor StreamDescriptor
	Status     Status
	Path       string
	Bytes      int64
	Attempts   int
	Err        error
}
