package tui

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/handiism/tdl/internal/model"
)

// LineRenderer prints one line per finished job and, when ShowProgress is
// set, a line for every 10% a job advances. Safe for non-terminal output.
type LineRenderer struct {
	Out          io.Writer
	ShowProgress bool

	labels map[string]string
	steps  map[string]int64
}

// NewLineRenderer creates a renderer writing to out.
func NewLineRenderer(out io.Writer, showProgress bool) *LineRenderer {
	return &LineRenderer{
		Out:          out,
		ShowProgress: showProgress,
		labels:       make(map[string]string),
		steps:        make(map[string]int64),
	}
}

// Run consumes events until the channel is closed.
func (r *LineRenderer) Run(events <-chan model.Event) {
	for e := range events {
		r.Render(e)
	}
}

// Render prints the line for one event, if any.
func (r *LineRenderer) Render(e model.Event) {
	switch e.Type {
	case model.EventQueued:
		r.labels[e.JobID] = e.Label

	case model.EventStarted:
		if r.ShowProgress {
			fmt.Fprintf(r.Out, "[%d] %s: started\n", e.Index+1, e.Label)
		}

	case model.EventProgress:
		if !r.ShowProgress || e.Progress.Total <= 0 {
			return
		}
		step := e.Progress.Bytes * 10 / e.Progress.Total
		if step <= r.steps[e.JobID] || step >= 10 {
			return
		}
		r.steps[e.JobID] = step
		fmt.Fprintf(r.Out, "[%d] %s: %d%% (%s / %s)\n", e.Index+1, r.labels[e.JobID], step*10,
			humanize.IBytes(uint64(e.Progress.Bytes)), humanize.IBytes(uint64(e.Progress.Total)))

	case model.EventFinished:
		delete(r.steps, e.JobID)
		if e.Result == nil {
			return
		}
		res := e.Result
		switch res.Status {
		case model.StatusFailed:
			fmt.Fprintf(r.Out, "[%d] %s: failed: %v\n", e.Index+1, e.Label, res.Err)
		case model.StatusAlreadyExists:
			fmt.Fprintf(r.Out, "[%d] %s: already present\n", e.Index+1, e.Label)
		case model.StatusSucceededUntagged:
			fmt.Fprintf(r.Out, "[%d] %s: done, untagged (%s): %v\n", e.Index+1, e.Label, humanize.IBytes(uint64(max(res.Bytes, 0))), res.Err)
		default:
			fmt.Fprintf(r.Out, "[%d] %s: done (%s)\n", e.Index+1, e.Label, humanize.IBytes(uint64(max(res.Bytes, 0))))
		}
	}
}
