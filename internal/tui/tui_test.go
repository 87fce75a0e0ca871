package tui

import (
	"bytes"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/handiism/tdl/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finished(id string, idx int, label string, res model.Result) model.Event {
	return model.Event{Type: model.EventFinished, JobID: id, Index: idx, Label: label, Result: &res}
}

func TestModel_Events(t *testing.T) {
	events := make(chan model.Event)
	m := NewModel(events, nil)

	steps := []model.Event{
		{Type: model.EventQueued, JobID: "a", Index: 0, Label: "Artist - One"},
		{Type: model.EventQueued, JobID: "b", Index: 1, Label: "Artist - Two"},
		{Type: model.EventStarted, JobID: "a", Index: 0, Label: "Artist - One"},
		{Type: model.EventProgress, JobID: "a", Progress: model.ProgressEvent{Bytes: 512, Total: 2048}},
		{Type: model.EventProgress, JobID: "a", Progress: model.ProgressEvent{Bytes: 100, Total: 2048}},
	}
	for _, e := range steps {
		next, _ := m.Update(EventMsg{Event: e})
		m = next.(Model)
	}

	assert.Equal(t, 2, m.queued)
	assert.Equal(t, int64(512), m.rows["a"].bytes, "progress never goes backwards")
	view := m.View()
	assert.Contains(t, view, "Downloading 0/2")
	assert.Contains(t, view, "Artist - One")
	assert.Contains(t, view, "512 B / 2.0 KiB")
	assert.NotContains(t, view, "Artist - Two", "queued jobs are not listed")

	next, _ := m.Update(EventMsg{Event: finished("a", 0, "Artist - One", model.Result{Status: model.StatusSucceeded, Bytes: 2048})})
	m = next.(Model)
	next, _ = m.Update(EventMsg{Event: finished("b", 1, "Artist - Two", model.Result{Status: model.StatusFailed, Err: errors.New("HTTP 404")})})
	m = next.(Model)

	view = m.View()
	assert.Contains(t, view, "Artist - One (2.0 KiB)")
	assert.Contains(t, view, "Artist - Two: HTTP 404")

	next, cmd := m.Update(DoneMsg{})
	m = next.(Model)
	assert.Equal(t, StateComplete, m.state)
	require.NotNil(t, cmd)
	assert.Contains(t, m.View(), "Failed: 1")
}

func TestModel_SkippedOnlyWhenVerbose(t *testing.T) {
	m := NewModel(make(chan model.Event), nil)
	next, _ := m.Update(EventMsg{Event: finished("a", 0, "Old Track", model.Result{Status: model.StatusAlreadyExists})})
	m = next.(Model)
	assert.NotContains(t, m.View(), "Old Track")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("v")})
	m = next.(Model)
	assert.Contains(t, m.View(), "Old Track")
}

func TestModel_EscCancels(t *testing.T) {
	cancelled := false
	m := NewModel(make(chan model.Event), func() { cancelled = true })

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)

	assert.True(t, cancelled)
	assert.Equal(t, StateCancelled, m.state)
}

func TestModel_WaitForEvent(t *testing.T) {
	events := make(chan model.Event, 1)
	m := NewModel(events, nil)

	events <- model.Event{Type: model.EventQueued, JobID: "a"}
	assert.Equal(t, EventMsg{Event: model.Event{Type: model.EventQueued, JobID: "a"}}, m.waitForEvent()())

	close(events)
	assert.Equal(t, DoneMsg{}, m.waitForEvent()())
}

func TestLineRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewLineRenderer(&buf, true)

	events := make(chan model.Event, 16)
	events <- model.Event{Type: model.EventQueued, JobID: "a", Index: 0, Label: "A - One"}
	events <- model.Event{Type: model.EventStarted, JobID: "a", Index: 0, Label: "A - One"}
	events <- model.Event{Type: model.EventProgress, JobID: "a", Index: 0, Progress: model.ProgressEvent{Bytes: 50, Total: 100}}
	events <- model.Event{Type: model.EventProgress, JobID: "a", Index: 0, Progress: model.ProgressEvent{Bytes: 52, Total: 100}}
	events <- model.Event{Type: model.EventProgress, JobID: "a", Index: 0, Progress: model.ProgressEvent{Bytes: 100, Total: 100}}
	events <- finished("a", 0, "A - One", model.Result{Status: model.StatusSucceeded, Bytes: 100})
	events <- finished("b", 1, "A - Two", model.Result{Status: model.StatusAlreadyExists})
	events <- finished("c", 2, "A - Three", model.Result{Status: model.StatusFailed, Err: errors.New("truncated")})
	close(events)

	r.Run(events)

	assert.Equal(t, ""+
		"[1] A - One: started\n"+
		"[1] A - One: 50% (50 B / 100 B)\n"+
		"[1] A - One: done (100 B)\n"+
		"[2] A - Two: already present\n"+
		"[3] A - Three: failed: truncated\n",
		buf.String())
}

func TestLineRenderer_Quiet(t *testing.T) {
	var buf bytes.Buffer
	r := NewLineRenderer(&buf, false)

	r.Render(model.Event{Type: model.EventStarted, JobID: "a", Label: "x"})
	r.Render(model.Event{Type: model.EventProgress, JobID: "a", Progress: model.ProgressEvent{Bytes: 5, Total: 10}})
	assert.Empty(t, buf.String())
}
