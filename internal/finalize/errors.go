package finalize

import (
	"fmt"

	"github.com/handiism/tdl/internal/audio"
)

// ErrUnsupportedFormat is reported for audio formats the tagger cannot write.
var ErrUnsupportedFormat = audio.ErrUnsupportedFormat

// RenderError is a destination template that could not be rendered.
type RenderError struct {
	Template string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render destination %q: %v", e.Template, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// MoveError is a failure to place the file at its destination.
type MoveError struct {
	Src string
	Dst string
	Err error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("move %s to %s: %v", e.Src, e.Dst, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }

// TagError is a tagging failure. The file stays in place untagged.
type TagError struct {
	Path string
	Err  error
}

func (e *TagError) Error() string {
	return fmt.Sprintf("tag %s: %v", e.Path, e.Err)
}

func (e *TagError) Unwrap() error { return e.Err }
