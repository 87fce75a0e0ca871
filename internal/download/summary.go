package download

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/handiism/tdl/internal/model"
)

// Summary counts the outcomes of a run.
type Summary struct {
	Total         int
	Succeeded     int
	Untagged      int
	AlreadyExists int
	Failed        int
	Bytes         int64
}

// Summarize tallies results.
func Summarize(results []model.Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case model.StatusSucceeded:
			s.Succeeded++
		case model.StatusSucceededUntagged:
			s.Untagged++
		case model.StatusAlreadyExists:
			s.AlreadyExists++
		case model.StatusFailed:
			s.Failed++
		}
		s.Bytes += r.Bytes
	}
	return s
}

// OK reports whether no job failed.
func (s Summary) OK() bool {
	return s.Failed == 0
}

func (s Summary) String() string {
	return fmt.Sprintf("%d downloaded, %d untagged, %d already present, %d failed (%s)",
		s.Succeeded, s.Untagged, s.AlreadyExists, s.Failed, humanize.IBytes(uint64(max(s.Bytes, 0))))
}
