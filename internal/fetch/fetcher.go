// Package fetch streams one descriptor's bytes into a temporary file.
//
// A Fetcher writes to ".tdl-<uuid>.part" next to the final destination,
// restarting from byte zero on every attempt. The temp file is removed on
// failure; on success its path is handed to the finalizer.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	tdlhttp "github.com/handiism/tdl/internal/http"
	"github.com/handiism/tdl/internal/metrics"
	"github.com/handiism/tdl/internal/model"
	"github.com/handiism/tdl/internal/retry"
	"go.uber.org/zap"
)

// TempPrefix starts the name of every in-flight download.
const TempPrefix = ".tdl-"

const chunkSize = 32 << 10

// ProgressFunc receives byte progress for a job.
type ProgressFunc func(model.ProgressEvent)

// Result describes a completed stream.
type Result struct {
	TempPath string
	Bytes    int64
	Attempts int
}

// Options configures a Fetcher.
type Options struct {
	Client *tdlhttp.Client
	// Policy drives every retry of a stream; the client's transport retries
	// are bypassed. Defaults to the client's policy.
	Policy  *retry.Policy
	Sleep   retry.Sleeper
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Fetcher downloads streams.
type Fetcher struct {
	client  *tdlhttp.Client
	policy  *retry.Policy
	sleep   retry.Sleeper
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	policy := opts.Policy
	if policy == nil {
		policy = opts.Client.Policy()
	}
	if policy == nil {
		policy = retry.NewPolicy(1, time.Second, time.Second)
	}
	return &Fetcher{
		client:  opts.Client,
		policy:  policy,
		sleep:   opts.Sleep,
		metrics: opts.Metrics,
		log:     log,
	}
}

// Fetch downloads job's descriptor into a temp file in the directory of
// job.Path. onProgress may be nil. Byte counts passed to it never decrease,
// even when an attempt restarts.
func (f *Fetcher) Fetch(ctx context.Context, job *model.Job, onProgress ProgressFunc) (Result, error) {
	if job.Path == "" {
		return Result{}, errors.New("fetch: job has no destination")
	}
	start := time.Now()
	defer func() { f.metrics.ObserveFetch(time.Since(start)) }()

	dir := filepath.Dir(job.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Result{}, &WriteError{Path: dir, Err: err}
	}

	tmpPath := filepath.Join(dir, TempPrefix+uuid.NewString()+".part")
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return Result{}, &WriteError{Path: tmpPath, Err: err}
	}

	s := &stream{
		client:     f.client,
		job:        job,
		file:       file,
		path:       tmpPath,
		onProgress: onProgress,
	}

	runner := retry.Runner{
		Policy: f.policy,
		Sleep:  f.sleep,
		OnRetry: func(st retry.State, d retry.Decision) {
			f.metrics.Retry(reason(st.LastErr))
			f.log.Info("retrying stream",
				zap.String("job", job.ID),
				zap.String("url", job.Descriptor.URL),
				zap.Int("attempt", st.Attempts),
				zap.Duration("delay", d.Delay),
				zap.Error(st.LastErr))
		},
	}

	st, err := runner.Do(ctx, func(int) error { return s.attempt(ctx) })
	job.Attempts = st.Attempts

	if err == nil {
		err = file.Sync()
		if err != nil {
			err = &WriteError{Path: tmpPath, Err: err}
		}
	}
	if cerr := file.Close(); cerr != nil && err == nil {
		err = &WriteError{Path: tmpPath, Err: cerr}
	}
	if err != nil {
		os.Remove(tmpPath)
		return Result{}, err
	}

	job.Bytes = s.written
	f.metrics.AddBytes(s.written)
	f.log.Debug("stream complete",
		zap.String("job", job.ID),
		zap.Int64("bytes", s.written),
		zap.Int("attempts", st.Attempts))
	return Result{TempPath: tmpPath, Bytes: s.written, Attempts: st.Attempts}, nil
}

// stream is the state of one Fetch across attempts.
type stream struct {
	client     *tdlhttp.Client
	job        *model.Job
	file       *os.File
	path       string
	onProgress ProgressFunc

	written   int64
	highWater int64
}

// attempt streams the body once into the truncated temp file.
func (s *stream) attempt(ctx context.Context) error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	if err := s.file.Truncate(0); err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	s.written = 0

	d := s.job.Descriptor
	var header http.Header
	if d.Kind == model.KindAudio {
		// Signed stream URLs are single use and too large to keep.
		header = http.Header{"Cache-Control": {"no-store"}}
	}

	// Fetch owns the retry loop, so every request counts against its attempts.
	resp, err := s.client.Get(tdlhttp.WithoutRetry(ctx), d.URL, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	expected := int64(-1)
	if d.KnownSize() {
		expected = d.ExpectedSize
	} else if resp.ContentLength >= 0 {
		expected = resp.ContentLength
	}

	buf := make([]byte, chunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := s.file.Write(buf[:n]); werr != nil {
				return &WriteError{Path: s.path, Err: werr}
			}
			s.written += int64(n)
			s.progress(expected)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TruncatedError{URL: d.URL, Expected: expected, Received: s.written, Err: rerr}
		}
	}

	switch {
	case expected < 0 || s.written == expected:
		return nil
	case s.written < expected:
		return &TruncatedError{URL: d.URL, Expected: expected, Received: s.written}
	default:
		return fmt.Errorf("%s: %w: got %d bytes, want %d", d.URL, ErrSizeMismatch, s.written, expected)
	}
}

// progress reports only new high-water marks so restarts never move the
// count backwards.
func (s *stream) progress(total int64) {
	if s.onProgress == nil || s.written <= s.highWater {
		return
	}
	s.highWater = s.written
	s.onProgress(model.ProgressEvent{
		JobID: s.job.ID,
		Bytes: s.written,
		Total: total,
		Time:  time.Now(),
	})
}

func reason(err error) string {
	var te *tdlhttp.TransportError
	var tr *TruncatedError
	switch {
	case errors.As(err, &tr):
		return "truncated"
	case errors.As(err, &te):
		return te.Reason()
	default:
		return "unknown"
	}
}
