package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/handiism/tdl/internal/fetch"
	"github.com/handiism/tdl/internal/finalize"
	ioutils "github.com/handiism/tdl/internal/io"
	"github.com/handiism/tdl/internal/metrics"
	"github.com/handiism/tdl/internal/model"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxConcurrency bounds the worker count.
const MaxConcurrency = 32

// OwnerFailedError is the error of a job whose destination was claimed by an
// earlier job of the same run that then failed. Nothing was written for
// either of them.
type OwnerFailedError struct {
	Owner string
	Path  string
	Err   error
}

func (e *OwnerFailedError) Error() string {
	return fmt.Sprintf("%s: job %s with the same destination failed: %v", e.Path, e.Owner, e.Err)
}

func (e *OwnerFailedError) Unwrap() error { return e.Err }

// Fetcher streams a job into a temp file. *fetch.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, job *model.Job, onProgress fetch.ProgressFunc) (fetch.Result, error)
}

// Finalizer places fetched files. *finalize.Finalizer implements it.
type Finalizer interface {
	Destination(d model.StreamDescriptor) (string, error)
	Finalize(ctx context.Context, tempPath string, d model.StreamDescriptor) (finalize.Outcome, error)
	Replace() bool
}

// Options configures a Scheduler.
type Options struct {
	// Concurrency is the exact number of workers.
	Concurrency int

	// Events receives lifecycle and progress events when non-nil. The
	// scheduler never closes it.
	Events chan<- model.Event

	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Scheduler runs descriptors through fetch and finalize under bounded
// concurrency.
//
// Example:
//
//	s := download.New(fetcher, finalizer, download.Options{Concurrency: 3})
//	results, err := s.Run(ctx, descriptors)
//	fmt.Println(download.Summarize(results))
type Scheduler struct {
	fetcher   Fetcher
	finalizer Finalizer
	opts      Options
	log       *zap.Logger

	newID func() string
	now   func() time.Time
}

// New creates a Scheduler.
func New(fetcher Fetcher, finalizer Finalizer, opts Options) *Scheduler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Concurrency > MaxConcurrency {
		opts.Concurrency = MaxConcurrency
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		fetcher:   fetcher,
		finalizer: finalizer,
		opts:      opts,
		log:       log,
		newID:     func() string { return ksuid.New().String() },
		now:       time.Now,
	}
}

// Run processes every descriptor and returns one result per input, in
// input order. A failing job never stops the others.
//
// Jobs rendering the same destination as an earlier job are not fetched.
// They finish once the run is over: AlreadyExists when the earlier job left
// a file there, Failed with an *OwnerFailedError otherwise.
//
// When ctx is cancelled dispatch stops, in-flight requests are aborted and
// jobs that never started are reported as Failed with the context error.
// Run then returns ctx.Err() alongside the full result list.
func (s *Scheduler) Run(ctx context.Context, descriptors []model.StreamDescriptor) ([]model.Result, error) {
	jobs := make([]*model.Job, len(descriptors))
	for i, d := range descriptors {
		jobs[i] = model.NewJob(s.newID(), i, d)
		s.emit(ctx, model.Event{Type: model.EventQueued, JobID: jobs[i].ID, Index: i, Label: d.String()})
	}

	s.log.Info("run started",
		zap.Int("jobs", len(jobs)),
		zap.Int("workers", s.opts.Concurrency))

	queue := make(chan *model.Job)
	r := &run{Scheduler: s, plans: make([]plan, len(jobs))}
	claims := make(map[string]*model.Job)

	var g errgroup.Group
	for range s.opts.Concurrency {
		g.Go(func() error {
			for job := range queue {
				r.process(ctx, job)
			}
			return nil
		})
	}

dispatch:
	for _, job := range jobs {
		r.plan(job, claims)
		if r.plans[job.Index].owner != nil {
			continue
		}
		select {
		case queue <- job:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(queue)
	g.Wait()

	for _, job := range jobs {
		if !job.Status.Terminal() && r.plans[job.Index].owner == nil {
			err := ctx.Err()
			if err == nil {
				err = errors.New("job was never dispatched")
			}
			job.Finish(model.StatusFailed, err, s.now())
			s.opts.Metrics.JobFinished(model.StatusFailed.String())
		}
	}
	// Owners are never duplicates themselves, so every owner is terminal here.
	for _, job := range jobs {
		if p := r.plans[job.Index]; p.owner != nil {
			r.settle(ctx, job, p)
		}
	}

	results := make([]model.Result, len(jobs))
	for i, job := range jobs {
		results[i] = job.Result()
	}

	sum := Summarize(results)
	s.log.Info("run finished",
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("untagged", sum.Untagged),
		zap.Int("already_exists", sum.AlreadyExists),
		zap.Int("failed", sum.Failed),
		zap.Int64("bytes", sum.Bytes))

	return results, ctx.Err()
}

// run holds the state shared by the workers of one Run call.
type run struct {
	*Scheduler
	// plans is indexed by job index and written before the job is queued.
	plans []plan
}

// plan is the destination decision made for a job at dispatch time.
type plan struct {
	dst   string
	err   error
	owner *model.Job // job that claimed dst first, when not this one
}

// plan renders the destination and claims it. Claims are taken in input
// order, so the first of several jobs sharing a path is the one fetched.
func (r *run) plan(job *model.Job, claims map[string]*model.Job) {
	dst, err := r.finalizer.Destination(job.Descriptor)
	p := plan{dst: dst, err: err}
	if err == nil {
		if owner, taken := claims[dst]; taken {
			p.owner = owner
		} else {
			claims[dst] = job
		}
	}
	r.plans[job.Index] = p
}

// settle finishes a job that shares its destination with p.owner, from the
// state the owner ended in. Workers must be done.
func (r *run) settle(ctx context.Context, job *model.Job, p plan) {
	log := r.log.With(zap.String("job", job.ID), zap.Int("index", job.Index))
	job.Path = p.dst
	owner := p.owner

	if owner.Status.OK() {
		log.Debug("destination claimed by another job", zap.String("path", p.dst), zap.String("owner", owner.ID))
		r.finish(ctx, job, model.StatusAlreadyExists, nil, log)
		return
	}
	err := owner.Err
	if err == nil {
		err = fmt.Errorf("job ended as %s", owner.Status)
	}
	r.finish(ctx, job, model.StatusFailed, &OwnerFailedError{Owner: owner.ID, Path: p.dst, Err: err}, log)
}

func (r *run) process(ctx context.Context, job *model.Job) {
	log := r.log.With(zap.String("job", job.ID), zap.Int("index", job.Index))
	d := job.Descriptor
	p := r.plans[job.Index]

	if err := ctx.Err(); err != nil {
		r.finish(ctx, job, model.StatusFailed, err, log)
		return
	}
	if p.err != nil {
		r.finish(ctx, job, model.StatusFailed, p.err, log)
		return
	}
	dst := p.dst
	job.Path = dst

	if !r.finalizer.Replace() && ioutils.Exists(dst) {
		r.finish(ctx, job, model.StatusAlreadyExists, nil, log)
		return
	}

	if err := job.Start(r.now()); err != nil {
		log.Error("job start rejected", zap.Error(err))
		return
	}
	r.opts.Metrics.JobStarted()
	defer r.opts.Metrics.JobDone()
	r.emit(ctx, model.Event{Type: model.EventStarted, JobID: job.ID, Index: job.Index, Label: d.String()})
	log.Debug("job started", zap.String("url", d.URL), zap.String("path", dst))

	res, err := r.fetcher.Fetch(ctx, job, func(p model.ProgressEvent) {
		r.emitProgress(model.Event{Type: model.EventProgress, JobID: job.ID, Index: job.Index, Progress: p})
	})
	if err != nil {
		r.finish(ctx, job, model.StatusFailed, fmt.Errorf("fetch: %w", err), log)
		return
	}

	out, err := r.finalizer.Finalize(ctx, res.TempPath, d)
	if err != nil {
		r.finish(ctx, job, model.StatusFailed, fmt.Errorf("finalize: %w", err), log)
		return
	}
	job.Path = out.Path
	r.finish(ctx, job, out.Status, out.TagErr, log)
}

func (r *run) finish(ctx context.Context, job *model.Job, status model.Status, err error, log *zap.Logger) {
	if ferr := job.Finish(status, err, r.now()); ferr != nil {
		log.Error("job finish rejected", zap.Error(ferr))
		return
	}
	r.opts.Metrics.JobFinished(status.String())

	fields := []zap.Field{
		zap.String("status", status.String()),
		zap.String("path", job.Path),
		zap.Int64("bytes", job.Bytes),
		zap.Int("attempts", job.Attempts),
	}
	switch status {
	case model.StatusFailed:
		log.Warn("job failed", append(fields, zap.Error(err))...)
	case model.StatusSucceededUntagged:
		log.Info("job finished untagged", append(fields, zap.Error(err))...)
	default:
		log.Info("job finished", fields...)
	}

	res := job.Result()
	r.emit(ctx, model.Event{Type: model.EventFinished, JobID: job.ID, Index: job.Index, Label: job.Descriptor.String(), Result: &res})
}

// emit delivers a lifecycle event, giving up only when ctx is done.
func (s *Scheduler) emit(ctx context.Context, e model.Event) {
	if s.opts.Events == nil {
		return
	}
	select {
	case s.opts.Events <- e:
	case <-ctx.Done():
	}
}

// emitProgress drops the event if the renderer is behind.
func (s *Scheduler) emitProgress(e model.Event) {
	if s.opts.Events == nil {
		return
	}
	select {
	case s.opts.Events <- e:
	default:
	}
}
