// Package download schedules descriptors through the fetch and finalize
// stages.
//
// # Scheduler
//
// A Scheduler runs exactly Concurrency workers over one job queue:
//
//  1. Render the destination and claim it for the run
//  2. Skip with AlreadyExists when the path is already on disk
//  3. Stream the descriptor into a temp file (retries included)
//  4. Move it into place and tag it
//
// A job whose destination is claimed by an earlier job is never fetched. It
// takes the earlier job's outcome once the workers are done: AlreadyExists
// if a file got written, Failed with an *OwnerFailedError if not.
//
// # Basic Usage
//
//	events := make(chan model.Event, 256)
//	sched := download.New(fetcher, finalizer, download.Options{
//	    Concurrency: 3,
//	    Events:      events,
//	})
//	results, err := sched.Run(ctx, descriptors)
//
// Results come back in input order with exactly one entry per descriptor.
//
// # Events
//
// Queued, Started and Finished events are always delivered while the run
// context is alive. Progress events are dropped when the channel is full,
// so a slow renderer never stalls a download.
package download
