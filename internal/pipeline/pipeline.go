// Package pipeline runs per-frame work over a bounded worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dudu/deepswap/internal/log"
)

// ProcessFunc handles one frame. Frames of one batch are processed
// sequentially by the same worker.
type ProcessFunc func(ctx context.Context, id string) error

// ProgressFunc is called once per completed frame, possibly concurrently
type ProgressFunc func()

// FrameError attributes a failure to a frame and, when known, a face
// index within it. Face is -1 for frame-level failures.
type FrameError struct {
	FrameID string
	Face    int
	Err     error
}

func (e *FrameError) Error() string {
	if e.Face >= 0 {
		return fmt.Sprintf("frame %s face %d: %v", e.FrameID, e.Face, e.Err)
	}
	return fmt.Sprintf("frame %s: %v", e.FrameID, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Result summarizes a run
type Result struct {
	Total     int
	Completed int64
	Workers   int
	BatchSize int
	Duration  time.Duration
}

// Pipeline distributes frame identifiers across workers
type Pipeline struct {
	policy   SizingPolicy
	progress ProgressFunc
}

// New creates a pipeline. A nil policy uses FixedPolicy defaults.
func New(policy SizingPolicy, progress ProgressFunc) *Pipeline {
	if policy == nil {
		policy = FixedPolicy{Workers: DefaultWorkers, QueueRatio: DefaultQueueRatio}
	}
	return &Pipeline{policy: policy, progress: progress}
}

// Partition splits ids into consecutive batches of at most size ids
func Partition(ids []string, size int) [][]string {
	size = max(size, 1)
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batches = append(batches, ids[start:end])
	}
	return batches
}

// Run processes every id with process. Each worker pulls whole batches
// from a shared queue until it is empty. After the first failure no new
// batches are pulled, other workers finish the batch they hold, and the
// first error is returned. Cancelling ctx stops workers between frames.
func (p *Pipeline) Run(ctx context.Context, ids []string, process ProcessFunc) (Result, error) {
	start := time.Now()
	res := Result{Total: len(ids)}
	if len(ids) == 0 {
		return res, nil
	}

	workers, size := p.policy.Size(ctx, len(ids))
	batches := Partition(ids, size)
	workers = min(max(workers, 1), len(batches))
	res.Workers, res.BatchSize = workers, size

	queue := make(chan []string, len(batches))
	for _, b := range batches {
		queue <- b
	}
	close(queue)

	log.Info("pipeline started", "frames", len(ids), "workers", workers, "batch_size", size, "batches", len(batches))

	var (
		completed atomic.Int64
		failed    atomic.Bool
		errOnce   sync.Once
		firstErr  error
		wg        sync.WaitGroup
	)

	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			failed.Store(true)
		})
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range queue {
				if failed.Load() {
					return
				}
				for _, id := range batch {
					if err := ctx.Err(); err != nil {
						fail(err)
						return
					}
					if err := process(ctx, id); err != nil {
						var fe *FrameError
						if !errors.As(err, &fe) {
							err = &FrameError{FrameID: id, Face: -1, Err: err}
						}
						fail(err)
						break
					}
					completed.Add(1)
					if p.progress != nil {
						p.progress()
					}
				}
			}
		}()
	}
	wg.Wait()

	res.Completed = completed.Load()
	res.Duration = time.Since(start)

	if firstErr != nil {
		log.Error("pipeline failed", "completed", res.Completed, "frames", len(ids), "error", firstErr)
		return res, firstErr
	}
	log.Info("pipeline finished", "frames", res.Completed, "duration", res.Duration)
	return res, nil
}
