package systems

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/rendercore/engine/core"
	"golang.org/x/sync/errgroup"
)

/**
 * @brief Describes a job to be run. Recording jobs typically drive one
 * RenderSystem each, so several command buffers are recorded at once.
 */
type JobTask struct {
	Name string
	/** @brief Invoked when the job starts. Required. */
	Run func(ctx context.Context) error
	/** @brief Invoked when Run succeeds. Optional. */
	OnComplete func()
	/** @brief Invoked with the error returned by Run. Optional. */
	OnFailure func(err error)
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = errors.New("job system is shut down")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	jq := make(chan JobTask, channelSize)
	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   jq,
	}

	js.start()

	return js, nil
}

func (js *JobSystem) Workers() int {
	return js.numWorkers
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				_ = runJob(context.Background(), job)
			}
		}()
	}
}

func runJob(ctx context.Context, job JobTask) error {
	if job.Run == nil {
		return nil
	}
	if err := job.Run(ctx); err != nil {
		core.LogError("job '%s' failed: %s", job.Name, err)
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
		return fmt.Errorf("job '%s': %w", job.Name, err)
	}
	if job.OnComplete != nil {
		job.OnComplete()
	}
	return nil
}

/**
 * @brief Shuts the job system down. Jobs already queued still run.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.mu.Unlock()
	js.wg.Wait()
	return nil
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while the
 * queue is full.
 */
func (js *JobSystem) Submit(jt JobTask) error {
	js.mu.RLock()
	defer js.mu.RUnlock()
	if js.closed {
		return ErrJobSystemClosed
	}
	js.jobQueue <- jt
	return nil
}

/**
 * @brief Runs the jobs concurrently, at most one per worker, and waits for all
 * of them. The context passed to the jobs is cancelled as soon as one fails.
 * @returns the first error returned by a job.
 */
func (js *JobSystem) RunParallel(ctx context.Context, jobs ...JobTask) error {
	js.mu.RLock()
	closed := js.closed
	js.mu.RUnlock()
	if closed {
		return ErrJobSystemClosed
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(js.numWorkers)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return runJob(gctx, job)
		})
	}
	return g.Wait()
}
