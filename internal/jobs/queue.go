package jobs

import (
	"context"
	"sync"

	"github.com/MimeLyc/translation-orchestrator/pkg/log"
)

// Executor runs one job to a terminal state or until ctx is cancelled.
type Executor func(ctx context.Context, jobID string) error

// Queue runs jobs on a fixed number of workers. A job id is held at most once
// while it is queued or running.
type Queue struct {
	workerCount int

	mu         sync.Mutex
	active     map[string]bool // id -> running
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewQueue(workerCount int) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Queue{
		workerCount: workerCount,
		active:      make(map[string]bool),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
	}
}

// Enqueue schedules jobID and reports false when it is already queued or running.
func (q *Queue) Enqueue(jobID string) bool {
	q.mu.Lock()
	if _, ok := q.active[jobID]; ok {
		q.mu.Unlock()
		return false
	}
	q.active[jobID] = false
	q.mu.Unlock()

	q.enqueuePendingID(jobID)
	return true
}

// Active reports whether jobID is queued or running.
func (q *Queue) Active(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.active[jobID]
	return ok
}

// Stats returns the number of queued and running jobs.
func (q *Queue) Stats() (queued, running int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, isRunning := range q.active {
		if isRunning {
			running++
		} else {
			queued++
		}
	}
	return queued, running
}

// Start launches the workers. Cancelling ctx or calling Stop tells running
// executors to wind down at their next checkpoint.
func (q *Queue) Start(ctx context.Context, exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	ctx, q.cancel = context.WithCancel(ctx)
	q.mu.Unlock()

	for range q.workerCount {
		q.wg.Add(1)
		go q.worker(ctx, exec)
	}
}

func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.mu.Lock()
		if q.cancel != nil {
			q.cancel()
		}
		q.mu.Unlock()
		q.wg.Wait()
	})
}

func (q *Queue) worker(ctx context.Context, exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case id := <-q.pendingIDs:
			if !q.markRunning(id) {
				continue
			}
			if err := exec(ctx, id); err != nil {
				log.Error("Job %s stopped with error: %v", id, err)
			}
			q.release(id)
		}
	}
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() {
			select {
			case q.pendingIDs <- id:
			case <-q.stopCh:
			}
		}()
	}
}

func (q *Queue) markRunning(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	running, ok := q.active[id]
	if !ok || running {
		return false
	}
	q.active[id] = true
	return true
}

func (q *Queue) release(id string) {
	q.mu.Lock()
	delete(q.active, id)
	q.mu.Unlock()
}
