package queue

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Job encapsulates a unit of work processed by the worker pool. Jobs that
// share a Key run on the same worker, one after another, in enqueue order.
type Job struct {
	ID       string
	Key      string
	Source   string
	Work     func(context.Context) error
	OnFinish func(error)
}

// Stats exposes current queue metrics.
type Stats struct {
	Length      int    `json:"length"`
	Capacity    int    `json:"capacity"`
	WorkerCount int    `json:"worker_count"`
	Processed   uint64 `json:"processed"`
	Failed      uint64 `json:"failed"`
	Panics      uint64 `json:"panics"`
}

// Queue is a bounded, keyed job queue with a fixed worker pool.
type Queue struct {
	lanes     []chan Job
	timeout   time.Duration
	started   bool
	stopped   bool
	mu        sync.RWMutex
	wg        sync.WaitGroup
	processed uint64
	failed    uint64
	panics    uint64
}

// New creates a Queue with workerCount lanes, each holding up to capacity
// pending jobs, and a per-job timeout.
func New(capacity, workerCount int, timeout time.Duration) *Queue {
	if workerCount < 1 {
		workerCount = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	lanes := make([]chan Job, workerCount)
	for i := range lanes {
		lanes[i] = make(chan Job, capacity)
	}
	return &Queue{lanes: lanes, timeout: timeout}
}

// Start launches one worker per lane.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()
	for _, lane := range q.lanes {
		q.wg.Add(1)
		go q.worker(ctx, lane)
	}
}

func (q *Queue) lane(key string) chan Job {
	if len(q.lanes) == 1 {
		return q.lanes[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return q.lanes[h.Sum32()%uint32(len(q.lanes))]
}

// Enqueue attempts to queue a job without blocking. Returns false if the
// job's lane is full or the queue is not running.
func (q *Queue) Enqueue(j Job) bool {
	return q.tryEnqueue(j, true)
}

// EnqueueWithRetry attempts to queue a job with a bounded retry window. Returns (enqueued, droppedFull).
func (q *Queue) EnqueueWithRetry(ctx context.Context, j Job, window time.Duration, interval time.Duration) (bool, bool) {
	deadline := time.Now().Add(window)
	if q.tryEnqueue(j, false) {
		return true, false
	}
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false, false
		case <-time.After(interval):
			if q.tryEnqueue(j, false) {
				return true, false
			}
		}
	}
	log.Printf("job queue lane full, dropping job %s key=%s", j.ID, j.Key)
	return false, true
}

func (q *Queue) tryEnqueue(j Job, logDrop bool) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.started || q.stopped {
		if logDrop {
			log.Printf("enqueue called while queue not running for job %s", j.ID)
		}
		return false
	}
	select {
	case q.lane(j.Key) <- j:
		return true
	default:
		if logDrop {
			log.Printf("job queue lane full, dropping job %s key=%s", j.ID, j.Key)
		}
		return false
	}
}

// Stop stops accepting new jobs and waits for workers to drain until context is done.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for _, lane := range q.lanes {
		close(lane)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Stats returns current queue metrics.
func (q *Queue) Stats() Stats {
	length, capacity := 0, 0
	for _, lane := range q.lanes {
		length += len(lane)
		capacity += cap(lane)
	}
	return Stats{
		Length:      length,
		Capacity:    capacity,
		WorkerCount: len(q.lanes),
		Processed:   atomic.LoadUint64(&q.processed),
		Failed:      atomic.LoadUint64(&q.failed),
		Panics:      atomic.LoadUint64(&q.panics),
	}
}

func (q *Queue) worker(ctx context.Context, lane chan Job) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-lane:
			if !ok {
				return
			}
			q.handleJob(ctx, j)
		}
	}
}

func (q *Queue) handleJob(ctx context.Context, j Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&q.panics, 1)
			atomic.AddUint64(&q.failed, 1)
			log.Printf("job %s panic recovered: %v", j.ID, r)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, q.timeout)
	err := j.Work(jobCtx)
	cancel()
	if j.OnFinish != nil {
		j.OnFinish(err)
	}
	atomic.AddUint64(&q.processed, 1)
	if err != nil {
		atomic.AddUint64(&q.failed, 1)
	}
	status := "success"
	if err != nil {
		status = err.Error()
	}
	log.Printf("job_source=%s job=%s key=%s duration_ms=%d status=%s", j.Source, j.ID, j.Key, time.Since(start).Milliseconds(), status)
}

// Healthy returns true if the queue is accepting jobs.
func (q *Queue) Healthy() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.started && !q.stopped
}
