package pipeline

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/athapong/docgraph/pkg/graph/metrics"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull   = errors.New("processing queue is full")
	ErrQueueClosed = errors.New("processing queue is closed")
)

// Processor runs one document.
type Processor interface {
	Process(ctx context.Context, documentID string) (*Outcome, error)
}

// Done is delivered once a queued document has been processed.
type Done struct {
	Outcome *Outcome
	Err     error
}

type job struct {
	documentID string
	done       chan Done
}

// Queue spreads documents over a fixed set of workers. A document always
// hashes to the same worker, so runs for one id never overlap.
type Queue struct {
	proc    Processor
	logger  *logrus.Logger
	workers []chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue starts workers goroutines, each with a backlog of depth jobs.
// Workers run until Close; once ctx is cancelled, remaining jobs are
// answered with its error.
func NewQueue(ctx context.Context, proc Processor, workers, depth int, logger *logrus.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if depth <= 0 {
		depth = 16
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	q := &Queue{proc: proc, logger: logger, workers: make([]chan job, workers)}
	for i := range q.workers {
		q.workers[i] = make(chan job, depth)
		q.wg.Add(1)
		go q.run(ctx, i, q.workers[i])
	}
	return q
}

// Partition returns the worker index for a document id.
func Partition(documentID string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(documentID))
	return int(h.Sum32() % uint32(workers))
}

// Enqueue schedules a document. The returned channel receives exactly one
// Done.
func (q *Queue) Enqueue(documentID string) (<-chan Done, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	j := job{documentID: documentID, done: make(chan Done, 1)}
	select {
	case q.workers[Partition(documentID, len(q.workers))] <- j:
		metrics.PipelineQueueLength.Inc()
		return j.done, nil
	default:
		return nil, ErrQueueFull
	}
}

// Close stops accepting work and waits for queued jobs to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, w := range q.workers {
		close(w)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) run(ctx context.Context, idx int, jobs <-chan job) {
	defer q.wg.Done()
	log := q.logger.WithField("worker", idx)

	for j := range jobs {
		metrics.PipelineQueueLength.Dec()
		if err := ctx.Err(); err != nil {
			j.done <- Done{Err: err}
			continue
		}

		out, err := q.process(ctx, j.documentID)
		if err != nil {
			log.WithError(err).WithField("document_id", j.documentID).Error("Queued processing failed")
		}
		j.done <- Done{Outcome: out, Err: err}
	}
}

// process keeps a panicking run from taking the worker down with it.
func (q *Queue) process(ctx context.Context, documentID string) (out *Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, errors.Errorf("processing panicked: %v", p)
		}
	}()
	return q.proc.Process(ctx, documentID)
}
