package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	relayBuffer  = 256
	relayTimeout = 10 * time.Second
)

type relayJob struct {
	event string
	rooms []string
	data  any
}

// relayQueue feeds one Relay from its own goroutine so a slow transport never holds up Publish.
type relayQueue struct {
	relay  Relay
	jobs   chan relayJob
	done   chan struct{}
	logger *slog.Logger
}

func newRelayQueue(relay Relay, logger *slog.Logger) *relayQueue {
	q := &relayQueue{
		relay:  relay,
		jobs:   make(chan relayJob, relayBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go q.run()
	return q
}

func (q *relayQueue) run() {
	defer close(q.done)

	for job := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
		if err := q.relay.Relay(ctx, job.event, job.rooms, job.data); err != nil {
			q.logger.Error("relay failed", "event", job.event, "error", err)
		}
		cancel()
	}
}

func (q *relayQueue) offer(job relayJob) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// relays owns the queues of every configured relay and stops accepting jobs once closed.
type relays struct {
	mu     sync.RWMutex
	closed bool
	queues []*relayQueue
}

func (r *relays) offer(job relayJob) (dropped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return len(r.queues)
	}
	for _, q := range r.queues {
		if !q.offer(job) {
			dropped++
		}
	}
	return dropped
}

func (r *relays) close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		for _, q := range r.queues {
			close(q.jobs)
		}
	}
	r.mu.Unlock()

	for _, q := range r.queues {
		select {
		case <-q.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
