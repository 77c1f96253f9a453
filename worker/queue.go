package worker

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrQueueStopped is returned by Send once the queue's worker has processed a Stop command.
var ErrQueueStopped = errors.New("worker queue stopped")

// queueCapacity is the FIFO inbox's buffer size.
const queueCapacity = 256

// Queue is the FIFO "sender" from spec.md §3/§4.E: single-producer-capable, multi-producer-safe. A
// sender may be cloned freely by sharing the same *Queue value; its drop does not terminate the
// worker, only an explicit Stop command does.
type Queue struct {
	ch      chan *Command
	stopped atomic.Bool
}

// NewQueue returns an empty Queue with the default capacity.
func NewQueue() *Queue {
	return NewQueueWithCapacity(queueCapacity)
}

// NewQueueWithCapacity returns an empty Queue with the given buffer size, letting callers honor
// ModuleConfig.QueueCapacity instead of the package default.
func NewQueueWithCapacity(capacity int) *Queue {
	return &Queue{ch: make(chan *Command, capacity)}
}

// Send enqueues cmd, failing if the queue's worker has already stopped.
func (q *Queue) Send(cmd *Command) error {
	if q.stopped.Load() {
		return ErrQueueStopped
	}
	q.ch <- cmd
	return nil
}

// markStopped marks the queue as no longer accepting commands, called by the worker once it has
// processed a Stop command.
func (q *Queue) markStopped() {
	q.stopped.Store(true)
}
