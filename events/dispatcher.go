package events

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxBufferedBytes is the back-pressure threshold past which the oldest
// non-alert queued events are dropped, per §4.4/§6.
const maxBufferedBytes = 64 * 1024

// queuedEvent is one pending encoded event line plus whether it's exempt
// from back-pressure dropping.
type queuedEvent struct {
	line  []byte
	alert bool
}

// Dispatcher serializes Event values to w as line-delimited JSON, applying
// back-pressure when the writer falls behind: once more than
// maxBufferedBytes of encoded events are queued, the oldest non-alert
// entries are dropped (never alerts) until the queue is back under budget.
type Dispatcher struct {
	log *zap.Logger

	mu      sync.Mutex
	queue   []queuedEvent
	size    int
	notify  chan struct{}
	dropped int64
}

// NewDispatcher returns a Dispatcher with an empty queue. The caller must
// call Run, which writes queued events to w until ctx is canceled.
func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		log:    log,
		notify: make(chan struct{}, 1),
	}
}

// Run drains the queue to w until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context, w io.Writer) {
	for {
		select {
		case <-ctx.Done():
			d.drain(w)
			return
		case <-d.notify:
			d.drain(w)
		}
	}
}

func (d *Dispatcher) drain(w io.Writer) {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		qe := d.queue[0]
		d.queue = d.queue[1:]
		d.size -= len(qe.line)
		d.mu.Unlock()

		if _, err := w.Write(qe.line); err != nil {
			d.log.Warn("failed to write event", zap.Error(err))
		}
	}
}

// Emit encodes e and enqueues it, applying back-pressure. Emit never
// blocks on the writer.
func (d *Dispatcher) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	line, err := json.Marshal(e)
	if err != nil {
		d.log.Warn("failed to marshal event", zap.Error(err))
		return
	}
	line = append(line, '\n')
	qe := queuedEvent{line: line, alert: e.isAlert()}

	d.mu.Lock()
	d.queue = append(d.queue, qe)
	d.size += len(line)

	for d.size > maxBufferedBytes {
		idx := d.firstDroppableLocked()
		if idx < 0 {
			break // everything left queued is an alert; let it grow
		}
		d.size -= len(d.queue[idx].line)
		d.queue = append(d.queue[:idx], d.queue[idx+1:]...)
		d.dropped++
	}
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// firstDroppableLocked returns the index of the oldest queued event that
// is not an alert, or -1 if none exists. Callers must hold d.mu.
func (d *Dispatcher) firstDroppableLocked() int {
	for i, qe := range d.queue {
		if !qe.alert {
			return i
		}
	}
	return -1
}

// Dropped returns the number of non-alert events dropped to back-pressure
// so far.
func (d *Dispatcher) Dropped() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}
