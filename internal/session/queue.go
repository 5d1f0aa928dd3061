package session

import (
	"sync"

	"github.com/qaid/whispertalk/internal/audio"
	"github.com/qaid/whispertalk/internal/capture"
)

// queuedWindow pairs an emitted window with the source that produced it.
type queuedWindow struct {
	window audio.Window
	source capture.SourceTag
}

// windowQueue is an unbounded FIFO of windows awaiting transcription. The
// recognition capability is not safe for concurrent invocation, so a single
// worker drains the queue; a window that becomes ready while another is in
// flight waits here rather than running in parallel or being dropped.
type windowQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []queuedWindow
	closed bool
}

func newWindowQueue() *windowQueue {
	q := &windowQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends a window. Pushing to a closed queue is ignored.
func (q *windowQueue) push(item queuedWindow) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.items = append(q.items, item)
	q.cond.Signal()
}

// pop blocks until a window is available or the queue is closed and drained.
// The second return value is false once no more windows will arrive.
func (q *windowQueue) pop() (queuedWindow, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.items) == 0 {
		return queuedWindow{}, false
	}

	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// close marks the queue as complete; pop drains remaining items first.
func (q *windowQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// depth returns the number of queued windows.
func (q *windowQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
