package audio

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrQueueClosed is returned by Put once the producer side has been closed
// with SignalDone or Fail.
var ErrQueueClosed = errors.New("audio: queue closed")

// QueueState is the state shared by producer and consumer. It is only
// mutated while holding the queue lock.
type QueueState struct {
	ProducerDone bool
	Err          error
}

// FragmentQueue is a bounded FIFO of PCM fragments connecting one producer
// (network/decode) with one consumer (device writer). Put blocks while the
// queue is full; Get blocks while it is empty and the producer is active.
// A queue serves exactly one TTS request and is never reused.
type FragmentQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items [][]byte // ring storage, len(items) == capacity
	head  int
	count int
	state QueueState

	onDepth func(depth int)
	onFull  func()
}

// NewFragmentQueue creates a queue holding at most capacity fragments
func NewFragmentQueue(capacity int) *FragmentQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &FragmentQueue{items: make([][]byte, capacity)}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Observe installs callbacks for depth changes and producer waits.
// Callbacks run under the queue lock and must not block.
func (q *FragmentQueue) Observe(onDepth func(depth int), onFull func()) {
	q.mu.Lock()
	q.onDepth = onDepth
	q.onFull = onFull
	q.mu.Unlock()
}

// Put appends fragment to the tail, waiting while the queue is full.
// Ownership of fragment passes to the queue.
func (q *FragmentQueue) Put(ctx context.Context, fragment []byte) error {
	stop := context.AfterFunc(ctx, q.wakeAll)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	waited := false
	for q.count == len(q.items) && !q.state.ProducerDone && ctx.Err() == nil {
		if !waited && q.onFull != nil {
			q.onFull()
		}
		waited = true
		q.notFull.Wait()
	}

	if q.state.ProducerDone {
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	q.items[(q.head+q.count)%len(q.items)] = fragment
	q.count++
	q.depthChanged()
	q.notEmpty.Broadcast()
	return nil
}

// Get pops the head fragment, waiting while the queue is empty and the
// producer is still active. It returns io.EOF once the queue is drained and
// the producer has signalled completion.
func (q *FragmentQueue) Get(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, q.wakeAll)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.state.ProducerDone && ctx.Err() == nil {
		q.notEmpty.Wait()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.count == 0 {
		return nil, io.EOF
	}

	fragment := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.count--
	q.depthChanged()
	q.notFull.Broadcast()
	return fragment, nil
}

// WaitPreload blocks until at least n fragments are queued, the producer is
// done, or ctx is cancelled.
func (q *FragmentQueue) WaitPreload(ctx context.Context, n int) error {
	if n > len(q.items) {
		n = len(q.items)
	}

	stop := context.AfterFunc(ctx, q.wakeAll)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count < n && !q.state.ProducerDone && ctx.Err() == nil {
		q.notEmpty.Wait()
	}
	return ctx.Err()
}

// SignalDone marks the producer finished and wakes any waiting consumer.
// It is idempotent.
func (q *FragmentQueue) SignalDone() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.state.ProducerDone = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Fail records err, discards every queued fragment and closes the queue so
// no further audio reaches the device. The first error wins.
func (q *FragmentQueue) Fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state.Err == nil {
		q.state.Err = err
	}
	q.state.ProducerDone = true
	for i := range q.items {
		q.items[i] = nil
	}
	q.head, q.count = 0, 0
	q.depthChanged()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// State returns a snapshot of the shared pipeline state
func (q *FragmentQueue) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Len returns the number of queued fragments
func (q *FragmentQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity
func (q *FragmentQueue) Cap() int {
	return len(q.items)
}

func (q *FragmentQueue) wakeAll() {
	q.mu.Lock()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()
}

func (q *FragmentQueue) depthChanged() {
	if q.onDepth != nil {
		q.onDepth(q.count)
	}
}
