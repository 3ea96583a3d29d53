package finalize

import (
	"fmt"

	queuepkg "github.com/Workiva/go-datastructures/queue"
)

// entry is one pending finalization: the handle plus the collection cycle in
// which it was enqueued. Ordering between entries from independent producers
// is unspecified; callers must not depend on it.
type entry struct {
	id              HandleID
	enqueuedAtCycle uint64
}

// finalizationQueue is a thread-safe multi-producer FIFO drained by the single
// finalizer worker. pop blocks while the queue is empty and fails once the
// queue is disposed.
type finalizationQueue struct {
	q *queuepkg.Queue
}

func newFinalizationQueue(hint int64) *finalizationQueue {
	return &finalizationQueue{q: queuepkg.New(hint)}
}

func (q *finalizationQueue) put(e entry) error {
	return q.q.Put(e)
}

func (q *finalizationQueue) pop() (entry, error) {
	items, err := q.q.Get(1)
	if err != nil {
		return entry{}, err
	}
	if len(items) == 0 {
		return entry{}, fmt.Errorf("finalize: empty dequeue result")
	}
	e, ok := items[0].(entry)
	if !ok {
		return entry{}, fmt.Errorf("finalize: invalid queue element type %T", items[0])
	}
	return e, nil
}

func (q *finalizationQueue) len() int64 {
	return q.q.Len()
}

func (q *finalizationQueue) dispose() {
	q.q.Dispose()
}

func (q *finalizationQueue) disposed() bool {
	return q.q.Disposed()
}
