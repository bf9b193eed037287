package thread

import "github.com/me/kthreads/internal/kdebug"

// Queue is a list of threads kept in arrival order. Selection scans for the
// highest effective priority, so priorities that change while a thread is
// queued (through donation) are honoured without re-sorting; among equals
// the earliest arrival wins.
type Queue struct {
	tag     link
	threads []*Thread
}

// NewWaitQueue returns an empty queue for threads blocked on a
// synchronization primitive.
func NewWaitQueue() *Queue {
	return &Queue{tag: linkWait}
}

// Push appends t. t must not be on any other list.
func (q *Queue) Push(t *Thread) {
	kdebug.Assertf(t.link == linkNone, "thread %s already on the %s list", t.name, t.link)
	t.link = q.tag
	q.threads = append(q.threads, t)
}

// Len returns the number of queued threads.
func (q *Queue) Len() int { return len(q.threads) }

func (q *Queue) maxIndex() int {
	best := -1
	for i, t := range q.threads {
		if best < 0 || t.priority > q.threads[best].priority {
			best = i
		}
	}
	return best
}

// Max returns the thread PopMax would return, without removing it.
func (q *Queue) Max() *Thread {
	if i := q.maxIndex(); i >= 0 {
		return q.threads[i]
	}
	return nil
}

// PopMax removes and returns the highest-priority thread, or nil.
func (q *Queue) PopMax() *Thread {
	i := q.maxIndex()
	if i < 0 {
		return nil
	}
	t := q.threads[i]
	q.removeAt(i)
	return t
}

// Remove takes t off the queue and reports whether it was there.
func (q *Queue) Remove(t *Thread) bool {
	for i, x := range q.threads {
		if x == t {
			q.removeAt(i)
			return true
		}
	}
	return false
}

func (q *Queue) removeAt(i int) {
	t := q.threads[i]
	copy(q.threads[i:], q.threads[i+1:])
	q.threads[len(q.threads)-1] = nil
	q.threads = q.threads[:len(q.threads)-1]
	t.link = linkNone
}

// Threads returns the queued threads in arrival order.
func (q *Queue) Threads() []*Thread {
	return append([]*Thread(nil), q.threads...)
}
