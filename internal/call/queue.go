package call

import "mentorcall/internal/signal"

// candidateQueue buffers remote ICE candidates that arrive before the remote
// description is applied. Strictly FIFO; nothing is dropped, reordered or
// deduplicated. The owning session's lock serializes access.
type candidateQueue struct {
	items []signal.Candidate
}

func (q *candidateQueue) push(c signal.Candidate) {
	q.items = append(q.items, c)
}

// drain returns the buffered candidates in arrival order and empties the
// queue.
func (q *candidateQueue) drain() []signal.Candidate {
	out := q.items
	q.items = nil
	return out
}

func (q *candidateQueue) clear() {
	q.items = nil
}

func (q *candidateQueue) len() int {
	return len(q.items)
}
