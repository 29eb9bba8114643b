package rtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

var ErrCandidateQueueFull = errors.New("ice candidate queue is full")

// CandidateQueue holds remote ICE candidates until the remote description is set.
type CandidateQueue struct {
	mu      sync.Mutex
	items   []webrtc.ICECandidateInit
	maxSize int
}

func NewCandidateQueue(maxSize int) *CandidateQueue {
	return &CandidateQueue{
		items:   make([]webrtc.ICECandidateInit, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add returns ErrCandidateQueueFull once maxSize candidates are waiting.
func (q *CandidateQueue) Add(ci webrtc.ICECandidateInit) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxSize {
		return ErrCandidateQueueFull
	}
	q.items = append(q.items, ci)
	return nil
}

// Flush returns the queued candidates in arrival order and empties the queue.
func (q *CandidateQueue) Flush() []webrtc.ICECandidateInit {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = make([]webrtc.ICECandidateInit, 0, q.maxSize)
	return items
}

func (q *CandidateQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
