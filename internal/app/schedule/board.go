package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/consult/internal/domain"
	"github.com/rs/zerolog/log"
)

type Entry struct {
	domain.Appointment
	Status   Status `json:"status"`
	Joinable bool   `json:"joinable"`
}

// Board keeps a list of appointments sorted, re-sorting on a ticker rather than on events.
type Board struct {
	policy JoinPolicy
	every  time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	items   []domain.Appointment
	entries []Entry
	sorted  time.Time
}

func NewBoard(policy JoinPolicy, every time.Duration) *Board {
	if policy == nil {
		policy = CanJoinSession
	}
	if every <= 0 {
		every = 30 * time.Second
	}
	return &Board{policy: policy, every: every, now: time.Now}
}

// Set replaces the appointments and re-sorts immediately.
func (b *Board) Set(items []domain.Appointment) {
	b.mu.Lock()
	b.items = append([]domain.Appointment(nil), items...)
	b.mu.Unlock()
	b.Refresh()
}

func (b *Board) Refresh() {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	sorted := SortSessionsByTime(b.items, now)
	entries := make([]Entry, len(sorted))
	for i, a := range sorted {
		entries[i] = Entry{
			Appointment: a,
			Status:      StatusAt(a, now),
			Joinable:    b.policy(a, now),
		}
	}
	b.entries = entries
	b.sorted = now
}

// Snapshot returns the entries as of the last refresh.
func (b *Board) Snapshot() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Entry(nil), b.entries...)
}

func (b *Board) SortedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sorted
}

// Joinable returns the entry for sid if it is joinable as of the last refresh.
func (b *Board) Joinable(sid domain.SessionID) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, e := range b.entries {
		if e.SessionID == sid {
			return e, e.Joinable
		}
	}
	return Entry{}, false
}

// Run re-sorts every interval until ctx is done.
func (b *Board) Run(ctx context.Context) {
	ticker := time.NewTicker(b.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "schedule").Msg("board stopped")
			return
		case <-ticker.C:
			b.Refresh()
		}
	}
}
