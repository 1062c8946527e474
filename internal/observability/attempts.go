package observability

import (
	"context"
	"sync"

	"github.com/kursadbilgin/attribution-relay/internal/domain"
)

const defaultAttemptCapacity = 100

// AttemptRing keeps the most recent relay attempts in memory for debugging.
// The oldest entry is evicted once capacity is reached.
type AttemptRing struct {
	mu       sync.Mutex
	entries  []domain.ConversionAttempt
	next     int
	full     bool
	capacity int
}

type AttemptSummary struct {
	Total    int                          `json:"total"`
	ByStatus map[domain.AttemptStatus]int `json:"byStatus"`
}

func NewAttemptRing(capacity int) *AttemptRing {
	if capacity <= 0 {
		capacity = defaultAttemptCapacity
	}
	return &AttemptRing{
		entries:  make([]domain.ConversionAttempt, capacity),
		capacity: capacity,
	}
}

func (r *AttemptRing) Record(_ context.Context, attempt domain.ConversionAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = attempt
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
	return nil
}

func (r *AttemptRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lenLocked()
}

// Snapshot returns the buffered attempts, newest first.
func (r *AttemptRing) Snapshot() []domain.ConversionAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.lenLocked()
	out := make([]domain.ConversionAttempt, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + r.capacity) % r.capacity
		out = append(out, r.entries[idx])
	}
	return out
}

func (r *AttemptRing) Summary() AttemptSummary {
	return SummarizeAttempts(r.Snapshot())
}

// SummarizeAttempts counts attempts by status.
func SummarizeAttempts(attempts []domain.ConversionAttempt) AttemptSummary {
	summary := AttemptSummary{
		Total:    len(attempts),
		ByStatus: make(map[domain.AttemptStatus]int),
	}
	for _, attempt := range attempts {
		summary.ByStatus[attempt.Status]++
	}
	return summary
}

func (r *AttemptRing) lenLocked() int {
	if r.full {
		return r.capacity
	}
	return r.next
}
