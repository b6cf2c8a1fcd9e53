// Package pending tracks in-flight quests by correlation seq and guarantees
// each registered continuation is resolved exactly once: by the matching
// answer, by an explicit failure, by the once-per-second expiry sweep, or by
// a bulk fail when the connection carrying the quests is torn down.
package pending

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Continuation receives the decoded answer payload or a terminal error,
// never both. It is always invoked outside the registry lock.
type Continuation func(payload map[string]any, err error)

type entry struct {
	cont     Continuation
	deadline time.Time
}

type Registry struct {
	mu      sync.Mutex
	entries map[uint32]entry
	log     *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		entries: make(map[uint32]entry),
		log:     log,
	}
}

// Register records a continuation under seq with a deadline of now+timeout.
// A duplicate seq is a caller bug: seqs must stay unique for the lifetime of
// the pending window.
func (r *Registry) Register(seq uint32, cont Continuation, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.entries[seq]; dup {
		return fmt.Errorf("pending: seq %d already registered", seq)
	}
	r.entries[seq] = entry{cont: cont, deadline: time.Now().Add(timeout)}
	return nil
}

// ResolveSuccess completes seq with the answer payload. Returns false if seq
// is unknown (already resolved or swept); resolving twice is a no-op.
func (r *Registry) ResolveSuccess(seq uint32, payload map[string]any) bool {
	e, ok := r.take(seq)
	if !ok {
		return false
	}
	e.cont(payload, nil)
	return true
}

// ResolveFailure completes seq with err. Same idempotency as ResolveSuccess.
func (r *Registry) ResolveFailure(seq uint32, err error) bool {
	e, ok := r.take(seq)
	if !ok {
		return false
	}
	e.cont(nil, err)
	return true
}

func (r *Registry) take(seq uint32) (entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[seq]
	if ok {
		delete(r.entries, seq)
	}
	return e, ok
}

// SweepExpired resolves every entry whose deadline is at or before now with
// timeoutErr. Continuations run after the map mutation, outside the lock, so
// a continuation may re-register without deadlocking.
func (r *Registry) SweepExpired(now time.Time, timeoutErr error) {
	var expired []entry

	r.mu.Lock()
	for seq, e := range r.entries {
		if !e.deadline.After(now) {
			expired = append(expired, e)
			delete(r.entries, seq)
		}
	}
	r.mu.Unlock()

	if len(expired) > 0 {
		r.log.Debug("pending quests expired", zap.Int("count", len(expired)))
	}
	for _, e := range expired {
		e.cont(nil, timeoutErr)
	}
}

// FailAll resolves every remaining entry with err. Used when the connection
// that carried the quests is destroyed.
func (r *Registry) FailAll(err error) {
	r.mu.Lock()
	remaining := make([]entry, 0, len(r.entries))
	for seq, e := range r.entries {
		remaining = append(remaining, e)
		delete(r.entries, seq)
	}
	r.mu.Unlock()

	for _, e := range remaining {
		e.cont(nil, err)
	}
}

// Len reports the number of in-flight quests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
