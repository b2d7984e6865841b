package lifecycle

import "sync"

// RunState tracks whether a component is started, enforcing the
// idempotency spec.md §4.H requires: "start() is idempotent; stop() on a
// stopped component is a no-op."
type RunState struct {
	mu      sync.Mutex
	running bool
}

// Start runs fn only if not already running, and marks the component
// running only if fn succeeds. Returns (true, nil) if this call actually
// performed the start; (false, err) if fn failed; (false, nil) if the
// component was already running.
func (r *RunState) Start(fn func() error) (started bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false, nil
	}
	if err := fn(); err != nil {
		return false, err
	}
	r.running = true
	return true, nil
}

// Stop runs fn only if currently running, then marks the component
// stopped regardless of whether fn itself reports an error — stop is
// documented in spec.md as best-effort cleanup, not a transactional op.
func (r *RunState) Stop(fn func()) (stopped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return false
	}
	fn()
	r.running = false
	return true
}

// IsRunning reports the current state.
func (r *RunState) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
