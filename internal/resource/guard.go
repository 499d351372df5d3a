// Package resource guards the single expensive transcription model. The
// guard enforces a holder ceiling, loads the model lazily on first acquire,
// and unloads it after a configurable idle window. Load/unload hooks are
// supplied by the host; callers only ever see Acquire and Release.
package resource

import (
	"context"
	"errors"
	"sync"
	"time"

	"transcription-scheduler/internal/models"
)

// ErrGuardClosed is returned by Acquire after Close.
var ErrGuardClosed = errors.New("resource guard closed")

// Hooks are the host-supplied lifecycle callbacks for the underlying model.
// Load must return a usable handle; Unload may be nil.
type Hooks struct {
	Load   func(ctx context.Context) (any, error)
	Unload func(handle any) error
}

type guardState int

const (
	stateUnloaded guardState = iota
	stateLoading
	stateLoaded
	stateUnloading
)

type waiter struct {
	ch        chan struct{}
	granted   bool
	cancelled bool
	gen       uint64
}

// Guard serializes access to the model behind a holder ceiling.
// Waiters are served FIFO; priority is enforced upstream at dequeue time.
type Guard struct {
	mu        sync.Mutex
	stateCond *sync.Cond

	hooks     Hooks
	ceiling   int
	idleAfter time.Duration

	state        guardState
	handle       any
	inUse        int
	gen          uint64
	waiters      []*waiter
	lastReleased time.Time
	idleTimer    *time.Timer
	closed       bool
}

// NewGuard builds a guard with the given holder ceiling. An idleAfter of zero
// disables idle unloading.
func NewGuard(hooks Hooks, ceiling int, idleAfter time.Duration) *Guard {
	if ceiling < 1 {
		ceiling = 1
	}
	g := &Guard{hooks: hooks, ceiling: ceiling, idleAfter: idleAfter}
	g.stateCond = sync.NewCond(&g.mu)
	return g
}

// Lease represents one held slot. Release is idempotent. A lease invalidated
// by ForceReleaseAll releases nothing; its slot is already accounted for.
type Lease struct {
	g    *Guard
	gen  uint64
	done bool
}

// Handle returns the loaded model handle backing this lease.
func (l *Lease) Handle() any {
	l.g.mu.Lock()
	defer l.g.mu.Unlock()
	return l.g.handle
}

// Release returns the slot and restarts the idle clock when the guard drains.
func (l *Lease) Release() {
	l.g.mu.Lock()
	defer l.g.mu.Unlock()
	if l.done {
		return
	}
	l.done = true
	l.g.releaseGenSlotLocked(l.gen)
}

// Acquire blocks until a slot is free, loading the model on first use.
// A load failure surfaces as a models.JobError with kind
// resource_load_failure and leaves the guard usable for later acquires.
func (g *Guard) Acquire(ctx context.Context) (*Lease, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrGuardClosed
	}

	var gen uint64
	if g.inUse < g.ceiling && len(g.waiters) == 0 {
		g.inUse++
		g.stopIdleTimerLocked()
		gen = g.gen
	} else {
		w := &waiter{ch: make(chan struct{})}
		g.waiters = append(g.waiters, w)
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			g.mu.Lock()
			if w.granted {
				// Grant raced the cancellation; hand the slot back.
				g.releaseGenSlotLocked(w.gen)
			} else {
				w.cancelled = true
			}
			g.mu.Unlock()
			return nil, ctx.Err()
		case <-w.ch:
			g.mu.Lock()
			if !w.granted || g.closed {
				if w.granted {
					g.releaseGenSlotLocked(w.gen)
				}
				g.mu.Unlock()
				return nil, ErrGuardClosed
			}
			gen = w.gen
		}
	}

	// Slot held; make sure the model is loaded before handing out the lease.
	if err := g.ensureLoadedLocked(ctx); err != nil {
		g.releaseGenSlotLocked(gen)
		g.mu.Unlock()
		return nil, err
	}
	if g.closed {
		g.releaseGenSlotLocked(gen)
		g.mu.Unlock()
		return nil, ErrGuardClosed
	}
	g.mu.Unlock()
	return &Lease{g: g, gen: gen}, nil
}

// ensureLoadedLocked drives the unloaded -> loading -> loaded machine.
// Acquires arriving mid-unload wait for the unload to finish, then reload;
// they never observe a partially torn-down handle.
func (g *Guard) ensureLoadedLocked(ctx context.Context) error {
	for {
		switch g.state {
		case stateLoaded:
			return nil
		case stateLoading, stateUnloading:
			g.stateCond.Wait()
		case stateUnloaded:
			g.state = stateLoading
			g.mu.Unlock()
			handle, err := g.hooks.Load(ctx)
			g.mu.Lock()
			if err != nil {
				g.state = stateUnloaded
				g.stateCond.Broadcast()
				return models.NewJobError(models.KindResourceLoadFailure, "load model: %v", err)
			}
			g.state = stateLoaded
			g.handle = handle
			g.stateCond.Broadcast()
			return nil
		}
	}
}

// releaseGenSlotLocked drops a release from a generation that ForceReleaseAll
// has since reset; the slot it held is no longer counted.
func (g *Guard) releaseGenSlotLocked(gen uint64) {
	if gen != g.gen {
		return
	}
	g.releaseSlotLocked()
}

// releaseSlotLocked transfers the slot to the oldest live waiter, or frees it
// and arms the idle timer when the guard goes quiet.
func (g *Guard) releaseSlotLocked() {
	for len(g.waiters) > 0 {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		if w.cancelled {
			continue
		}
		w.granted = true
		w.gen = g.gen
		close(w.ch)
		return
	}
	g.inUse--
	g.lastReleased = time.Now()
	if g.inUse == 0 && !g.closed {
		g.armIdleTimerLocked()
	}
}

func (g *Guard) armIdleTimerLocked() {
	if g.idleAfter <= 0 {
		return
	}
	g.stopIdleTimerLocked()
	g.idleTimer = time.AfterFunc(g.idleAfter, g.idleUnload)
}

func (g *Guard) stopIdleTimerLocked() {
	if g.idleTimer != nil {
		g.idleTimer.Stop()
		g.idleTimer = nil
	}
}

// idleUnload fires from the idle timer and unloads the model if the guard is
// still quiet. A stale firing (new acquire in between) is a no-op.
func (g *Guard) idleUnload() {
	g.mu.Lock()
	if g.closed || g.state != stateLoaded || g.inUse > 0 || len(g.waiters) > 0 ||
		time.Since(g.lastReleased) < g.idleAfter {
		g.mu.Unlock()
		return
	}
	g.state = stateUnloading
	handle := g.handle
	g.handle = nil
	g.mu.Unlock()

	if g.hooks.Unload != nil {
		_ = g.hooks.Unload(handle)
	}

	g.mu.Lock()
	g.state = stateUnloaded
	g.stateCond.Broadcast()
	g.mu.Unlock()
}

// ForceReleaseAll resets holder accounting and invalidates every outstanding
// lease, then grants as many queued waiters as the ceiling allows.
// Administrative use only.
func (g *Guard) ForceReleaseAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	g.inUse = 0
	for len(g.waiters) > 0 && g.inUse < g.ceiling {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		if w.cancelled {
			continue
		}
		g.inUse++
		w.granted = true
		w.gen = g.gen
		close(w.ch)
	}
	g.lastReleased = time.Now()
	if g.inUse == 0 {
		g.armIdleTimerLocked()
	}
}

// Close rejects future acquires, wakes queued waiters, and unloads the model.
func (g *Guard) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.stopIdleTimerLocked()
	for _, w := range g.waiters {
		if !w.cancelled {
			close(w.ch)
		}
	}
	g.waiters = nil

	for g.state == stateLoading || g.state == stateUnloading {
		g.stateCond.Wait()
	}
	var handle any
	unload := g.state == stateLoaded
	if unload {
		handle = g.handle
		g.handle = nil
		g.state = stateUnloaded
	}
	g.mu.Unlock()

	if unload && g.hooks.Unload != nil {
		_ = g.hooks.Unload(handle)
	}
}

// Loaded reports whether the model is currently instantiated.
func (g *Guard) Loaded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == stateLoaded
}

// InUse returns the number of held slots.
func (g *Guard) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}

// LastReleasedAt returns the time of the most recent release.
func (g *Guard) LastReleasedAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastReleased
}
