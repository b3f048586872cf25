package libroutine

import (
	"context"
	"log"
	"sync"
	"time"
)

// LoopConfig describes one keyed maintenance loop.
type LoopConfig struct {
	// Key identifies the loop. Breaker parameters are bound to the key on
	// first use and persist across restarts of the loop.
	Key          string
	Threshold    int
	ResetTimeout time.Duration
	Interval     time.Duration
	Operation    func(ctx context.Context) error
}

// Group runs at most one loop per key, process-wide. It keeps the breaker for
// a key alive across loop restarts so failure history is not lost.
type Group struct {
	mu       sync.Mutex
	managers map[string]*Routine
	active   map[string]bool
	triggers map[string]chan struct{}
}

var (
	group     *Group
	groupOnce sync.Once
)

// GetGroup returns the process-wide loop group.
func GetGroup() *Group {
	groupOnce.Do(func() {
		group = &Group{
			managers: make(map[string]*Routine),
			active:   make(map[string]bool),
			triggers: make(map[string]chan struct{}),
		}
	})
	return group
}

// StartLoop starts the loop for cfg.Key unless one is already running. The
// loop stops when ctx is done; the breaker and trigger channel for the key
// stay registered so a later StartLoop resumes with the same state.
func (g *Group) StartLoop(ctx context.Context, cfg *LoopConfig) {
	g.mu.Lock()
	if g.active[cfg.Key] {
		g.mu.Unlock()
		return
	}
	manager, ok := g.managers[cfg.Key]
	if !ok {
		manager = NewRoutine(cfg.Threshold, cfg.ResetTimeout)
		g.managers[cfg.Key] = manager
	}
	trigger, ok := g.triggers[cfg.Key]
	if !ok {
		trigger = make(chan struct{}, 1)
		g.triggers[cfg.Key] = trigger
	}
	g.active[cfg.Key] = true
	g.mu.Unlock()

	go func() {
		defer func() {
			g.mu.Lock()
			delete(g.active, cfg.Key)
			g.mu.Unlock()
		}()
		manager.Loop(ctx, cfg.Interval, trigger, cfg.Operation, func(err error) {
			log.Printf("libroutine: loop %q: %v", cfg.Key, err)
		})
	}()
}

// IsLoopActive reports whether a loop is currently running for key.
func (g *Group) IsLoopActive(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[key]
}

// GetManager returns the breaker bound to key, or nil if none exists yet.
func (g *Group) GetManager(key string) *Routine {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.managers[key]
}

// ForceUpdate asks the loop for key to run its operation now. The signal is
// dropped if a trigger is already pending or no loop was ever started.
func (g *Group) ForceUpdate(key string) {
	g.mu.Lock()
	trigger := g.triggers[key]
	g.mu.Unlock()
	if trigger == nil {
		return
	}
	select {
	case trigger <- struct{}{}:
	default:
	}
}
