package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Func is called on every tick. Errors are logged and the loop continues.
type Func func(ctx context.Context) error

// Heartbeater runs a Func immediately and then on a fixed interval.
type Heartbeater struct {
	fn       Func
	interval time.Duration
}

func New(fn Func, interval time.Duration) *Heartbeater {
	return &Heartbeater{fn: fn, interval: interval}
}

// Start spawns the loop and returns a function that stops it and waits for it to exit.
func (h *Heartbeater) Start(ctx context.Context) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.run(ctx)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func (h *Heartbeater) run(ctx context.Context) {
	h.beat(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeater) beat(ctx context.Context) {
	if err := h.fn(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		zerolog.Ctx(ctx).Error().Err(err).Msg("heartbeat failed (continuing)")
	}
}

// Registry keeps one running heartbeat per key. Starting is insert-and-spawn,
// stopping is cancel-and-remove.
type Registry struct {
	mu       sync.Mutex
	handles  map[string]context.CancelFunc
	interval time.Duration
}

func NewRegistry(interval time.Duration) *Registry {
	return &Registry{
		handles:  make(map[string]context.CancelFunc),
		interval: interval,
	}
}

// Start arms a heartbeat for key unless one is already running. It reports whether it started one.
func (r *Registry) Start(ctx context.Context, key string, fn Func) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[key]; ok {
		return false
	}
	r.handles[key] = New(fn, r.interval).Start(ctx)
	return true
}

// Stop cancels the heartbeat for key. It reports whether one was running.
func (r *Registry) Stop(key string) bool {
	r.mu.Lock()
	cancel, ok := r.handles[key]
	delete(r.handles, key)
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (r *Registry) Running(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[key]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// StopAll cancels every heartbeat, used on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]context.CancelFunc)
	r.mu.Unlock()
	for _, cancel := range handles {
		cancel()
	}
}
