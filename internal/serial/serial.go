// Package serial runs tasks strictly one at a time per key, in
// submission order, while letting different keys proceed fully in
// parallel.
package serial

import "sync"

type entry struct {
	queue   []func()
	running bool
}

// Group serializes work per key. The zero value is not usable; call New.
type Group struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Group {
	return &Group{entries: make(map[string]*entry)}
}

// Go schedules fn behind every task already submitted for the same key
// and returns immediately. The queue position is claimed before Go
// returns, so a caller that submits sequentially gets strict FIFO
// execution even though the tasks themselves run on another goroutine.
func (g *Group) Go(key string, fn func()) {
	g.mu.Lock()
	e, ok := g.entries[key]
	if !ok {
		e = &entry{}
		g.entries[key] = e
	}
	e.queue = append(e.queue, fn)
	start := !e.running
	if start {
		e.running = true
	}
	g.mu.Unlock()

	if start {
		go g.drain(key, e)
	}
}

// drain runs the key's queue to exhaustion. Exactly one drain loop runs
// per live entry; the entry is dropped when its queue empties.
func (g *Group) drain(key string, e *entry) {
	for {
		g.mu.Lock()
		if len(e.queue) == 0 {
			delete(g.entries, key)
			g.mu.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue = e.queue[1:]
		g.mu.Unlock()

		fn()
	}
}

// Do runs fn after every previously submitted task for the same key has
// finished (successfully or not) and blocks until fn returns.
func (g *Group) Do(key string, fn func()) {
	done := make(chan struct{})
	g.Go(key, func() {
		defer close(done)
		fn()
	})
	<-done
}

// Pending reports how many keys currently have queued or running work.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
