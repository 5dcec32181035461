package chat

import (
	"sync"
	"time"
)

// graceTimers schedules delayed removals keyed by id. schedule and cancel
// are called with lock held; fire runs with lock held and its Change is
// published after lock is released.
type graceTimers struct {
	lock    sync.Locker
	delay   time.Duration
	publish func(Change)

	seq     uint64
	entries map[string]graceEntry
}

type graceEntry struct {
	seq   uint64
	timer *time.Timer
}

func newGraceTimers(lock sync.Locker, delay time.Duration, publish func(Change)) *graceTimers {
	return &graceTimers{
		lock:    lock,
		delay:   delay,
		publish: publish,
		entries: make(map[string]graceEntry),
	}
}

// schedule replaces any pending timer for key.
func (g *graceTimers) schedule(key string, fire func() Change) {
	g.cancel(key)

	g.seq++
	seq := g.seq
	t := time.AfterFunc(g.delay, func() {
		g.lock.Lock()
		cur, ok := g.entries[key]
		if !ok || cur.seq != seq {
			// superseded after the timer had already fired
			g.lock.Unlock()
			return
		}
		delete(g.entries, key)
		change := fire()
		g.lock.Unlock()

		if change != 0 && g.publish != nil {
			g.publish(change)
		}
	})
	g.entries[key] = graceEntry{seq: seq, timer: t}
}

func (g *graceTimers) cancel(key string) {
	if e, ok := g.entries[key]; ok {
		e.timer.Stop()
		delete(g.entries, key)
	}
}

func (g *graceTimers) pending(key string) bool {
	_, ok := g.entries[key]
	return ok
}

func (g *graceTimers) stopAll() {
	for key, e := range g.entries {
		e.timer.Stop()
		delete(g.entries, key)
	}
}
