package core

// progress.go implements the progress feed between a running extraction and
// the client watching it.
//
// Each run owns a ProgressChannel: an unbounded FIFO with one producer (the
// orchestrator) and one active consumer (the emitter). Publish never blocks,
// so a slow or absent consumer cannot stall extraction. Channels are keyed by
// session in a ChannelRegistry, so concurrent runs never share a queue.

import (
	"context"
	"sync"
	"time"
)

// ProgressChannel is an unbounded, FIFO queue of ProgressEvent values.
type ProgressChannel struct {
	mu     sync.Mutex
	events []ProgressEvent

	// notify holds at most one pending wakeup for the consumer.
	notify chan struct{}
}

// NewProgressChannel creates an empty channel.
func NewProgressChannel() *ProgressChannel {
	return &ProgressChannel{notify: make(chan struct{}, 1)}
}

// Publish appends ev to the queue. It never blocks.
func (c *ProgressChannel) Publish(ev ProgressEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Consume waits up to timeout for the next event. The boolean is false when
// the timeout elapsed or ctx ended before an event became available.
func (c *ProgressChannel) Consume(ctx context.Context, timeout time.Duration) (ProgressEvent, bool) {
	if ev, ok := c.pop(); ok {
		return ev, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-c.notify:
			if ev, ok := c.pop(); ok {
				return ev, true
			}
		case <-timer.C:
			return c.pop()
		case <-ctx.Done():
			return ProgressEvent{}, false
		}
	}
}

func (c *ProgressChannel) pop() (ProgressEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.events) == 0 {
		return ProgressEvent{}, false
	}
	ev := c.events[0]
	c.events[0] = ProgressEvent{}
	c.events = c.events[1:]
	return ev, true
}

// Drain discards every queued event. Calling it on an empty channel is a no-op.
func (c *ProgressChannel) Drain() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()

	select {
	case <-c.notify:
	default:
	}
}

// Len returns the number of queued, unconsumed events.
func (c *ProgressChannel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// ChannelRegistry maps session ids to their progress channels.
type ChannelRegistry struct {
	mu       sync.RWMutex
	channels map[string]*ProgressChannel
	order    []string // sessions in open order, newest last
}

// NewChannelRegistry creates an empty registry.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{channels: make(map[string]*ProgressChannel)}
}

// Open creates a fresh channel for session. Reopening a session drains and
// replaces whatever channel it had, so stale events never leak into a new run.
func (r *ChannelRegistry) Open(session string) *ProgressChannel {
	ch := NewProgressChannel()

	r.mu.Lock()
	if old, ok := r.channels[session]; ok {
		old.Drain()
		r.removeOrder(session)
	}
	r.channels[session] = ch
	r.order = append(r.order, session)
	r.mu.Unlock()

	return ch
}

// Lookup returns the channel for session.
func (r *ChannelRegistry) Lookup(session string) (*ProgressChannel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[session]
	return ch, ok
}

// Latest returns the most recently opened session still registered.
func (r *ChannelRegistry) Latest() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return "", false
	}
	return r.order[len(r.order)-1], true
}

// Retire publishes a cleanup event on the session's channel so an attached
// emitter stops, then removes the channel after delay.
func (r *ChannelRegistry) Retire(session string, delay time.Duration) {
	r.mu.RLock()
	ch, ok := r.channels[session]
	r.mu.RUnlock()
	if !ok {
		return
	}

	ch.Publish(CleanupEvent(time.Now()))

	remove := func() {
		r.mu.Lock()
		if r.channels[session] == ch {
			delete(r.channels, session)
			r.removeOrder(session)
		}
		r.mu.Unlock()
	}

	if delay <= 0 {
		remove()
		return
	}
	time.AfterFunc(delay, remove)
}

// Len returns the number of registered channels.
func (r *ChannelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

func (r *ChannelRegistry) removeOrder(session string) {
	for i, s := range r.order {
		if s == session {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
