package core

import (
	"context"
	"log/slog"
	"time"
)

// DefaultHeartbeat is how long the emitter waits for an event before it sends
// a keepalive.
const DefaultHeartbeat = 15 * time.Second

// DefaultCompletionGrace is how long the emitter lingers after a completion
// event so the transport can flush it.
const DefaultCompletionGrace = 500 * time.Millisecond

// Transport delivers events to one connected client.
type Transport interface {
	// Send writes one event. An error means the client is gone.
	Send(ev ProgressEvent) error
	// Done is closed when the client disconnects.
	Done() <-chan struct{}
}

// Emitter forwards a run's ProgressChannel to a Transport.
type Emitter struct {
	Heartbeat time.Duration
	Grace     time.Duration
	Now       func() time.Time
}

// NewEmitter creates an Emitter with the given heartbeat and completion grace.
// A non-positive heartbeat or a negative grace falls back to the default.
func NewEmitter(heartbeat, grace time.Duration) *Emitter {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	if grace < 0 {
		grace = DefaultCompletionGrace
	}
	return &Emitter{Heartbeat: heartbeat, Grace: grace, Now: time.Now}
}

// Stream runs until the client disconnects, the channel is retired, or a
// completion event has been delivered. Error events are delivered and the
// loop keeps going; the client is expected to close on receiving one.
func (e *Emitter) Stream(ctx context.Context, ch *ProgressChannel, tr Transport) {
	logger := slog.With("component", "emitter")

	// Consume must return as soon as the client goes away.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-tr.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-tr.Done():
			logger.Debug("progress stream client disconnected")
			return
		case <-ctx.Done():
			return
		default:
		}

		ev, ok := ch.Consume(ctx, e.Heartbeat)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			if err := tr.Send(KeepaliveEvent(e.Now())); err != nil {
				logger.Debug("progress stream send failed", "error", err)
				return
			}
			continue
		}

		switch ev.Type {
		case EventCleanup:
			return
		case EventCompletion:
			if err := tr.Send(ev); err != nil {
				logger.Debug("progress stream send failed", "error", err)
				return
			}
			e.linger(tr)
			return
		default:
			if err := tr.Send(ev); err != nil {
				logger.Debug("progress stream send failed", "error", err)
				return
			}
		}
	}
}

func (e *Emitter) linger(tr Transport) {
	if e.Grace <= 0 {
		return
	}
	t := time.NewTimer(e.Grace)
	defer t.Stop()
	select {
	case <-t.C:
	case <-tr.Done():
	}
}
