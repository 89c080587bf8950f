package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tablextract/internal/core"
	"github.com/JonMunkholm/tablextract/internal/logging"
)

// handleProgress streams the progress of one run.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session")

	ch, err := s.service.Subscribe(session)
	if err != nil {
		respondError(w, r, err)
		return
	}

	tr, err := newSSETransport(w, r)
	if err != nil {
		logging.FromContext(r.Context()).Error("progress stream", "error", err)
		return
	}

	logging.WithFields(r.Context(), "session", session).Debug("progress stream attached")
	s.emitter.Stream(r.Context(), ch, tr)
}

// handleLegacyProgress streams the run named by ?session=, or the newest
// run when none is named. Without a run yet, the stream stays open with
// keepalives until one starts. Runs that finished before the stream opened
// are not attached to.
func (s *Server) handleLegacyProgress(w http.ResponseWriter, r *http.Request) {
	if session := r.URL.Query().Get("session"); session != "" {
		r = withURLParam(r, "session", session)
		s.handleProgress(w, r)
		return
	}

	tr, err := newSSETransport(w, r)
	if err != nil {
		logging.FromContext(r.Context()).Error("progress stream", "error", err)
		return
	}

	session, err := s.awaitSession(r.Context(), tr, time.Now())
	if err != nil {
		return
	}

	ch, err := s.service.Subscribe(session)
	if err != nil {
		// The run was retired between lookup and subscribe.
		tr.Send(core.NewErrorEvent(core.MapError(err).Message, 0, 0, s.emitter.Now()))
		return
	}

	logging.WithFields(r.Context(), "session", session).Debug("progress stream attached to newest run")
	s.emitter.Stream(r.Context(), ch, tr)
}

// awaitSession waits for a run to become available, sending a keepalive
// every heartbeat. It returns an error when the client goes away first.
func (s *Server) awaitSession(ctx context.Context, tr *sseTransport, since time.Time) (string, error) {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, s.emitter.Heartbeat)
		session, err := s.service.AwaitLatest(waitCtx, since)
		cancel()

		if err == nil {
			return session, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err := tr.Send(core.KeepaliveEvent(s.emitter.Now())); err != nil {
			return "", err
		}
	}
}

// withURLParam exposes a query value as a chi URL param so the handler for
// the parameterized route can serve it.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	}
	rctx.URLParams.Add(key, value)
	return r
}
