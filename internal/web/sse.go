package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/tablextract/internal/core"
)

// sseTransport writes progress events as unnamed server-sent events, one
// "data: <json>" frame per event, which is what EventSource.onmessage
// receives.
type sseTransport struct {
	w    http.ResponseWriter
	rc   *http.ResponseController
	done <-chan struct{}
}

// newSSETransport writes the stream headers and flushes them so the client
// sees the connection open before the first event.
func newSSETransport(w http.ResponseWriter, r *http.Request) (*sseTransport, error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("streaming not supported: %w", err)
	}
	return &sseTransport{w: w, rc: rc, done: r.Context().Done()}, nil
}

// Send implements core.Transport.
func (t *sseTransport) Send(ev core.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(t.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return t.rc.Flush()
}

// Done implements core.Transport.
func (t *sseTransport) Done() <-chan struct{} {
	return t.done
}
