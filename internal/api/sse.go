package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const sseHeartbeat = 15 * time.Second

// sseStream frames server-sent events onto a flushing response writer.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (st sseStream) event(name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(st.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	st.flusher.Flush()
	return nil
}

func (st sseStream) comment(text string) error {
	if _, err := fmt.Fprintf(st.w, ": %s\n\n", text); err != nil {
		return err
	}
	st.flusher.Flush()
	return nil
}

// handleSSE streams run lifecycle events. ?project_id= restricts the stream
// to one project. A slow client loses its oldest progress events first.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		respondError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	projectID := r.URL.Query().Get("project_id")
	sub := s.deps.Bus.SubscribeForProject(projectID)
	defer s.deps.Bus.Unsubscribe(sub)

	logger := s.logger.With("remote_addr", r.RemoteAddr, "project_id", projectID)
	logger.Info("event stream opened")
	defer logger.Info("event stream closed")

	stream := sseStream{w: w, flusher: flusher}
	if err := stream.event("connected", map[string]string{"status": "connected"}); err != nil {
		return
	}

	keepalive := time.NewTicker(sseHeartbeat)
	defer keepalive.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			err = stream.comment("keepalive")
		case ev, open := <-sub:
			if !open {
				return
			}
			err = stream.event(ev.EventType(), ev)
		}
		if err != nil {
			logger.Debug("event stream write failed", "error", err)
			return
		}
	}
}
