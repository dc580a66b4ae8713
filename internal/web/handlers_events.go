package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// handleEvents streams a spreadsheet's events via Server-Sent Events.
//
// The first event is "ready", carrying the client id assigned to this
// stream; clients send it back as X-Client-ID on their edits. A comment
// line is written every heartbeat interval to keep proxies from closing an
// idle stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sub, err := s.service.Subscribe(r.Context(), chi.URLParam(r, "id"), clientID(r))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	defer sub.Close()

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ready, _ := json.Marshal(map[string]string{"clientId": sub.ClientID})
	fmt.Fprintf(w, "event: ready\ndata: %s\n\n", ready)
	if err := rc.Flush(); err != nil {
		slog.Error("event stream: flush not supported", "error", err)
		return
	}

	heartbeat := s.cfg.Events.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			if err := rc.Flush(); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("event stream: encode failed", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
