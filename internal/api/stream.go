package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"example.com/wbgt/internal/broadcast"
	"example.com/wbgt/internal/domain"
)

// events streams the conduct's broadcast envelopes as server-sent events. The
// current system status is sent first.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.conductCaller(w, r)
	if !ok {
		return
	}
	if h.hub == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "event stream disabled")
		return
	}
	status, err := h.service.SystemStatus(r.Context(), caller.ConductID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	sub := h.hub.Subscribe(caller.ConductID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	now := h.service.Now()
	initial := domain.SystemStatusEvent(caller.ConductID, status, now)
	payload, err := json.Marshal(initial.Payload)
	if err != nil {
		h.logger.Error("encode system status", slog.String("conduct_id", caller.ConductID), slog.Any("error", err))
		return
	}
	if err := writeEvent(w, broadcast.Envelope{ConductID: caller.ConductID, EventType: initial.Type, Payload: payload, At: now}); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case env, open := <-sub.Events:
			if !open {
				return
			}
			if err := writeEvent(w, env); err != nil {
				h.logger.Debug("event stream closed", slog.String("conduct_id", caller.ConductID), slog.Any("error", err))
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, env broadcast.Envelope) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.EventType, env.Payload)
	return err
}
