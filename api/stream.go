/*
stream.go - Server-Sent Events transport for the change notifier

PURPOSE:
  Streams the caller's committed entry events over SSE. The handler is
  a thin shell around the notify.Hub subscriber registry: subscribe on
  connect, forward until the client goes away, unsubscribe on return.
  Missed events are gone for good; clients refetch state on reconnect.
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// StreamEvents serves GET /api/events.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.Hub.Subscribe(owner.ID)
	defer h.Hub.Unsubscribe(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-sub.Events():
			if !open {
				return
			}
			data, err := json.Marshal(event.Payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
