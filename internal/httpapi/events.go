package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// streamEvents relays supervisor events as server-sent events. The optional
// generator_id query parameter narrows the stream to one generator.
func (s *server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	var genID int64
	if v := r.URL.Query().Get("generator_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid generator_id")
			return
		}
		genID = id
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// long-lived response; no write deadline
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch, unsub := s.events.Subscribe()
	defer unsub()
	eventStreams.Inc()
	defer eventStreams.Dec()

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if genID != 0 && ev.GeneratorID != genID {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-ctx.Done():
			return
		}
	}
}
