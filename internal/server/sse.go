package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rendis/nodegraph/internal/store"
	"github.com/rendis/nodegraph/internal/streaming"
	"github.com/rendis/nodegraph/pkg/schema"
)

// handleRunEvents streams a run's events via Server-Sent Events. A run that
// already finished is replayed from its record; a live run streams until its
// terminal event.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.deps.Hub == nil {
		writeError(w, http.StatusNotImplemented, "event streaming is not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before reading the record so no event falls in between.
	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), streaming.EventFilter{RunID: id})
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", slog.String("error", err.Error()))
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	run, err := s.deps.Store.GetRun(r.Context(), id)
	if err != nil {
		writeSchemaError(w, err, id)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if run.Status.IsTerminal() {
		for _, evt := range replay(run) {
			writeEvent(w, evt)
		}
		flusher.Flush()
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, event)
			flusher.Flush()
			if event.EventType == schema.EventRunCompleted || event.EventType == schema.EventRunFailed {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event streaming.StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
}

// replay rebuilds the event sequence of a finished run from its record.
func replay(run *store.Run) []streaming.StreamEvent {
	events := make([]streaming.StreamEvent, 0, len(run.Trace)+1)
	for _, entry := range run.Trace {
		events = append(events, streaming.StreamEvent{
			RunID:     run.ID,
			NodeID:    entry.NodeID,
			EventType: schema.EventNodeVisited,
			Payload:   entry,
		})
	}

	last := streaming.StreamEvent{RunID: run.ID, EventType: schema.EventRunCompleted}
	if run.Status == schema.RunStatusFailed {
		last.EventType = schema.EventRunFailed
		if run.Error != nil {
			last.NodeID = run.Error.NodeID
			last.Payload = map[string]any{"code": run.Error.Code, "error": run.Error.Message}
		}
	} else {
		last.Payload = map[string]any{"visited": len(run.Trace)}
	}
	return append(events, last)
}
