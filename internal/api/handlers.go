package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mattjoyce/mirrorhost/internal/bridge"
	"github.com/mattjoyce/mirrorhost/internal/events"
	"github.com/mattjoyce/mirrorhost/internal/history"
	"github.com/mattjoyce/mirrorhost/internal/imports"
	"github.com/mattjoyce/mirrorhost/internal/protocol"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// writeBridgeError maps bridge failures to HTTP statuses: a worker-reported
// error is the client's problem, a closed stream means the backend is gone.
func (s *Server) writeBridgeError(w http.ResponseWriter, err error) {
	var werr *bridge.WorkerError
	switch {
	case errors.As(err, &werr):
		s.writeError(w, http.StatusBadRequest, werr.Message)
	case errors.Is(err, bridge.ErrStreamClosed):
		s.writeError(w, http.StatusServiceUnavailable, "worker is not running")
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.bridge.ListSessions()
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []bridge.Session{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	talker := chi.URLParam(r, "talker")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	messages, err := s.bridge.GetMessages(talker, limit, offset)
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}
	if messages == nil {
		messages = []bridge.Message{}
	}
	s.writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	talker := chi.URLParam(r, "talker")
	if err := s.bridge.DeleteSession(talker); err != nil {
		s.writeBridgeError(w, err)
		return
	}
	s.hub.Publish(events.TypeSessionDeleted, map[string]string{"talker_id": talker})
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "talker_id": talker})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.File == "" {
		s.writeError(w, http.StatusBadRequest, "body must be {\"file\": <path>}")
		return
	}

	checksum, err := imports.Checksum(req.File)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	duplicate := false
	if s.journal != nil {
		prior, err := s.journal.FindImportByChecksum(r.Context(), checksum)
		if err != nil {
			s.logger.Warn("import dedupe lookup failed", "error", err)
		}
		duplicate = prior != nil
	}

	receipt, err := s.bridge.ImportFile(req.File)
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}

	if s.journal != nil {
		if err := s.journal.RecordImport(r.Context(), &history.ImportRecord{
			File:         req.File,
			Checksum:     checksum,
			TalkerID:     receipt.TalkerID,
			MessageCount: receipt.MessageCount,
		}); err != nil {
			s.logger.Warn("failed to journal import", "error", err)
		}
	}
	s.hub.Publish(events.TypeImportCompleted, receipt)

	s.writeJSON(w, http.StatusOK, importResponse{
		TalkerID:     receipt.TalkerID,
		MessageCount: receipt.MessageCount,
		BuildStatus:  receipt.BuildStatus,
		Checksum:     checksum,
		Duplicate:    duplicate,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recent, err := s.journal.RecentQueries(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recent == nil {
		recent = []history.QueryRecord{}
	}
	s.writeJSON(w, http.StatusOK, recent)
}

// handleQuery runs one streaming query and relays it as SSE: zero or more
// "progress" events followed by exactly one "result" or "error" event.
// Progress is also mirrored onto the event hub for /v1/events subscribers.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Talker == "" || req.Question == "" {
		s.writeError(w, http.StatusBadRequest, "body must include talker and question")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	queryID := uuid.NewString()
	logger := s.logger.With("query_id", queryID, "talker", req.Talker)
	logger.Info("query started")
	s.hub.Publish(events.TypeQueryStarted, map[string]string{
		"query_id": queryID, "talker": req.Talker, "question": req.Question,
	})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	started := time.Now()
	progressCount := 0

	// StreamQuery waits for all progress delivery before returning, so the
	// callback never races the terminal write below.
	onProgress := func(env *protocol.Response) {
		progressCount++
		writeSSEFrame(w, "progress", env.Raw)
		flusher.Flush()
		s.hub.Publish(events.TypeQueryProgress, json.RawMessage(env.Raw))
	}

	result, err := s.bridge.StreamQuery(r.Context(), bridge.QuerySpec{
		Talker:    req.Talker,
		Question:  req.Question,
		Overrides: req.Overrides,
	}, onProgress)

	rec := &history.QueryRecord{
		ID:            queryID,
		Talker:        req.Talker,
		Question:      req.Question,
		ProgressCount: progressCount,
		StartedAt:     started.UTC().Format(time.RFC3339Nano),
		DurationMS:    time.Since(started).Milliseconds(),
	}

	if err != nil {
		rec.Status = history.StatusFailed
		rec.Error = err.Error()
		logger.Warn("query failed", "error", err, "progress_count", progressCount)
		s.hub.Publish(events.TypeQueryFailed, map[string]string{
			"query_id": queryID, "error": err.Error(),
		})
		payload, _ := json.Marshal(errorResponse{Error: err.Error()})
		writeSSEFrame(w, "error", payload)
	} else {
		rec.Status = history.StatusSucceeded
		logger.Info("query completed", "progress_count", progressCount,
			"duration_ms", rec.DurationMS)
		s.hub.Publish(events.TypeQueryResult, json.RawMessage(result.Raw))
		writeSSEFrame(w, "result", result.Raw)
	}
	flusher.Flush()

	if s.journal != nil {
		// The request context may already be cancelled if the client went away.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if jerr := s.journal.RecordQuery(ctx, rec); jerr != nil {
			logger.Warn("failed to journal query", "error", jerr)
		}
	}
}
