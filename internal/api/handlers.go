package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fieldsync/internal/export"
	"fieldsync/internal/location"
	"fieldsync/internal/models"

	"github.com/go-chi/chi/v5"
)

const (
	maxBodyBytes          = 1 << 20
	defaultDeadLetterList = 100
	defaultEventList      = 50
	xlsxContentType       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type statusResponse struct {
	Online       bool            `json:"online"`
	Syncing      bool            `json:"syncing"`
	PendingCount int             `json:"pendingCount"`
	Location     *locationStatus `json:"location,omitempty"`
}

type locationStatus struct {
	Tracking   bool                   `json:"tracking"`
	LastError  string                 `json:"lastError,omitempty"`
	LastSample *models.LocationSample `json:"lastSample,omitempty"`
}

type submitRequest struct {
	Kind    models.Kind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

type locationRequest struct {
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Accuracy  float64    `json:"accuracy"`
	Timestamp *time.Time `json:"timestamp,omitempty"`

	// BatteryLevel is in percent; -1 marks it unknown.
	BatteryLevel *int `json:"batteryLevel,omitempty"`

	// Error reports a platform failure, e.g. a denied permission, instead of a fix.
	Error string `json:"error,omitempty"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Online:       s.deps.Network.IsOnline(),
		Syncing:      s.deps.Engine.Syncing().Get(),
		PendingCount: s.deps.Queue.PendingCount().Get(),
	}

	if sampler := s.deps.Sampler; sampler != nil {
		loc := &locationStatus{
			Tracking:  sampler.IsTracking(),
			LastError: sampler.LastError().Get(),
		}
		if sample, ok := sampler.LastSample(); ok {
			loc.LastSample = &sample
		}
		resp.Location = loc
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleListActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actions": s.deps.Queue.List()})
}

func (s *HTTPServer) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload, err := models.DecodePayload(req.Kind, req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.deps.Actions.Submit(r.Context(), payload)
	if err != nil {
		if errors.Is(err, models.ErrUnknownKind) || errors.Is(err, models.ErrInvalidPayload) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (s *HTTPServer) handleRemoveAction(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	s.deps.Queue.Remove(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleClearActions(w http.ResponseWriter, r *http.Request) {
	s.deps.Queue.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.SyncPendingActions(s.baseCtx))
}

func (s *HTTPServer) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}

	s.deps.Network.SetOnline(*req.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": s.deps.Network.IsOnline()})
}

func (s *HTTPServer) handleVisibility(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Sampler == nil {
		writeError(w, http.StatusNotFound, "location tracking is disabled")
		return
	}
	// Трекинг переживает запрос, поэтому контекст сервера, а не запроса.
	s.deps.Sampler.OnVisible(s.baseCtx)
	w.WriteHeader(http.StatusAccepted)
}

func (s *HTTPServer) handleLocation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Positions == nil {
		writeError(w, http.StatusNotFound, "location tracking is disabled")
		return
	}

	var req locationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if msg := strings.TrimSpace(req.Error); msg != "" {
		s.deps.Positions.Fail(errors.New(msg))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	fix := models.TrackLocationPayload{Latitude: req.Latitude, Longitude: req.Longitude, Accuracy: req.Accuracy}
	if err := fix.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pos := location.Position{
		Coordinates: models.Coordinates{Latitude: req.Latitude, Longitude: req.Longitude},
		Accuracy:    req.Accuracy,
	}
	if req.Timestamp != nil {
		pos.Timestamp = *req.Timestamp
	}
	if req.BatteryLevel != nil && s.deps.Battery != nil {
		if *req.BatteryLevel > 100 || *req.BatteryLevel < -1 {
			writeError(w, http.StatusBadRequest, "batteryLevel out of range")
			return
		}
		s.deps.Battery.Set(*req.BatteryLevel)
	}
	s.deps.Positions.Update(pos)
	w.WriteHeader(http.StatusAccepted)
}

func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeError(w, http.StatusNotFound, "event log is disabled")
		return
	}
	limit, ok := queryLimit(w, r, defaultEventList)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.deps.Events.Recent(limit)})
}

func (s *HTTPServer) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deps.DeadLetters == nil {
		writeError(w, http.StatusNotFound, "dead letters are disabled")
		return
	}

	limit, ok := queryLimit(w, r, defaultDeadLetterList)
	if !ok {
		return
	}

	entries, err := s.deps.DeadLetters.List(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list dead letters")
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	if entries == nil {
		entries = []models.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deadLetters": entries})
}

func (s *HTTPServer) handleExportDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deps.DeadLetters == nil {
		writeError(w, http.StatusNotFound, "dead letters are disabled")
		return
	}

	entries, err := s.deps.DeadLetters.List(r.Context(), 0)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list dead letters")
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}

	var buf bytes.Buffer
	if err := export.WriteDeadLetters(&buf, entries); err != nil {
		s.logger.Error().Err(err).Msg("Failed to build dead letter export")
		writeError(w, http.StatusInternalServerError, "failed to build export")
		return
	}

	filename := fmt.Sprintf("deadletters_%s.xlsx", time.Now().Format("2006-01-02_150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// queryLimit parses ?limit=; 0 means no limit. It writes a 400 on bad input.
func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
