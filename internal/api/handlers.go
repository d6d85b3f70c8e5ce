package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/squitter/internal/modes"
	"github.com/yegors/squitter/internal/pipeline"
	"github.com/yegors/squitter/internal/storage/sqlite"
	"github.com/yegors/squitter/internal/sysmetrics"
	"github.com/yegors/squitter/internal/websocket"
	"github.com/yegors/squitter/pkg/logger"
)

// maxInjectedFrames bounds a single POST /frames body
const maxInjectedFrames = 1000

// HistoryStore reads exported reports back for an aircraft
type HistoryStore interface {
	GetTrackHistory(ctx context.Context, icao string, limit int) ([]sqlite.HistoryRecord, error)
}

// Handler contains the API handlers
type Handler struct {
	service  *pipeline.Service
	history  HistoryStore
	wsServer *websocket.Server
	metrics  *sysmetrics.Recorder
	version  string
	started  time.Time
	logger   *logger.Logger
}

// NewHandler creates a new API handler. history, wsServer and metrics may be nil.
func NewHandler(service *pipeline.Service, history HistoryStore, wsServer *websocket.Server, metrics *sysmetrics.Recorder, version string, log *logger.Logger) *Handler {
	return &Handler{
		service:  service,
		history:  history,
		wsServer: wsServer,
		metrics:  metrics,
		version:  version,
		started:  time.Now(),
		logger:   log.Named("api-handler"),
	}
}

// GetHealth returns the health status of the API
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"tracks":  h.service.Store().Len(),
	}
	if h.wsServer != nil {
		response["websocket_clients"] = h.wsServer.ClientCount()
	}
	WriteJSON(w, http.StatusOK, response)
}

// GetStats returns the pipeline counters and the latest resource sample
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"pipeline": h.service.GetStats(),
	}
	if h.metrics != nil {
		if usage := h.metrics.Last(); !usage.Timestamp.IsZero() {
			response["process"] = usage
		}
	}
	WriteJSON(w, http.StatusOK, response)
}

// GetAllTracks returns the most recently updated tracks first
func (h *Handler) GetAllTracks(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 0)
	tracks := h.service.Store().Recent(limit)

	// Filter by completeness if requested
	if r.URL.Query().Get("complete") == "true" {
		filtered := tracks[:0]
		for _, t := range tracks {
			if t.Complete {
				filtered = append(filtered, t)
			}
		}
		tracks = filtered
	}

	views := pipeline.NewTrackViews(tracks, h.service.Station())
	WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC(),
		"count":     len(views),
		"tracks":    views,
	})
}

// GetTrack returns one track by ICAO address
func (h *Handler) GetTrack(w http.ResponseWriter, r *http.Request) {
	icao := strings.ToUpper(chi.URLParam(r, "icao"))
	if icao == "" {
		http.Error(w, "Missing ICAO address", http.StatusBadRequest)
		return
	}

	t, found := h.service.Store().Get(icao)
	if !found {
		http.Error(w, "Track not found", http.StatusNotFound)
		return
	}

	WriteJSON(w, http.StatusOK, pipeline.NewTrackView(t, h.service.Station()))
}

// GetTrackHistory returns the stored reports of one aircraft, oldest first
func (h *Handler) GetTrackHistory(w http.ResponseWriter, r *http.Request) {
	icao := strings.ToUpper(chi.URLParam(r, "icao"))
	if icao == "" {
		http.Error(w, "Missing ICAO address", http.StatusBadRequest)
		return
	}
	if h.history == nil {
		http.Error(w, "History storage is disabled", http.StatusServiceUnavailable)
		return
	}

	limit := parseLimit(r, 1000)
	history, err := h.history.GetTrackHistory(r.Context(), icao, limit)
	if err != nil {
		h.logger.Error("Failed to get track history",
			logger.Error(err),
			logger.String("icao", icao),
			logger.Int("limit", limit))
		http.Error(w, "Failed to get track history", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"icao":    icao,
		"count":   len(history),
		"history": history,
	})
}

// InjectFramesRequest is the body of POST /frames
type InjectFramesRequest struct {
	Frames []string `json:"frames"`
}

// RejectedFrame reports a frame that was not queued
type RejectedFrame struct {
	Frame string `json:"frame"`
	Error string `json:"error"`
}

// InjectFrames queues raw frames as if a receiver had delivered them now
func (h *Handler) InjectFrames(w http.ResponseWriter, r *http.Request) {
	var req InjectFramesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Frames) == 0 {
		http.Error(w, "No frames provided", http.StatusBadRequest)
		return
	}
	if len(req.Frames) > maxInjectedFrames {
		http.Error(w, "Too many frames", http.StatusRequestEntityTooLarge)
		return
	}

	accepted := 0
	rejected := make([]RejectedFrame, 0)
	for _, raw := range req.Frames {
		err := h.service.Submit(r.Context(), raw, time.Now())
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, pipeline.ErrStopped):
			http.Error(w, "Pipeline is stopped", http.StatusServiceUnavailable)
			return
		default:
			rejected = append(rejected, RejectedFrame{Frame: raw, Error: err.Error()})
		}
	}

	h.logger.Debug("Injected frames",
		logger.Int("accepted", accepted),
		logger.Int("rejected", len(rejected)))

	WriteJSON(w, http.StatusAccepted, map[string]any{
		"accepted": accepted,
		"rejected": rejected,
	})
}

// DecodeResponse is the stateless decode of one frame
type DecodeResponse struct {
	Frame    string        `json:"frame"`
	DF       int           `json:"df"`
	ICAO     string        `json:"icao,omitempty"`
	Typecode int           `json:"typecode"`
	Kind     string        `json:"kind"`
	Message  modes.Message `json:"message,omitempty"`
	Altitude *int          `json:"altitude,omitempty"`
	Errors   []string      `json:"errors,omitempty"`
}

// DecodeFrame decodes a single frame without touching any track. Position
// frames report their CPR half and altitude; a global position needs a pair.
func (h *Handler) DecodeFrame(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "frame")

	f, hdr, err := modes.ClassifyHex(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := DecodeResponse{
		Frame:    f.Hex(),
		DF:       hdr.DF,
		ICAO:     hdr.ICAO,
		Typecode: hdr.Typecode,
		Kind:     hdr.Kind.String(),
	}

	msg, err := modes.DecodeWithHeader(f, hdr)
	if err != nil {
		resp.Errors = append(resp.Errors, err.Error())
	} else {
		resp.Message = msg
	}

	if hdr.Kind == modes.KindPosition {
		alt, err := modes.DecodeAltitude(f)
		if err != nil {
			resp.Errors = append(resp.Errors, err.Error())
		} else {
			resp.Altitude = &alt
		}
	}
	if status, ok := msg.(*modes.OperationalStatus); ok {
		if err := status.Validate(); err != nil {
			resp.Errors = append(resp.Errors, err.Error())
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

// HandleWebSocket upgrades the request to the track stream
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsServer == nil {
		http.Error(w, "WebSocket stream is disabled", http.StatusServiceUnavailable)
		return
	}
	h.wsServer.HandleConnection(w, r)
}

func parseLimit(r *http.Request, def int) int {
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			return l
		}
	}
	return def
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
