package pipeline

import (
	"strings"

	"github.com/yegors/squitter/internal/websocket"
	"github.com/yegors/squitter/pkg/logger"
)

// WebSocketHandler handles incoming WebSocket messages for track data
type WebSocketHandler struct {
	service *Service
	logger  *logger.Logger
}

// NewWebSocketHandler creates a new WebSocket message handler
func NewWebSocketHandler(service *Service, log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
		logger:  log.Named("tracks-ws-handler"),
	}
}

// HandleMessage handles incoming WebSocket messages
func (h *WebSocketHandler) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	switch messageType {
	case websocket.MessageTypeTracksBulkRequest:
		return h.handleBulkRequest(client, data)
	case websocket.MessageTypeFilterUpdate:
		return h.handleFilterUpdate(client, data)
	default:
		h.logger.Debug("Unhandled message type", logger.String("type", messageType))
		return nil
	}
}

// handleBulkRequest answers with the most recent tracks matching the client's filters
func (h *WebSocketHandler) handleBulkRequest(client *websocket.Client, data map[string]any) error {
	limit := 0
	if val, ok := data["limit"].(float64); ok && val > 0 {
		limit = int(val)
	}
	return h.sendTracks(client, limit)
}

// handleFilterUpdate stores the client's filters and replies with the filtered tracks
func (h *WebSocketHandler) handleFilterUpdate(client *websocket.Client, data map[string]any) error {
	filters := &websocket.ClientFilters{ICAO: make(map[string]bool)}

	if list, ok := data["icao"].([]any); ok {
		for _, v := range list {
			if icao, ok := v.(string); ok && icao != "" {
				filters.ICAO[strings.ToUpper(icao)] = true
			}
		}
	}
	if val, ok := data["min_altitude"].(float64); ok && val > 0 {
		filters.MinAltitude = int(val)
	}

	client.UpdateFilters(filters)

	h.logger.Debug("Updated client filters",
		logger.Int("icao_count", len(filters.ICAO)),
		logger.Int("min_altitude", filters.MinAltitude))

	return h.sendTracks(client, 0)
}

func (h *WebSocketHandler) sendTracks(client *websocket.Client, limit int) error {
	tracks := h.service.Store().Recent(0)

	views := make([]TrackView, 0, len(tracks))
	for _, t := range tracks {
		if !client.MatchesFilters(t.ICAO, t.Altitude) {
			continue
		}
		views = append(views, NewTrackView(t, h.service.Station()))
		if limit > 0 && len(views) == limit {
			break
		}
	}

	message := &websocket.Message{
		Type: websocket.MessageTypeTracksBulkResponse,
		Data: map[string]any{
			"tracks": views,
			"count":  len(views),
		},
	}

	if !client.SendMessage(message) {
		h.logger.Warn("Client send channel full, dropping message")
	}
	return nil
}
