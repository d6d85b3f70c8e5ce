package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/squitter/pkg/logger"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen []string
}

func (h *recordingHandler) HandleMessage(client *Client, messageType string, data map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, messageType)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func startServer(t *testing.T) (*Server, *websocket.Conn) {
	t.Helper()

	s := NewServer(logger.NewNop())
	go s.Run()
	t.Cleanup(s.Close)

	ts := httptest.NewServer(http.HandlerFunc(s.HandleConnection))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	waitFor(t, func() bool { return s.ClientCount() == 1 })
	return s, conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	s, conn := startServer(t)

	s.Broadcast(&Message{
		Type: MessageTypeTrackUpdate,
		Data: map[string]any{"icao": "40621D", "altitude": 38000},
	})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != MessageTypeTrackUpdate || got.Data["icao"] != "40621D" {
		t.Errorf("got %+v", got)
	}
}

func TestIncomingMessagesReachHandler(t *testing.T) {
	h := &recordingHandler{}
	s := NewServer(logger.NewNop())
	s.SetMessageHandler(h)
	go s.Run()
	defer s.Close()

	ts := httptest.NewServer(http.HandlerFunc(s.HandleConnection))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteJSON(Message{Type: MessageTypeTracksBulkRequest}); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, func() bool { return h.count() == 1 })
}

func TestClientDisconnectUnregisters(t *testing.T) {
	s, conn := startServer(t)
	conn.Close()
	waitFor(t, func() bool { return s.ClientCount() == 0 })
}

func TestCloseDisconnectsClients(t *testing.T) {
	s, conn := startServer(t)
	s.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to close")
	}
	waitFor(t, func() bool { return s.ClientCount() == 0 })

	// Broadcasting after Close is a no-op
	s.Broadcast(&Message{Type: MessageTypeTrackRemoved})
}

func TestMatchesFilters(t *testing.T) {
	low, high := 5000, 38000

	tests := []struct {
		name     string
		filters  *ClientFilters
		icao     string
		altitude *int
		want     bool
	}{
		{"no filters", nil, "40621D", nil, true},
		{"icao match", &ClientFilters{ICAO: map[string]bool{"40621D": true}}, "40621d", &low, true},
		{"icao miss", &ClientFilters{ICAO: map[string]bool{"40621D": true}}, "4840D6", &high, false},
		{"above minimum", &ClientFilters{MinAltitude: 10000}, "40621D", &high, true},
		{"below minimum", &ClientFilters{MinAltitude: 10000}, "40621D", &low, false},
		{"unknown altitude", &ClientFilters{MinAltitude: 10000}, "40621D", nil, false},
		{"minimum disabled", &ClientFilters{MinAltitude: 0}, "40621D", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{}
			c.UpdateFilters(tt.filters)
			if got := c.MatchesFilters(tt.icao, tt.altitude); got != tt.want {
				t.Errorf("MatchesFilters = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldSendToClient(t *testing.T) {
	s := NewServer(logger.NewNop())
	c := &Client{}
	c.UpdateFilters(&ClientFilters{MinAltitude: 10000})

	update := &Message{Type: MessageTypeTrackUpdate, Data: map[string]any{"icao": "40621D", "altitude": 5000}}
	if s.shouldSendToClient(c, update) {
		t.Error("low track update passed the altitude filter")
	}

	removed := &Message{Type: MessageTypeTrackRemoved, Data: map[string]any{"icao": "40621D"}}
	if !s.shouldSendToClient(c, removed) {
		t.Error("removals must bypass filters")
	}
}

func TestGetFiltersReturnsCopy(t *testing.T) {
	c := &Client{}
	c.UpdateFilters(&ClientFilters{ICAO: map[string]bool{"40621D": true}})

	f := c.GetFilters()
	f.ICAO["4840D6"] = true
	if len(c.GetFilters().ICAO) != 1 {
		t.Error("mutating the copy changed the client filters")
	}
}
