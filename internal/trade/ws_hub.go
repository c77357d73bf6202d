// Package trade: WebSocket hub for real-time trade and settlement events.
package trade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/attnx/tournament-engine/internal/metrics"
)

// Event types sent to WebSocket clients.
const (
	EventTradeApplied        = "trade_applied"
	EventTournamentSettled   = "tournament_settled"
	EventTournamentActivated = "tournament_activated"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type         string `json:"type"`
	TournamentID string `json:"tournament_id"`
	UserID       string `json:"user_id,omitempty"`
	TargetID     string `json:"target_id,omitempty"`
	TradeType    string `json:"trade_type,omitempty"`
	PositionType string `json:"position_type,omitempty"`
	Amount       string `json:"amount,omitempty"`
	Score        string `json:"score,omitempty"`
	PnL          string `json:"pnl,omitempty"`
	Balance      string `json:"balance,omitempty"`
}

// subscriber is one connection. An empty tournamentID receives every event.
type subscriber struct {
	conn         *websocket.Conn
	tournamentID string
}

func (s *subscriber) wants(tournamentID string) bool {
	return s.tournamentID == "" || s.tournamentID == tournamentID
}

type outbound struct {
	tournamentID string
	data         []byte
}

// WSHub fans out events to connected clients. Only the Run goroutine touches
// the subscriber set.
type WSHub struct {
	broadcast  chan outbound
	register   chan *subscriber
	unregister chan *subscriber
	done       chan struct{}
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		broadcast:  make(chan outbound, 256),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop until ctx is cancelled. Must be called in
// a goroutine.
func (h *WSHub) Run(ctx context.Context) {
	subs := make(map[*subscriber]struct{})
	drop := func(s *subscriber) {
		if _, ok := subs[s]; ok {
			delete(subs, s)
			s.conn.Close()
		}
	}
	defer func() {
		close(h.done)
		for s := range subs {
			drop(s)
		}
		metrics.WebSocketClients.Set(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case s := <-h.register:
			subs[s] = struct{}{}
			slog.Info("ws client connected", "total", len(subs), "tournament_id", s.tournamentID)

		case s := <-h.unregister:
			drop(s)

		case msg := <-h.broadcast:
			for s := range subs {
				if !s.wants(msg.tournamentID) {
					continue
				}
				s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := s.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					drop(s)
				}
			}
		}
		metrics.WebSocketClients.Set(float64(len(subs)))
	}
}

// Broadcast queues msg for every client subscribed to its tournament. It
// never blocks; events are dropped when the buffer is full.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- outbound{tournamentID: msg.TournamentID, data: data}:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Origin checks are done by the gateway.
	},
}

// HandleWS upgrades GET /api/v1/ws. The optional tournament_id query
// parameter limits the stream to one tournament.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	s := &subscriber{conn: conn, tournamentID: r.URL.Query().Get("tournament_id")}

	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return
	}

	closed := make(chan struct{})

	// Read pump: detects disconnects and keeps the read deadline fresh.
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		select {
		case h.unregister <- s:
		case <-h.done:
		}
	}()

	// Pings keep the connection alive through proxies.
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-closed:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()
}
