// Package feed streams round events to read-only websocket spectators, for
// example a projector showing the image and the vote countdown.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/kiliankoe/promptdash/internal/round"
)

const (
	pingInterval = 15 * time.Second
	writeTimeout = 5 * time.Second
	sendBuffer   = 64
)

// Msg is the envelope written to spectators.
type Msg struct {
	T string      `json:"t"`           // event name
	M round.Event `json:"m,omitempty"` // payload
}

type client struct {
	send chan []byte
}

type Hub struct {
	allowOrigins map[string]bool

	mu   sync.RWMutex
	subs map[string]map[*client]struct{} // roundID -> clients
	log  zerolog.Logger
}

// NewHub accepts connections from the listed origins; with none listed any
// origin is accepted.
func NewHub(allow []string) *Hub {
	m := map[string]bool{}
	for _, a := range allow {
		if a != "" {
			m[a] = true
		}
	}
	return &Hub{
		allowOrigins: m,
		subs:         map[string]map[*client]struct{}{},
		log:          log.Logger.With().Str("component", "feed").Logger(),
	}
}

// Publish queues ev for every spectator of the round. Slow spectators drop
// messages instead of blocking the engine.
func (h *Hub) Publish(_ context.Context, channel string, ev round.Event) error {
	roundID, ok := round.RoundIDFromChannel(channel)
	if !ok {
		return fmt.Errorf("unexpected channel %q", channel)
	}
	b, err := json.Marshal(Msg{T: ev.EventName(), M: ev})
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subs[roundID] {
		select {
		case c.send <- b:
		default:
			h.log.Warn().Str("roundId", roundID).Msg("spectator buffer full, dropping event")
		}
	}
	return nil
}

// Subscribers counts the open spectator connections of a round.
func (h *Hub) Subscribers(roundID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[roundID])
}

// Handler serves GET /feed/:roundId.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.ServeWS(c.Writer, c.Request, c.Param("roundId"))
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, roundID string) {
	origin := r.Header.Get("Origin")
	if origin != "" && len(h.allowOrigins) > 0 && !h.allowOrigins[origin] {
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return
	}
	if roundID == "" {
		http.Error(w, "round id required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	cl := &client{send: make(chan []byte, sendBuffer)}
	h.add(roundID, cl)
	defer h.remove(roundID, cl)
	h.log.Info().Str("roundId", roundID).Msg("spectator connected")

	// Spectators never send; CloseRead handles control frames and cancels
	// ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()
	for {
		select {
		case <-ctx.Done():
			h.log.Info().Str("roundId", roundID).Msg("spectator disconnected")
			return
		case msg := <-cl.send:
			if err := write(ctx, conn, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}

func (h *Hub) add(roundID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[roundID] == nil {
		h.subs[roundID] = map[*client]struct{}{}
	}
	h.subs[roundID][c] = struct{}{}
}

func (h *Hub) remove(roundID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[roundID], c)
	if len(h.subs[roundID]) == 0 {
		delete(h.subs, roundID)
	}
}
