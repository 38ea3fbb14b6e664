// Package feed streams decoded snapshots of a live target to websocket
// clients as JSON frames.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/willibrandon/haloscope/pkg/engine"
	"github.com/willibrandon/haloscope/pkg/logger"
	"github.com/willibrandon/haloscope/pkg/memory"
	"github.com/willibrandon/haloscope/pkg/version"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	// frames buffered per client before new ones are dropped
	clientBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ObjectFrame is one occupied object slot
type ObjectFrame struct {
	Index    uint16          `json:"index"`
	Handle   uint32          `json:"handle"`
	Tag      string          `json:"tag,omitempty"`
	Position *engine.Vector3 `json:"position,omitempty"` // nil when not finite
	Owner    *uint16         `json:"owner,omitempty"`
}

// PlayerFrame is one live player
type PlayerFrame struct {
	Slot        int    `json:"slot"`
	ID          uint16 `json:"id"`
	Name        string `json:"name"`
	LocalPlayer uint16 `json:"local_player"`
	Unit        uint32 `json:"unit"`
}

// GlobalsFrame summarizes the player globals
type GlobalsFrame struct {
	LocalPlayerCount uint16   `json:"local_player_count"`
	LocalPlayers     []uint32 `json:"local_players"`
	LocalDeadUnits   []uint32 `json:"local_dead_units"`
	AreAllDead       bool     `json:"are_all_dead"`
	RespawnFailure   uint16   `json:"respawn_failure"`
	BSPIndex         uint16   `json:"bsp_index"`
}

// Frame is what clients receive on every poll
type Frame struct {
	Seq       uint64        `json:"seq"`
	Timestamp time.Time     `json:"timestamp"`
	Available bool          `json:"available"`
	Error     string        `json:"error,omitempty"`
	Objects   []ObjectFrame `json:"objects,omitempty"`
	Players   []PlayerFrame `json:"players,omitempty"`
	Globals   *GlobalsFrame `json:"globals,omitempty"`
}

// NewFrame converts a snapshot, or the error that prevented one, into a frame
func NewFrame(seq uint64, snap *engine.EngineSnapshot, err error) Frame {
	f := Frame{Seq: seq, Timestamp: time.Now()}
	if err != nil || snap == nil {
		if err == nil {
			err = engine.ErrSnapshotUnavailable
		}
		f.Error = err.Error()
		return f
	}
	f.Available = true

	for _, slot := range snap.Objects {
		if slot == nil {
			continue
		}
		o := ObjectFrame{
			Index:  slot.Index,
			Handle: slot.Handle().Raw(),
		}
		if pos := slot.Object.Position; finite(pos) {
			o.Position = &pos
		}
		o.Tag, _ = snap.TagName(slot.Object.TagIndex)
		if local, ok := snap.OwningLocalPlayer(slot.Index); ok {
			owner := local
			o.Owner = &owner
		}
		f.Objects = append(f.Objects, o)
	}

	for _, p := range snap.LivePlayers() {
		f.Players = append(f.Players, PlayerFrame{
			Slot:        p.Slot,
			ID:          p.ID,
			Name:        p.Name,
			LocalPlayer: p.LocalPlayerIndex,
			Unit:        p.UnitHandle.Raw(),
		})
	}

	g := snap.Globals
	f.Globals = &GlobalsFrame{
		LocalPlayerCount: g.LocalPlayerCount,
		LocalPlayers:     rawHandles(g.LocalPlayers),
		LocalDeadUnits:   rawHandles(g.LocalDeadUnits),
		AreAllDead:       g.AreAllDead,
		RespawnFailure:   g.RespawnFailure,
		BSPIndex:         g.BSPIndex,
	}
	return f
}

// finite reports whether every component can be encoded as JSON. Torn
// reads can leave NaN or Inf in an otherwise valid body.
func finite(v engine.Vector3) bool {
	for _, c := range [3]float32{v.X, v.Y, v.Z} {
		f := float64(c)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func rawHandles(hs []engine.DatumHandle) []uint32 {
	out := make([]uint32, len(hs))
	for i, h := range hs {
		out[i] = h.Raw()
	}
	return out
}

// Hub polls a provider and fans frames out to every connected client.
// A client that falls behind loses frames rather than stalling the others.
type Hub struct {
	provider memory.Provider
	layout   engine.Layout
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
	last    *Frame
	seq     uint64
}

// NewHub creates a hub that reads provider every interval
func NewHub(provider memory.Provider, layout engine.Layout, interval time.Duration) *Hub {
	return &Hub{
		provider: provider,
		layout:   layout,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Last returns the most recent frame, if any
func (h *Hub) Last() (Frame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return Frame{}, false
	}
	return *h.last, true
}

// Run polls until ctx is done or the provider is closed
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer h.closeAll()

	for {
		if err := h.Poll(ctx); errors.Is(err, memory.ErrClosed) {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll reads one capture and broadcasts the resulting frame. Decode
// failures are sent to clients; only provider errors are returned.
func (h *Hub) Poll(ctx context.Context) error {
	buf, err := h.provider.Read(ctx)
	if err != nil {
		logger.Log.WithError(err).Warn("Failed to read target memory")
		return err
	}
	snap, err := engine.BuildSnapshot(buf, h.layout)
	if err != nil {
		logger.Log.WithError(err).Debug("Snapshot unavailable")
	}

	h.mu.Lock()
	h.seq++
	frame := NewFrame(h.seq, snap, err)
	h.last = &frame
	h.mu.Unlock()

	h.Broadcast(frame)
	return nil
}

// Broadcast sends frame to every client without blocking
func (h *Hub) Broadcast(frame Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			logger.Log.WithField("remote", c.remote).Debug("Client buffer full, dropping frame")
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- *h.last
	}
	h.mu.Unlock()

	logger.Log.WithFields(logrus.Fields{
		"remote":  c.remote,
		"clients": h.ClientCount(),
	}).Info("Feed client connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Handler returns the HTTP handler that upgrades feed connections
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.GetInfo())
	})
	return mux
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.WithError(err).Error("Upgrade error")
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan Frame, clientBuffer),
		remote: r.RemoteAddr,
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan Frame
	remote string
}

// readPump only watches for the connection closing
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		if err := c.conn.Close(); err != nil {
			logger.Log.WithError(err).Debug("Failed to close websocket connection")
		}
		logger.Log.WithField("remote", c.remote).Info("Feed client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Log.WithError(err).Warn("Failed to set read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.WithError(err).Warn("Unexpected websocket close")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				logger.Log.WithError(err).Debug("Failed to write frame")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
