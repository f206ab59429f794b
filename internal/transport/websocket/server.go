// Package websocket pushes the displayed chat list to browsers.
//
// Clients open a WebSocket connection to:
//
//	GET /ws
//
// On connect the hub sends one "full" frame with the current list. After that
// every engine event is forwarded as it happens. Frames are keyed by message
// id; a client that sees an append for an id it already holds replaces it.
//
// Server → client frames:
//
//	{"type":"full",   "messages":[...]}
//	{"type":"append", "messages":[...]}
//	{"type":"rekey",  "old_id":"3", "new_id":"msg-17", "message":{...}}
//	{"type":"status", "text":"...", "kind":"info|success|warning|error"}
//	{"type":"error",  "text":"...", "reason":"..."}   (reply to a rejected send)
//
// Client → server frame:
//
//	{"type":"send", "content":"hello", "username":"alice"}
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/snehjoshi/aochat/internal/engine"
	"github.com/snehjoshi/aochat/internal/session"
	"github.com/snehjoshi/aochat/internal/types"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	maxFrameSize = 16 << 10
	sendBuffer   = 64
)

// Frame types.
const (
	FrameFull   = "full"
	FrameAppend = "append"
	FrameRekey  = "rekey"
	FrameStatus = "status"
	FrameError  = "error"
	FrameSend   = "send"
)

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin upgrade requests. A request is
	// same-origin when its Origin host matches the Host header. Requests
	// without an Origin header (native clients, curl) are allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host, err := parseHost(origin)
		if err != nil {
			return false
		}
		return host == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// Frame is the JSON envelope exchanged in both directions.
type Frame struct {
	Type string `json:"type"`

	Messages []*types.Message `json:"messages,omitempty"`

	OldID   string         `json:"old_id,omitempty"`
	NewID   string         `json:"new_id,omitempty"`
	Message *types.Message `json:"message,omitempty"`

	Text   string `json:"text,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`

	Content  string `json:"content,omitempty"`
	Username string `json:"username,omitempty"`
}

// Engine is what the hub needs from the reconciliation engine.
type Engine interface {
	Send(ctx context.Context, content, username string) (*types.Message, error)
	Messages() []*types.Message
}

// Hub is an engine.Adapter that fans events out to every connected browser.
// Slow clients whose buffers fill up are disconnected rather than allowed to
// stall the engine.
type Hub struct {
	eng Engine
	log *slog.Logger

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
}

var _ engine.Adapter = (*Hub)(nil)

type conn struct {
	id   string
	ws   *gorillaws.Conn
	send chan []byte
	once sync.Once
}

func (c *conn) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub creates a hub serving the given engine. Subscribe it to the engine
// to start forwarding events.
func NewHub(eng Engine, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		eng:   eng,
		log:   log.With("component", "ws"),
		conns: make(map[string]*conn),
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.conns {
		c.close()
		delete(h.conns, id)
	}
}

// ─── engine.Adapter ───────────────────────────────────────────────────────────

func (h *Hub) RenderAppend(msgs []*types.Message) {
	h.broadcast(Frame{Type: FrameAppend, Messages: msgs})
}

func (h *Hub) Rekey(oldID, newID string, msg *types.Message) {
	h.broadcast(Frame{Type: FrameRekey, OldID: oldID, NewID: newID, Message: msg})
}

func (h *Hub) RenderFull(msgs []*types.Message) {
	h.broadcast(Frame{Type: FrameFull, Messages: msgs})
}

func (h *Hub) ReportStatus(text string, kind engine.StatusKind) {
	h.broadcast(Frame{Type: FrameStatus, Text: text, Kind: string(kind)})
}

func (h *Hub) broadcast(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.log.Error("encode frame", "type", f.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		select {
		case c.send <- data:
		default:
			h.log.Warn("client too slow, disconnecting", "conn", id)
			c.close()
			delete(h.conns, id)
		}
	}
}

// ─── connection handling ──────────────────────────────────────────────────────

// ServeHTTP upgrades the connection, sends the current list and then relays
// events until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &conn{id: session.MustNewID(), ws: ws, send: make(chan []byte, sendBuffer)}

	// The snapshot is queued under the hub lock so no broadcast can slip in
	// ahead of it.
	snapshot, _ := json.Marshal(Frame{Type: FrameFull, Messages: h.eng.Messages()})
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.send <- snapshot
	h.conns[c.id] = c
	n := len(h.conns)
	h.mu.Unlock()
	h.log.Info("client connected", "conn", c.id, "clients", n)

	go h.writePump(c)
	h.readPump(r.Context(), c)
}

// writePump owns all writes to the socket.
func (h *Hub) writePump(c *conn) {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(gorillaws.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(gorillaws.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(gorillaws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client frames until the connection drops.
func (h *Hub) readPump(ctx context.Context, c *conn) {
	defer func() {
		h.mu.Lock()
		if h.conns[c.id] == c {
			delete(h.conns, c.id)
			c.close()
		}
		h.mu.Unlock()
		h.log.Info("client disconnected", "conn", c.id)
	}()

	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			h.reply(c, Frame{Type: FrameError, Text: "invalid frame"})
			continue
		}
		if f.Type != FrameSend {
			h.reply(c, Frame{Type: FrameError, Text: fmt.Sprintf("unknown frame type %q", f.Type)})
			continue
		}
		// The push outlives the socket; a closed tab must not cancel it.
		_, err = h.eng.Send(context.WithoutCancel(ctx), f.Content, f.Username)
		var ve *engine.ValidationError
		if errors.As(err, &ve) {
			h.reply(c, Frame{Type: FrameError, Text: ve.Error(), Reason: ve.Reason.Error()})
		}
	}
}

// reply queues a frame for a single client.
func (h *Hub) reply(c *conn, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.id] != c {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
