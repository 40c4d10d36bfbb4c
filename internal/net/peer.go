package net

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
)

// Peer is one connected browser. The read pump feeds the Hub; the write
// pump drains the outbound queue and keeps the socket alive with pings.
type Peer struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	log  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewPeer wraps an upgraded connection with a fresh id and an outbound
// queue of the given length.
func NewPeer(conn *websocket.Conn, queue int, logger *slog.Logger) *Peer {
	id := uuid.NewString()
	return &Peer{
		id:   id,
		conn: conn,
		send: make(chan []byte, queue),
		log:  logger.With("conn", id),
	}
}

func (p *Peer) ID() string { return p.id }

// Send queues frame without blocking. It returns false when the queue is
// full or the peer has been closed.
func (p *Peer) Send(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

// close stops the write pump once the queue drains.
func (p *Peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.send)
	}
}

// ReadPump decodes frames and hands them to the hub until the socket
// fails. It unregisters the peer on the way out.
func (p *Peer) ReadPump(h *Hub) {
	defer func() {
		h.Unregister(p.id)
		p.close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.log.Debug("conn.read", "err", err)
			}
			return
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			p.log.Debug("conn.bad_frame", "err", err, "bytes", len(data))
			continue
		}
		if !h.Enqueue(p, env) {
			return
		}
	}
}

// WritePump sends queued frames and periodic pings. It closes the socket
// when the queue is closed or a write fails.
func (p *Peer) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				p.log.Debug("conn.write", "err", err)
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
