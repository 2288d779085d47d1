// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package medium

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a frame to a peer
	writeWait = 10 * time.Second

	// Frames larger than this are not Lumen traffic
	maxMessageSize = 1024

	peerQueueSize = 64
)

// Hub relays every binary message from one WebSocket peer to all others,
// turning a set of networked stations into one broadcast medium.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[string]*peer
}

type peer struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (p *peer) close() {
	p.once.Do(func() { close(p.send) })
}

// NewHub creates an empty hub
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:   log,
		peers: make(map[string]*peer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxMessageSize,
			WriteBufferSize: maxMessageSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Peers returns the number of connected stations
func (h *Hub) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// ServeHTTP upgrades the request and serves the peer until it disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	p := &peer{id: uuid.New().String(), conn: conn, send: make(chan []byte, peerQueueSize)}
	h.mu.Lock()
	h.peers[p.id] = p
	count := len(h.peers)
	h.mu.Unlock()

	log := h.log.With(zap.String("peer", p.id), zap.String("remote_addr", r.RemoteAddr))
	log.Info("peer joined", zap.Int("peers", count))

	go h.writePump(p, log)
	h.readPump(p, log)

	h.mu.Lock()
	delete(h.peers, p.id)
	count = len(h.peers)
	h.mu.Unlock()
	p.close()
	log.Info("peer left", zap.Int("peers", count))
}

func (h *Hub) readPump(p *peer, log *zap.Logger) {
	defer p.conn.Close()
	for {
		messageType, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("read failed", zap.Error(err))
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		h.relay(p.id, data)
	}
}

func (h *Hub) writePump(p *peer, log *zap.Logger) {
	for msg := range p.send {
		_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := p.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			log.Debug("write failed", zap.Error(err))
			p.conn.Close()
			// drain so relay never blocks on a dead peer
			for range p.send {
			}
			return
		}
	}
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *Hub) relay(from string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, p := range h.peers {
		if id == from {
			continue
		}
		select {
		case p.send <- data:
		default:
			h.log.Debug("peer queue full, dropping frame", zap.String("peer", id))
		}
	}
}

// Serve accepts peers on ln until ctx is cancelled
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	h.log.Info("hub listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.closePeers()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// hijacked connections are not closed by Shutdown
func (h *Hub) closePeers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.peers {
		p.conn.Close()
	}
}
