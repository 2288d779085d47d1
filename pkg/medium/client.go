// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package medium

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a station attached to a Hub over WebSocket
type Conn struct {
	conn *websocket.Conn
	rx   chan []byte
	done chan struct{}

	writeMu sync.Mutex
	once    sync.Once

	mu  sync.Mutex
	err error
}

// Dial connects to the hub at hubURL (ws:// or wss://)
func Dial(ctx context.Context, hubURL string) (*Conn, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("invalid hub URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported hub URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, hubURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("hub connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("hub connection failed: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)

	c := &Conn{conn: ws, rx: make(chan []byte, DefaultQueueSize), done: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case c.rx <- data:
		case <-c.done:
			return
		default:
			// receiver is behind, the frame is lost
		}
	}
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

// Broadcast sends frame to every other station on the hub
func (c *Conn) Broadcast(frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Receive blocks until a frame arrives, ctx ends or the connection drops
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.rx:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrClosed, c.err)
	}
}

// Close disconnects from the hub
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.fail(ErrClosed)
	return c.conn.Close()
}
