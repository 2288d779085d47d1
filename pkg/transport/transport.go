// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport carries the Link byte stream between a client and the
// gateway over a serial port or a WebSocket.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// PasswordEnvVar supplies the WebSocket basic auth password without a prompt
const PasswordEnvVar = "LUMEN_PASSWORD"

// ErrConnectionClosed is returned when reading from a closed WebSocket link
var ErrConnectionClosed = errors.New("websocket connection closed")

// Link is a bidirectional Link byte stream
type Link interface {
	io.Reader
	io.Writer
	io.Closer
}

// Options selects and configures a client link. URL wins over Port.
type Options struct {
	Port        string
	Baud        int
	URL         string
	Username    string
	Password    string
	NoSSLVerify bool
}

// SerialLink wraps a serial port
type SerialLink struct {
	port serial.Port
}

func (s *SerialLink) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialLink) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialLink) Close() error {
	return s.port.Close()
}

// WebSocketLink exposes a WebSocket as a byte stream. Each binary message
// is one chunk of the stream; text messages are skipped.
type WebSocketLink struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    bool

	writeMu sync.Mutex
}

// NewWebSocketLink wraps an established connection
func NewWebSocketLink(conn *websocket.Conn) *WebSocketLink {
	return &WebSocketLink{conn: conn}
}

func (w *WebSocketLink) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}

	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		w.buf = data
		w.bufOffset = copy(p, w.buf)
		return w.bufOffset, nil
	}
}

func (w *WebSocketLink) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketLink) Close() error {
	return w.conn.Close()
}

// OpenSerial opens a serial port at 8N1
func OpenSerial(portName string, baudRate int) (*SerialLink, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return &SerialLink{port: port}, nil
}

// DialWebSocket connects to a gateway with optional HTTP basic auth
func DialWebSocket(ctx context.Context, wsURL, username, password string, skipSSLVerify bool) (*WebSocketLink, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipSSLVerify} //nolint:gosec // operator opt-in
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return NewWebSocketLink(conn), nil
}

// GetPassword reads the password from the environment or prompts for it
func GetPassword() (string, error) {
	if pw := os.Getenv(PasswordEnvVar); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}
	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// Open connects the client link described by opts and returns a
// human-readable description of it
func Open(ctx context.Context, opts Options) (Link, string, error) {
	if opts.URL != "" {
		password := opts.Password
		if opts.Username != "" && password == "" {
			var err error
			if password, err = GetPassword(); err != nil {
				return nil, "", err
			}
		}
		conn, err := DialWebSocket(ctx, opts.URL, opts.Username, password, opts.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", opts.URL), nil
	}

	if opts.Port != "" {
		conn, err := OpenSerial(opts.Port, opts.Baud)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", opts.Port, opts.Baud), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}
