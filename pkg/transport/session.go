// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Session is the gateway end of a link whose client may come and go.
//
// Reads block until a client is attached and continue with the next client
// when the current one drops. Writes made while no client is attached are
// discarded. Attaching a new client replaces the current one.
type Session struct {
	mu      sync.Mutex
	cur     Link
	changed chan struct{}
	closed  bool
}

// NewSession creates a session with no client attached
func NewSession() *Session {
	return &Session{changed: make(chan struct{})}
}

// Attach makes l the current client
func (s *Session) Attach(l Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		l.Close()
		return
	}
	if s.cur != nil {
		s.cur.Close()
	}
	s.cur = l
	s.notify()
}

// Connected reports whether a client is attached
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

func (s *Session) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) current() (Link, <-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur, s.changed, s.closed
}

func (s *Session) detach(l Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == l {
		s.cur.Close()
		s.cur = nil
		s.notify()
	}
}

func (s *Session) Read(p []byte) (int, error) {
	for {
		l, changed, closed := s.current()
		if closed {
			return 0, io.EOF
		}
		if l == nil {
			<-changed
			continue
		}
		n, err := l.Read(p)
		if err != nil {
			s.detach(l)
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, nil
	}
}

func (s *Session) Write(p []byte) (int, error) {
	l, _, closed := s.current()
	if closed {
		return 0, io.ErrClosedPipe
	}
	if l == nil {
		return len(p), nil
	}
	n, err := l.Write(p)
	if err != nil {
		s.detach(l)
	}
	return n, err
}

// Close drops the current client and ends pending reads
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cur != nil {
		s.cur.Close()
		s.cur = nil
	}
	s.notify()
	return nil
}

// Server accepts client links over WebSocket and attaches them to a Session
type Server struct {
	session  *Session
	username string
	password string
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a server feeding session. An empty username disables
// basic auth.
func NewServer(session *Session, username, password string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		session:  session,
		username: username,
		password: password,
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) == 1
	return userOK && passOK
}

// ServeHTTP upgrades an authorised request into the session's client
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="lumen"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		s.log.Warn("rejected client", zap.String("remote_addr", r.RemoteAddr))
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	if s.session.Connected() {
		s.log.Info("replacing connected client", zap.String("remote_addr", r.RemoteAddr))
	}
	s.session.Attach(NewWebSocketLink(conn))
	s.log.Info("client attached", zap.String("remote_addr", r.RemoteAddr))
}

// Serve accepts clients on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("link listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
