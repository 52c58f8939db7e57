package transport

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

// DefaultDialTimeout bounds the total WebSocket dial retry budget.
const DefaultDialTimeout = 10 * time.Second

// WebSocketOpener opens wallet surfaces over a WebSocket messaging
// channel. The wallet URL's http/https scheme is mapped to ws/wss; the
// surface origin stays the original URL's origin so inbound messages
// pass the communicator's origin check.
type WebSocketOpener struct {
	// Dialer is the WebSocket dialer (default: websocket.DefaultDialer).
	Dialer *websocket.Dialer

	// DialTimeout bounds the total dial retry budget
	// (default: DefaultDialTimeout). A surface that cannot be dialed
	// within the budget is a terminal setup failure.
	DialTimeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Open dials the wallet surface, retrying with exponential backoff
// within the dial budget, and starts the inbound read loop.
func (o *WebSocketOpener) Open(rawURL string, mode DisplayMode, handler MessageHandler) (Surface, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	origin := u.Scheme + "://" + u.Host

	dialURL := *u
	switch u.Scheme {
	case "http":
		dialURL.Scheme = "ws"
	case "https":
		dialURL.Scheme = "wss"
	}

	dialer := o.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	timeout := o.DialTimeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}

	var log logging.LeveledLogger
	if o.LoggerFactory != nil {
		log = o.LoggerFactory.NewLogger("ws-surface")
	}

	var conn *websocket.Conn
	dial := func() error {
		c, _, err := dialer.Dial(dialURL.String(), nil)
		if err != nil {
			if log != nil {
				log.Debugf("dial %s: %v", dialURL.String(), err)
			}
			return err
		}
		conn = c
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = timeout
	if err := backoff.Retry(dial, policy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPopupBlocked, err)
	}

	s := &wsSurface{
		conn:   conn,
		origin: origin,
		log:    log,
	}
	go s.readLoop(handler)
	return s, nil
}

// Verify WebSocketOpener implements Opener.
var _ Opener = (*WebSocketOpener)(nil)

// wsSurface is a Surface backed by a WebSocket connection.
type wsSurface struct {
	conn   *websocket.Conn
	origin string
	log    logging.LeveledLogger

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// Send posts one text message to the surface.
func (s *wsSurface) Send(data []byte) error {
	if s.Closed() {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: websocket write: %w", err)
	}
	return nil
}

// Origin returns the wallet origin the surface was opened against.
func (s *wsSurface) Origin() string {
	return s.origin
}

// Closed reports whether the connection has been torn down, locally or
// by the remote side.
func (s *wsSurface) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Focus is a no-op: a WebSocket channel has no foreground concept.
func (s *wsSurface) Focus() error {
	return nil
}

// Close tears down the connection. Idempotent.
func (s *wsSurface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.conn.Close()
}

// readLoop delivers inbound messages until the connection dies, then
// marks the surface closed.
func (s *wsSurface) readLoop(handler MessageHandler) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			if s.log != nil {
				s.log.Debugf("read loop ended: %v", err)
			}
			return
		}
		handler(InboundMessage{Origin: s.origin, Data: data})
	}
}

// Verify wsSurface implements Surface.
var _ Surface = (*wsSurface)(nil)
