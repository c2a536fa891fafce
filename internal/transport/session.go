// Package transport owns the live websocket connection to the chat server.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/babelbye/bbchat/internal/status"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
	readLimit  = 1 << 20
)

var (
	// ErrClosed means the session has no live connection.
	ErrClosed = errors.New("session closed")
	// ErrAlreadyOpen means Open was called while a connection is live.
	ErrAlreadyOpen = errors.New("session already open")
	// ErrNoCredentials means neither a token nor a user id was configured.
	ErrNoCredentials = errors.New("no token or user id configured")
	// ErrSendBufferFull means the outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Credentials authenticate the websocket. Token wins when both are set.
type Credentials struct {
	Token  string
	UserID string
}

// Handler receives inbound events in arrival order. It runs on the read
// goroutine, so a slow handler delays subsequent frames.
type Handler func(Event)

// Session owns at most one live connection. It never reconnects by itself.
type Session struct {
	serverURL string
	machine   *status.Machine
	logger    *zap.Logger
	dialer    *websocket.Dialer

	openMu sync.Mutex // serializes Open

	mu         sync.Mutex
	conn       *conn
	cancelDial context.CancelFunc
}

type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	closed sync.Once
}

// NewSession creates a Session for serverURL. machine may be nil.
func NewSession(serverURL string, machine *status.Machine, logger *zap.Logger) *Session {
	if machine == nil {
		machine = status.NewMachine(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		serverURL: serverURL,
		machine:   machine,
		logger:    logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
	}
}

// State returns the current lifecycle state.
func (s *Session) State() status.State {
	return s.machine.Current()
}

// Open dials the server and starts dispatching inbound events to h.
func (s *Session) Open(ctx context.Context, creds Credentials, h Handler) error {
	if h == nil {
		return errors.New("nil handler")
	}
	endpoint, err := DialURL(s.serverURL, creds)
	if err != nil {
		return err
	}

	s.openMu.Lock()
	defer s.openMu.Unlock()

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.cancelDial = cancel
	s.mu.Unlock()

	if err := s.machine.Transition(status.Connecting); err != nil {
		s.logger.Warn("unexpected transport state", zap.Error(err))
	}
	s.logger.Info("dialing server", zap.String("url", s.serverURL))

	ws, resp, err := s.dialer.DialContext(dialCtx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		s.mu.Lock()
		s.cancelDial = nil
		s.mu.Unlock()
		if dialCtx.Err() != nil && ctx.Err() == nil {
			// Cancelled by Close.
			_ = s.machine.Transition(status.Closed)
			return ErrClosed
		}
		_ = s.machine.Transition(status.Error)
		return fmt.Errorf("dial %s: %w", s.serverURL, err)
	}

	c := &conn{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.mu.Lock()
	s.cancelDial = nil
	if dialCtx.Err() != nil {
		s.mu.Unlock()
		_ = ws.Close()
		_ = s.machine.Transition(status.Closed)
		return ErrClosed
	}
	s.conn = c
	if err := s.machine.Transition(status.Online); err != nil {
		s.logger.Warn("unexpected transport state", zap.Error(err))
	}
	s.mu.Unlock()
	s.logger.Info("session online")

	go s.writeLoop(c)
	go s.readLoop(c, h)
	return nil
}

// Send enqueues an outbound intent. It fails with ErrClosed when no
// connection is live and never blocks.
func (s *Session) Send(in Intent) error {
	data, err := Encode(in)
	if err != nil {
		return err
	}

	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return ErrClosed
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSendBufferFull
	}
}

// Close shuts the live connection, or aborts a dial in progress. It is safe
// to call at any time and more than once.
func (s *Session) Close() {
	s.mu.Lock()
	c := s.conn
	if s.cancelDial != nil {
		s.cancelDial()
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
	s.release(c)
}

// release detaches c from the session and records the transition to Closed.
func (s *Session) release(c *conn) {
	c.closed.Do(func() {
		s.mu.Lock()
		if s.conn == c {
			s.conn = nil
		}
		if err := s.machine.Transition(status.Closed); err != nil {
			s.logger.Warn("unexpected transport state", zap.Error(err))
		}
		s.mu.Unlock()
		s.logger.Info("session closed")
	})
}

func (s *Session) readLoop(c *conn, h Handler) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			remote := false
			c.once.Do(func() {
				remote = true
				close(c.done)
				_ = c.ws.Close()
			})
			s.release(c)
			if remote {
				s.logger.Warn("connection lost", zap.Error(err))
				h(ClosedEvent{Err: err})
			}
			return
		}

		select {
		case <-c.done:
			return
		default:
		}

		evt, err := Decode(data)
		if err != nil {
			s.logger.Debug("invalid frame", zap.Error(err))
			h(InvalidEvent{Raw: data, Err: err})
			continue
		}
		h(evt)
	}
}

func (s *Session) writeLoop(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := write(c.ws, websocket.TextMessage, msg); err != nil {
				s.logger.Warn("write failed", zap.Error(err))
				// The read loop observes the broken socket and reports it.
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			if err := write(c.ws, websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}

func write(ws *websocket.Conn, messageType int, payload []byte) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteMessage(messageType, payload)
}
