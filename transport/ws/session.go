package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"spinfm/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20 // tracks ride in as base64 payloads
)

// Frame is the single wire shape in both directions. A frame with a
// Name is a request or push; a frame without a Name is the reply to the
// request that carried the same ID. ID zero means no reply is expected.
type Frame struct {
	ID     uint64          `json:"id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Handler processes one incoming request and returns the reply payload.
type Handler func(name string, params json.RawMessage) interface{}

// Session is one peer's reliable ordered channel. A single write pump
// preserves per-session FIFO; incoming requests are handled one at a
// time on the read pump, so a session's handlers never run concurrently
// with each other.
type Session struct {
	conn    *websocket.Conn
	send    chan []byte
	handler Handler
	onClose func()

	nextID uint64

	mu      sync.Mutex
	pending map[uint64]chan json.RawMessage

	closed    chan struct{}
	closeOnce sync.Once
}

// NewSession wraps an upgraded websocket connection.
func NewSession(conn *websocket.Conn) *Session {
	return &Session{
		conn:    conn,
		send:    make(chan []byte, 256),
		pending: make(map[uint64]chan json.RawMessage),
		closed:  make(chan struct{}),
	}
}

// Start begins the read and write pumps. handler receives every
// incoming request; onClose fires once when the session ends.
func (s *Session) Start(handler Handler, onClose func()) {
	s.handler = handler
	s.onClose = onClose
	go s.writePump()
	go s.readPump()
}

// Send pushes a server-initiated message without waiting for a reply.
func (s *Session) Send(name string, params interface{}) error {
	return s.enqueue(&Frame{Name: name, Params: marshalParams(params)})
}

// Call sends a server-initiated request and blocks until the client
// replies, the context is done, or the session closes. There is no
// implicit timeout; callers that must not wait forever pass a context.
func (s *Session) Call(ctx context.Context, name string, params interface{}, result interface{}) error {
	id := atomic.AddUint64(&s.nextID, 1)
	ch := make(chan json.RawMessage, 1)

	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.enqueue(&Frame{ID: id, Name: name, Params: marshalParams(params)}); err != nil {
		return err
	}

	select {
	case raw := <-ch:
		if result == nil || len(raw) == 0 {
			return nil
		}
		return json.Unmarshal(raw, result)
	case <-s.closed:
		return fmt.Errorf("session closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
	return nil
}

func (s *Session) enqueue(frame *Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	select {
	case <-s.closed:
		return fmt.Errorf("session closed")
	default:
	}

	select {
	case s.send <- data:
		return nil
	default:
		logger.Warn("send buffer full, dropping frame", logger.String("name", frame.Name))
		return fmt.Errorf("send buffer full")
	}
}

func (s *Session) resolve(id uint64, result json.RawMessage) {
	s.mu.Lock()
	ch, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- result:
	default:
	}
}

func (s *Session) readPump() {
	defer func() {
		s.Close()
		if s.onClose != nil {
			s.onClose()
		}
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", logger.ErrorField(err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			logger.Warn("invalid frame", logger.ErrorField(err))
			continue
		}

		// A nameless frame is the reply to one of our calls.
		if frame.Name == "" {
			s.resolve(frame.ID, frame.Result)
			continue
		}

		if s.handler == nil {
			continue
		}
		reply := s.handler(frame.Name, frame.Params)
		if frame.ID != 0 {
			s.enqueue(&Frame{ID: frame.ID, Result: marshalParams(reply)})
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.closed:
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func marshalParams(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to marshal params", logger.ErrorField(err))
		return nil
	}
	return data
}
