package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
)

var errSendBufferFull = errors.New("send buffer full")

// Session is one signaling connection. Outbound frames go through a
// buffered channel drained by a single writer goroutine, so two
// concurrently produced messages never interleave on the wire.
type Session struct {
	id   string
	conn *websocket.Conn
	log  *zap.SugaredLogger

	send chan []byte
	done chan struct{}

	// roomName is only touched from the read loop goroutine.
	roomName string
}

func newSession(conn *websocket.Conn, log *zap.SugaredLogger) *Session {
	id := uuid.NewString()
	return &Session{
		id:   id,
		conn: conn,
		log:  log.With("session", id),
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

func (s *Session) ID() string          { return s.id }
func (s *Session) Room() string        { return s.roomName }
func (s *Session) SetRoom(name string) { s.roomName = name }

// Send queues one message for delivery. It never blocks: a client that
// cannot drain its buffer loses the frame and the caller logs it.
func (s *Session) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return errors.New("session closed")
	case s.send <- data:
		return nil
	default:
		return errSendBufferFull
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
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debugw("write failed", "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) readPump(ctx context.Context, router *Router) {
	defer func() {
		close(s.done)
		s.conn.Close()
		router.Disconnected(ctx, s)
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Debugw("connection error", "error", err)
			}
			return
		}
		router.Dispatch(ctx, s, data)
	}
}
