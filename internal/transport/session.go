package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait = 10 * time.Second
	// PingPeriod and PongWait implement spec.md §5's 30s ping / 90s
	// deadline heartbeat.
	PingPeriod     = 30 * time.Second
	PongWait       = 90 * time.Second
	maxMessageSize = 512 * 1024
)

// envelope pairs an outbound frame with whether it may be dropped under
// backpressure (spec.md §4.H: "drop the oldest non-critical frame").
type envelope struct {
	frame    *OutboundFrame
	critical bool
}

// Session is one bidirectional transport connection, adapted from the
// teacher's Client/readPump/writePump in websocket_handler.go. Unlike
// the teacher's unbounded-until-full channel (which disconnects on any
// overflow), Session's outbound queue is a slice so a full queue can
// evict its oldest non-critical entry instead of dropping the newest.
type Session struct {
	Handle string
	UserID string

	conn *websocket.Conn
	log  *logrus.Entry

	mu       sync.Mutex
	queue    []envelope
	notify   chan struct{}
	maxQueue int

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSession wraps an upgraded websocket connection.
func NewSession(handle, userID string, conn *websocket.Conn, maxQueue int, log *logrus.Entry) *Session {
	return &Session{
		Handle:   handle,
		UserID:   userID,
		conn:     conn,
		log:      log,
		notify:   make(chan struct{}, 1),
		maxQueue: maxQueue,
		closed:   make(chan struct{}),
	}
}

// Enqueue hands an outbound frame to this session's write pump. If the
// queue is full, the oldest non-critical frame is evicted to make room;
// if no non-critical frame exists to evict, the session is marked for
// disconnect and the caller is told via the returned bool.
func (s *Session) Enqueue(frame *OutboundFrame, critical bool) (markedForDisconnect bool) {
	s.mu.Lock()
	if len(s.queue) >= s.maxQueue {
		evicted := false
		for i, e := range s.queue {
			if !e.critical {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			s.mu.Unlock()
			s.Close()
			return true
		}
	}
	s.queue = append(s.queue, envelope{frame: frame, critical: critical})
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return false
}

// Close idempotently tears down the session's connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// Done reports the session's close signal.
func (s *Session) Done() <-chan struct{} { return s.closed }

// WritePump drains the outbound queue and sends heartbeats; it returns
// when the session closes.
func (s *Session) WritePump() {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()
	defer s.Close()

	for {
		select {
		case <-s.closed:
			return
		case <-s.notify:
			for {
				s.mu.Lock()
				if len(s.queue) == 0 {
					s.mu.Unlock()
					break
				}
				env := s.queue[0]
				s.queue = s.queue[1:]
				s.mu.Unlock()

				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := s.conn.WriteJSON(env.frame); err != nil {
					if s.log != nil {
						s.log.WithError(err).Warn("write failed, closing session")
					}
					return
				}
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump reads inbound frames until the connection errors or closes,
// resetting the pong deadline on every pong, and invokes dispatch for
// each decoded frame.
func (s *Session) ReadPump(dispatch func(frame *InboundFrame)) {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		var f InboundFrame
		if err := s.conn.ReadJSON(&f); err != nil {
			return
		}
		dispatch(&f)
	}
}
