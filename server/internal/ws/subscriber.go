package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second

	// pongWait bounds the silence tolerated from a peer; pings go out at
	// 90% of it.
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	queueDepth   = 16
	maxReadBytes = 512
)

// subscriber is one connected browser. queue is closed by the hub when the
// subscriber is removed.
type subscriber struct {
	conn  *websocket.Conn
	pile  string
	queue chan []byte
}

func newSubscriber(conn *websocket.Conn, pile string) *subscriber {
	return &subscriber{conn: conn, pile: pile, queue: make(chan []byte, queueDepth)}
}

// offer queues frame without blocking and reports whether it fit.
func (s *subscriber) offer(frame []byte) bool {
	select {
	case s.queue <- frame:
		return true
	default:
		return false
	}
}

// writeLoop drains the queue and keeps the connection alive with pings.
func (s *subscriber) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer s.conn.Close()

	for {
		var err error
		select {
		case frame, open := <-s.queue:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !open {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			err = s.conn.WriteMessage(websocket.TextMessage, frame)
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err = s.conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

// readLoop discards inbound frames so pongs and close frames get processed.
// It returns once the peer is gone.
func (s *subscriber) readLoop() {
	defer s.conn.Close()
	s.conn.SetReadLimit(maxReadBytes)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}
