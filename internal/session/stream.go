package session

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/troikatech/carecall/pkg/twilio"
)

const (
	streamReadTimeout  = 60 * time.Second
	streamPingInterval = 54 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// MediaStream is the telephony side of a call.
type MediaStream interface {
	// ReadFrame blocks for the next text frame. Any error is a transport failure.
	ReadFrame() ([]byte, error)
	WriteMessage(msg twilio.StreamMessage) error
	Close() error
}

// WebSocketStream is a MediaStream over an accepted websocket. It keeps the
// socket alive with pings and serialises writes.
type WebSocketStream struct {
	conn    *websocket.Conn
	log     *zap.Logger
	writeMu sync.Mutex

	stop      chan struct{}
	closeOnce sync.Once
}

func NewWebSocketStream(conn *websocket.Conn, log *zap.Logger) *WebSocketStream {
	if log == nil {
		log = zap.NewNop()
	}
	s := &WebSocketStream{conn: conn, log: log, stop: make(chan struct{})}

	_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	})

	go s.keepAlive()
	return s
}

func (s *WebSocketStream) keepAlive() {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout))
			if err != nil {
				s.log.Debug("Failed to ping media stream", zap.Error(err))
				return
			}
		}
	}
}

func (s *WebSocketStream) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

		// Media streams only carry JSON text frames.
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (s *WebSocketStream) WriteMessage(msg twilio.StreamMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return s.conn.WriteJSON(msg)
}

// Close sends a normal closure and releases the socket. Safe to call more than once.
func (s *WebSocketStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
