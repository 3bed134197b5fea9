package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fenggwsx/chatrelay/internal/protocol"
	"github.com/fenggwsx/chatrelay/internal/realtime"
)

const (
	reasonClientClose    = "client close"
	reasonTransportError = "transport error"
	reasonServerShutdown = "server shutdown"
)

// clientSession pumps frames between one WebSocket and the engine.
type clientSession struct {
	id        realtime.ConnectionID
	app       *App
	conn      *websocket.Conn
	sendCh    chan protocol.Envelope
	log       *zap.Logger
	closeOnce sync.Once

	mu     sync.Mutex
	reason string
}

func (a *App) handleWebSocket(c *gin.Context) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     a.origins.check,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.log.Info("websocket upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}

	id := a.engine.Connect(c.Request.RemoteAddr)
	s := &clientSession{
		id:     id,
		app:    a,
		conn:   conn,
		sendCh: make(chan protocol.Envelope, max(a.cfg.Socket.SendBuffer, 1)),
		log:    a.log.With(zap.String("conn", string(id))),
	}
	a.hub.register(s)

	go s.writePump()
	s.readPump(c.Request.Context())
}

func (s *clientSession) readPump(ctx context.Context) {
	readTimeout := s.app.cfg.Socket.ReadTimeout
	s.conn.SetReadLimit(s.app.cfg.Socket.MaxMessageBytes)
	s.extendReadDeadline(readTimeout)
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline(readTimeout)
		return nil
	})

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			s.close(readFailureReason(err))
			s.logReadError(err)
			return
		}
		s.extendReadDeadline(readTimeout)
		if mt != websocket.TextMessage {
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			s.log.Debug("dropping malformed frame", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		s.app.engine.Dispatch(ctx, s.id, env)
	}
}

func (s *clientSession) writePump() {
	writeTimeout := s.app.cfg.Socket.WriteTimeout
	ticker := time.NewTicker(pingPeriod(s.app.cfg.Socket.ReadTimeout))
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case env, ok := <-s.sendCh:
			s.setWriteDeadline(writeTimeout)
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, s.closeFrame())
				return
			}
			frame, err := protocol.Encode(env)
			if err != nil {
				s.log.Error("encode outbound event", zap.String("event", string(env.Event)), zap.Error(err))
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("write failed", zap.Error(err))
				s.close(reasonTransportError)
				return
			}
		case <-ticker.C:
			s.setWriteDeadline(writeTimeout)
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close(reasonTransportError)
				return
			}
		}
	}
}

// close detaches the session from the engine and hub once. The write pump
// then sends a close frame and releases the socket.
func (s *clientSession) close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()

		s.app.engine.Disconnect(s.id, reason)
		s.app.hub.unregister(s.id)
	})
}

func (s *clientSession) shutdown() {
	s.close(reasonServerShutdown)
}

func (s *clientSession) closeFrame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason == reasonServerShutdown {
		return websocket.FormatCloseMessage(websocket.CloseGoingAway, reasonServerShutdown)
	}
	return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
}

func (s *clientSession) extendReadDeadline(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		s.log.Debug("set read deadline", zap.Error(err))
	}
}

func (s *clientSession) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Info("frame exceeded size limit", zap.Int64("limit", s.app.cfg.Socket.MaxMessageBytes))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		s.log.Debug("peer closed", zap.Error(err))
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			s.log.Info("read timeout", zap.Error(err))
			return
		}
		s.log.Debug("read ended", zap.Error(err))
	}
}

func (s *clientSession) setWriteDeadline(timeout time.Duration) {
	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
}

func readFailureReason(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return reasonClientClose
	}
	return reasonTransportError
}

func pingPeriod(readTimeout time.Duration) time.Duration {
	if readTimeout <= 0 {
		return 54 * time.Second
	}
	return readTimeout * 9 / 10
}
