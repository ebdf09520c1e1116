// Package session owns the live WebSocket channels: at most one per agent id,
// supersede on reconnect, and a single writer goroutine per socket so ping,
// delivery and close frames never race.
package session

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
)

// Frame is the wire envelope. Delivered messages ride in type "message";
// "connected" confirms the attach and names the session.
type Frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Message   *domain.Message `json:"message,omitempty"`
}

const (
	FrameConnected = "connected"
	FrameMessage   = "message"
)

// Session is one live server-side channel. All writes to the socket go
// through the send channel into writePump; readPump only services control
// frames and close detection.
type Session struct {
	ID      string
	AgentID string

	mgr  *Manager
	conn *websocket.Conn
	send chan Frame
	done chan struct{}
	once sync.Once
}

// Deliver enqueues a message without blocking. A full buffer means a slow
// consumer; the message is dropped here and stays readable from history.
func (s *Session) Deliver(msg domain.Message) bool {
	frame := Frame{Type: FrameMessage, SessionID: s.ID, Message: &msg}
	select {
	case s.send <- frame:
		return true
	case <-s.done:
		return false
	default:
		s.mgr.logger.Warn("session buffer full, dropping delivery",
			zap.String("agent_id", s.AgentID),
			zap.String("message_id", msg.ID))
		return false
	}
}

// close shuts the channel down exactly once and deregisters it, unless a
// newer session already took the slot.
func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		s.mgr.detach(s)
		_ = s.conn.Close()
		s.mgr.logger.Info("session closed",
			zap.String("agent_id", s.AgentID),
			zap.String("session_id", s.ID))
	})
}

// writePump is the only goroutine writing to the socket.
func (s *Session) writePump() {
	cfg := s.mgr.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				s.mgr.logger.Warn("session write failed",
					zap.String("agent_id", s.AgentID), zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
			return
		}
	}
}

// readPump is the only goroutine reading from the socket. The channel is
// delivery-only; inbound frames other than control frames are discarded.
func (s *Session) readPump() {
	cfg := s.mgr.cfg
	defer s.close()

	s.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.mgr.logger.Warn("session read failed",
					zap.String("agent_id", s.AgentID), zap.Error(err))
			}
			return
		}
	}
}
