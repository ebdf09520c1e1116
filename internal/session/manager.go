package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
)

// Config tunes the server-side channels. Zero values fall back to defaults.
type Config struct {
	SendBuffer     int
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

func (c *Config) applyDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait / 2
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
}

// Manager keys live sessions by agent id. The invariant is at most one
// session per agent: a new attach supersedes and closes the previous one.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	upgrader websocket.Upgrader
	cfg      Config
	logger   *zap.Logger
}

func NewManager(cfg Config, logger *zap.Logger) *Manager {
	cfg.applyDefaults()
	return &Manager{
		sessions: make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		cfg:    cfg,
		logger: logger.Named("session"),
	}
}

// Attach upgrades the request and installs the new session for agentID,
// closing whatever session held the slot before.
func (m *Manager) Attach(w http.ResponseWriter, r *http.Request, agentID string) (*Session, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:      uuid.New().String(),
		AgentID: agentID,
		mgr:     m,
		conn:    conn,
		send:    make(chan Frame, m.cfg.SendBuffer),
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	prev := m.sessions[agentID]
	m.sessions[agentID] = s
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info("session superseded",
			zap.String("agent_id", agentID),
			zap.String("old_session_id", prev.ID))
		prev.close()
	}

	go s.writePump()
	go s.readPump()

	s.send <- Frame{Type: FrameConnected, SessionID: s.ID}

	m.logger.Info("session attached",
		zap.String("agent_id", agentID),
		zap.String("session_id", s.ID))
	return s, nil
}

// Deliver pushes a message onto the agent's live channel if one exists.
// Satisfies the gateway's Deliverer.
func (m *Manager) Deliver(agentID string, msg domain.Message) bool {
	m.mu.RLock()
	s := m.sessions[agentID]
	m.mu.RUnlock()

	if s == nil {
		return false
	}
	return s.Deliver(msg)
}

// Disconnect closes the agent's session if one is live.
func (m *Manager) Disconnect(agentID string) {
	m.mu.RLock()
	s := m.sessions[agentID]
	m.mu.RUnlock()

	if s != nil {
		s.close()
	}
}

// Connected reports whether the agent has a live channel.
func (m *Manager) Connected(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[agentID] != nil
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll tears every session down, for shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	for _, s := range all {
		s.close()
	}
}

// detach removes s from the table unless a newer session superseded it.
func (m *Manager) detach(s *Session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.AgentID]; ok && cur == s {
		delete(m.sessions, s.AgentID)
	}
	m.mu.Unlock()
}
