package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/collabsync/session/internal/chat"
	"github.com/collabsync/session/internal/metrics"
	"github.com/collabsync/session/internal/protocol"
)

// SessionView is the slice of the session surface the gateway needs:
// read-only snapshots plus the mutating actions a UI can trigger.
type SessionView interface {
	Self() protocol.Participant
	Roster() []protocol.Participant
	OrderedLog() []protocol.ChatMessage
	TypingSnapshot() []chat.TypingIndicator
	CounterState() protocol.CounterState

	SendMessage(text string, expiration time.Duration) (protocol.ChatMessage, error)
	DeleteMessage(messageID string)
	HandleTyping()
	StopTyping()
	IncrementCounter()
	DecrementCounter()
	ResetCounter()
}

// ServerConfig holds gateway tuning parameters.
type ServerConfig struct {
	ListenAddr        string
	SnapshotInterval  time.Duration // periodic snapshot push to all clients
	HeartbeatInterval time.Duration // how often to ping clients
	HeartbeatTimeout  time.Duration // max silence before a client is dropped
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:        "127.0.0.1:8080",
		SnapshotInterval:  250 * time.Millisecond,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
	}
}

// Server accepts local UI WebSocket connections and bridges them to the
// session: a snapshot is pushed on connect, after every action, and on a
// periodic refresh tick.
type Server struct {
	config  ServerConfig
	session SessionView
	conns   *ConnectionManager
	httpSrv *http.Server
	done    chan struct{}
}

// NewServer creates a gateway server for the given session.
func NewServer(config ServerConfig, session SessionView) *Server {
	return &Server{
		config:  config,
		session: session,
		conns:   NewConnectionManager(),
		done:    make(chan struct{}),
	}
}

// Start listens for WebSocket upgrades and blocks until Shutdown. The
// snapshot pusher and heartbeat sweeper run for the server's lifetime.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)

	s.httpSrv = &http.Server{Addr: s.config.ListenAddr, Handler: mux}

	go s.pushLoop()
	go s.heartbeatLoop()

	log.Printf("[gateway] listening on %s", s.config.ListenAddr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, closes active ones, and stops the
// background loops.
func (s *Server) Shutdown() error {
	close(s.done)
	for _, conn := range s.conns.All() {
		s.removeConnection(conn)
	}
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}

	conn := &Connection{
		ID:        uuid.NewString(),
		Conn:      netConn,
		CreatedAt: time.Now(),
	}
	conn.touch()
	s.conns.Add(conn)
	metrics.GatewayConnections.Set(float64(s.conns.Count()))
	log.Printf("[gateway] client connected id=%s", conn.ID)

	// Initial snapshot so the UI renders without waiting for the refresh tick.
	s.sendSnapshot(conn)

	go s.readLoop(conn)
}

func (s *Server) readLoop(conn *Connection) {
	defer s.removeConnection(conn)

	for {
		data, err := wsutil.ReadClientText(conn.Conn)
		if err != nil {
			return
		}
		conn.touch()
		s.dispatch(conn, data)
	}
}

// dispatch routes one client action to the session, then pushes a fresh
// snapshot to every connected client so all local views update at once.
func (s *Server) dispatch(conn *Connection, data []byte) {
	msg, err := ParseClientMessage(data)
	if err != nil {
		log.Printf("[gateway] parse error conn=%s: %v", conn.ID, err)
		s.sendError(conn, "parse_error", "invalid message format")
		return
	}

	if msg.Type == TypePing {
		s.sendPong(conn)
		return
	}

	if err := s.applyAction(msg); err != nil {
		s.sendError(conn, "invalid_message", err.Error())
		return
	}
	s.broadcastSnapshot()
}

// applyAction delegates one parsed client action to the session.
func (s *Server) applyAction(msg ClientMsg) error {
	switch msg.Type {
	case TypeSendMessage:
		expiration := time.Duration(msg.ExpirationMs) * time.Millisecond
		_, err := s.session.SendMessage(msg.Text, expiration)
		return err
	case TypeDeleteMessage:
		s.session.DeleteMessage(msg.MessageID)
	case TypeTyping:
		s.session.HandleTyping()
	case TypeStopTyping:
		s.session.StopTyping()
	case TypeIncrementCounter:
		s.session.IncrementCounter()
	case TypeDecrementCounter:
		s.session.DecrementCounter()
	case TypeResetCounter:
		s.session.ResetCounter()
	}
	return nil
}

// pushLoop refreshes all clients on a fixed interval so remote-origin state
// changes reach the UI without any action on this peer.
func (s *Server) pushLoop() {
	ticker := time.NewTicker(s.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if s.conns.Count() > 0 {
				s.broadcastSnapshot()
			}
		}
	}
}

// heartbeatLoop pings all connections periodically and drops those with no
// successful reads within Interval + Timeout.
func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.checkConnections()
		}
	}
}

func (s *Server) checkConnections() {
	deadline := s.config.HeartbeatInterval + s.config.HeartbeatTimeout
	now := time.Now()

	for _, conn := range s.conns.All() {
		if now.Sub(conn.LastRead()) > deadline {
			log.Printf("[gateway] heartbeat timeout conn=%s last_read=%s ago",
				conn.ID, now.Sub(conn.LastRead()).Round(time.Second))
			s.removeConnection(conn)
			continue
		}
		if err := conn.WritePing(); err != nil {
			log.Printf("[gateway] heartbeat ping failed conn=%s: %v", conn.ID, err)
			s.removeConnection(conn)
		}
	}
}

func (s *Server) removeConnection(conn *Connection) {
	if s.conns.Remove(conn.ID) {
		metrics.GatewayConnections.Set(float64(s.conns.Count()))
		log.Printf("[gateway] client disconnected id=%s", conn.ID)
	}
}

func (s *Server) broadcastSnapshot() {
	data, err := json.Marshal(newSnapshot(s.session))
	if err != nil {
		log.Printf("[gateway] marshal snapshot: %v", err)
		return
	}
	s.conns.Broadcast(data)
}

func (s *Server) sendSnapshot(conn *Connection) {
	data, err := json.Marshal(newSnapshot(s.session))
	if err != nil {
		log.Printf("[gateway] marshal snapshot: %v", err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("[gateway] send snapshot conn=%s: %v", conn.ID, err)
	}
}

func (s *Server) sendError(conn *Connection, code, message string) {
	data, err := json.Marshal(ErrorMsg{Type: TypeError, Code: code, Message: message})
	if err != nil {
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("[gateway] send error conn=%s: %v", conn.ID, err)
	}
}

func (s *Server) sendPong(conn *Connection) {
	data, _ := json.Marshal(PongMsg{Type: TypePong})
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("[gateway] send pong conn=%s: %v", conn.ID, err)
	}
}
