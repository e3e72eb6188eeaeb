package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smash0190/endlesspool/internal/events"
	"github.com/smash0190/endlesspool/internal/pool"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients are local-network dashboards; no origin restriction.
	CheckOrigin: func(*http.Request) bool { return true },
}

// statusMessage is the outbound frame pushed on every hub publication.
type statusMessage struct {
	Type      string             `json:"type"`
	Data      pool.DerivedStatus `json:"data"`
	Recording bool               `json:"recording"`
}

// runMessage carries program run state changes.
type runMessage struct {
	Type string        `json:"type"`
	Data pool.RunState `json:"data"`
}

// clientMessage is the inbound frame envelope.
type clientMessage struct {
	Type   string `json:"type"`
	Cmd    string `json:"cmd,omitempty"`
	Value  int    `json:"value,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// handleWebSocket upgrades the connection and runs a read pump plus a
// write pump until either side closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("Server: websocket upgrade: %v", err)
		return
	}

	sess, unsubscribe := s.hub.Subscribe()
	runCh := make(chan pool.RunState, 4)
	unlistenRun := s.runner.ListenToState(runCh)

	done := make(chan struct{})
	events.SafeGo(s.logger, func() {
		s.wsWritePump(conn, sess, runCh, done)
	})

	s.wsReadPump(conn, sess)

	close(done)
	unlistenRun()
	unsubscribe()
	conn.Close()
}

func (s *Server) wsWritePump(conn *websocket.Conn, sess *pool.Session,
	runCh <-chan pool.RunState, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	// Seed the client with the latest known state immediately.
	if update, ok := s.hub.Latest(); ok {
		s.wsSend(conn, statusMessage{Type: "status", Data: update.Status, Recording: update.Recording})
	}
	s.wsSend(conn, runMessage{Type: "run", Data: s.runner.State()})

	for {
		select {
		case <-done:
			return
		case update := <-sess.Updates():
			if !s.wsSend(conn, statusMessage{Type: "status", Data: update.Status, Recording: update.Recording}) {
				return
			}
		case state := <-runCh:
			if !s.wsSend(conn, runMessage{Type: "run", Data: state}) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) wsSend(conn *websocket.Conn, v any) bool {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(v); err != nil {
		return false
	}
	return true
}

func (s *Server) wsReadPump(conn *websocket.Conn, sess *pool.Session) {
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Printf("Server: websocket bad message: %v", err)
			continue
		}
		s.handleClientMessage(sess, msg)
	}
}

func (s *Server) handleClientMessage(sess *pool.Session, msg clientMessage) {
	switch msg.Type {
	case "command":
		s.handleClientCommand(sess, msg)
	case "set_user":
		if msg.UserID != "" {
			sess.SetUser(msg.UserID)
		}
	case "finish_workout":
		if s.recorder.Recording() {
			s.recorder.Finalize()
		}
	default:
		s.logger.Printf("Server: websocket unknown message type %q", msg.Type)
	}
}

func (s *Server) handleClientCommand(sess *pool.Session, msg clientMessage) {
	cmd, err := pool.NewCommand(pool.CommandOp(msg.Cmd), msg.Value)
	if err != nil {
		s.logger.Printf("Server: websocket bad command: %v", err)
		return
	}
	if err := s.hub.HandleCommand(sess, cmd); err != nil {
		s.logger.Printf("Server: command %s failed: %v", cmd, err)
		return
	}
	// Manual stop ends the recording right away rather than waiting
	// for the idle timeout.
	if cmd.Op() == pool.CmdStop && s.recorder.Recording() {
		s.recorder.Finalize()
	}
}
