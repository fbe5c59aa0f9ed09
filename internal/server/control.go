package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/streaming"
)

// controlMessage is the wire shape on the control-plane websocket.
// Server→client: approval_request. Client→server: approve, deny,
// cancel_stream.
type controlMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ControlPlane fans approval prompts out to connected websocket
// clients and accepts approval answers and stream-cancel commands
// back.
type ControlPlane struct {
	dispatcher *streaming.Dispatcher
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	pending map[string]chan agent.ApprovalDecision
}

// NewControlPlane constructs the control plane.
func NewControlPlane(dispatcher *streaming.Dispatcher, logger *slog.Logger) *ControlPlane {
	return &ControlPlane{
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement happens at the CORS layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.With("component", "control_plane"),
		clients: make(map[*websocket.Conn]struct{}),
		pending: make(map[string]chan agent.ApprovalDecision),
	}
}

// HandleWS upgrades the connection and pumps control messages until
// the client disconnects.
func (c *ControlPlane) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c.mu.Lock()
	c.clients[conn] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.clients, conn)
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var msg controlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		c.handleClientMessage(msg)
	}
}

func (c *ControlPlane) handleClientMessage(msg controlMessage) {
	switch msg.Type {
	case "approve", "deny":
		decision := agent.ApprovalDenied
		if msg.Type == "approve" {
			decision = agent.ApprovalAllowed
		}
		c.mu.Lock()
		answer, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if ok {
			select {
			case answer <- decision:
			default:
			}
		}

	case "cancel_stream":
		if msg.RequestID != "" && c.dispatcher != nil {
			c.dispatcher.Cancel(msg.RequestID)
		}
	}
}

// RequestApproval broadcasts req to every connected client and waits
// for the first answer, up to timeout. With no clients connected it
// returns immediately so the caller can fall back to another channel.
func (c *ControlPlane) RequestApproval(req *agent.ApprovalRequest, timeout time.Duration) (agent.ApprovalDecision, bool) {
	c.mu.Lock()
	if len(c.clients) == 0 {
		c.mu.Unlock()
		return agent.ApprovalDenied, false
	}
	answer := make(chan agent.ApprovalDecision, 1)
	c.pending[req.ID] = answer
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	c.broadcast(controlMessage{
		Type:     "approval_request",
		ID:       req.ID,
		ToolName: req.ToolName,
		Reason:   req.Reason,
	})

	select {
	case decision := <-answer:
		return decision, true
	case <-time.After(timeout):
		return agent.ApprovalDenied, true
	}
}

func (c *ControlPlane) broadcast(msg controlMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for conn := range c.clients {
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			c.logger.Warn("control-plane write failed", "error", err)
		}
	}
}
