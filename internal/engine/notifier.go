package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/transport"
)

// TransportNotifier pushes approval requests to the owner as an inline
// keyboard and resolves them from button callbacks. Unanswered
// requests fall back to the gate's deny-by-default timeout.
type TransportNotifier struct {
	transport transport.Transport

	mu      sync.Mutex
	pending map[string]chan agent.ApprovalDecision
}

// NewTransportNotifier constructs a notifier over t.
func NewTransportNotifier(t transport.Transport) *TransportNotifier {
	return &TransportNotifier{
		transport: t,
		pending:   make(map[string]chan agent.ApprovalDecision),
	}
}

// RequestApproval sends the approve/deny keyboard and blocks until the
// user answers or ctx expires.
func (n *TransportNotifier) RequestApproval(ctx context.Context, req *agent.ApprovalRequest) (agent.ApprovalDecision, error) {
	answer := make(chan agent.ApprovalDecision, 1)
	n.mu.Lock()
	n.pending[req.ID] = answer
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.pending, req.ID)
		n.mu.Unlock()
	}()

	text := "Approval required: " + req.ToolName
	if req.Reason != "" {
		text += "\nReason: " + req.Reason
	}
	rows := [][]transport.Button{{
		{Text: "Approve", CallbackData: "approve:" + req.ID},
		{Text: "Deny", CallbackData: "deny:" + req.ID},
	}}
	if err := n.transport.SendKeyboard(ctx, text, rows); err != nil {
		return agent.ApprovalDenied, err
	}

	select {
	case decision := <-answer:
		return decision, nil
	case <-ctx.Done():
		return agent.ApprovalDenied, ctx.Err()
	}
}

// HandleCallback resolves a pending approval from callback data of the
// form "approve:<id>" or "deny:<id>". Returns false when the data is
// not an approval answer or the request is no longer pending.
func (n *TransportNotifier) HandleCallback(data string) bool {
	verb, id, ok := strings.Cut(data, ":")
	if !ok {
		return false
	}
	var decision agent.ApprovalDecision
	switch verb {
	case "approve":
		decision = agent.ApprovalAllowed
	case "deny":
		decision = agent.ApprovalDenied
	default:
		return false
	}

	n.mu.Lock()
	answer, pending := n.pending[id]
	n.mu.Unlock()
	if !pending {
		return false
	}

	select {
	case answer <- decision:
	default:
	}
	return true
}
