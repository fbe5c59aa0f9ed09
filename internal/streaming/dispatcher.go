package streaming

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/models"
)

// Frame is one SSE event emitted to the client connection, modeled
// after the typed-envelope wire frames used for this engine's other
// realtime control-plane traffic.
type Frame struct {
	Type    string          `json:"type"`
	RequestID string        `json:"request_id,omitempty"`
	Text    string          `json:"text,omitempty"`
	Phase   string          `json:"phase,omitempty"`
	Member  int             `json:"member,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

const (
	FrameMeta      = "meta"
	FrameToken     = "token"
	FramePhase     = "phase"
	FrameMember    = "member_complete"
	FrameMemberErr = "member_error"
	FrameDone      = "done"
	FrameCancelled = "cancelled"
	FrameError     = "error"
)

// Dispatcher coordinates the in-flight registry, response cache, and
// provider streaming for the chat and council SSE endpoints.
type Dispatcher struct {
	registry *Registry
	cache    *ResponseCache
}

// NewDispatcher constructs a Dispatcher. A nil cache disables
// response caching entirely.
func NewDispatcher(registry *Registry, cache *ResponseCache) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Dispatcher{registry: registry, cache: cache}
}

// StreamChat drives a single-provider chat stream under requestId,
// replaying from the response cache on a hit and storing the
// accumulated content on a clean completion.
func (d *Dispatcher) StreamChat(ctx context.Context, requestID string, key string, provider agent.Provider, req *agent.CompletionRequest, emit func(Frame)) {
	runCtx := d.registry.Register(ctx, requestID)
	defer d.registry.Done(requestID)

	emit(Frame{Type: FrameMeta, RequestID: requestID})

	if cached, ok := d.cacheGet(key); ok {
		for _, chunk := range ReplayChunks(cached, 256) {
			select {
			case <-runCtx.Done():
				emit(Frame{Type: FrameCancelled, RequestID: requestID})
				return
			default:
			}
			emit(Frame{Type: FrameToken, RequestID: requestID, Text: chunk})
		}
		emit(Frame{Type: FrameDone, RequestID: requestID})
		return
	}

	ch, err := provider.Stream(runCtx, req)
	if err != nil {
		emit(Frame{Type: FrameError, RequestID: requestID, Error: models.Redact(err.Error())})
		return
	}

	var accumulated string
	for chunk := range ch {
		switch chunk.Kind {
		case agent.ChunkToken:
			accumulated += chunk.Text
			emit(Frame{Type: FrameToken, RequestID: requestID, Text: chunk.Text})
		case agent.ChunkError:
			emit(Frame{Type: FrameError, RequestID: requestID, Error: models.Redact(chunk.Err.Error())})
			return
		case agent.ChunkToolCall, agent.ChunkDone:
		}
	}

	if runCtx.Err() != nil {
		emit(Frame{Type: FrameCancelled, RequestID: requestID})
		return
	}

	d.cacheStore(key, accumulated)
	emit(Frame{Type: FrameDone, RequestID: requestID})
}

func (d *Dispatcher) cacheGet(key string) (string, bool) {
	if d.cache == nil || key == "" {
		return "", false
	}
	return d.cache.Get(key, time.Now())
}

func (d *Dispatcher) cacheStore(key, content string) {
	if d.cache == nil || key == "" {
		return
	}
	d.cache.Store(key, content, time.Now())
}

// Cancel aborts the stream registered under requestId, if any.
func (d *Dispatcher) Cancel(requestID string) bool {
	return d.registry.Cancel(requestID)
}

// StreamCouncil runs a council round under requestId, translating
// CouncilEvent lifecycle callbacks into Frames.
func (d *Dispatcher) StreamCouncil(ctx context.Context, requestID string, n int, memberTimeout, leaderTimeout time.Duration, member MemberStream, leader LeaderStream, emit func(Frame)) {
	runCtx := d.registry.Register(ctx, requestID)
	defer d.registry.Done(requestID)

	emit(Frame{Type: FrameMeta, RequestID: requestID})

	_, err := RunCouncil(runCtx, n, memberTimeout, leaderTimeout, member, leader, func(ev CouncilEvent) {
		switch ev.Phase {
		case "members", "leader", "leader_retry":
			emit(Frame{Type: FramePhase, RequestID: requestID, Phase: ev.Phase})
		case "member_complete":
			emit(Frame{Type: FrameMember, RequestID: requestID, Member: ev.Member, Text: ev.Text})
		case "member_error":
			emit(Frame{Type: FrameMemberErr, RequestID: requestID, Member: ev.Member, Error: models.Redact(ev.Err.Error())})
		case "done":
			emit(Frame{Type: FrameToken, RequestID: requestID, Text: ev.Text})
		}
	})

	if runCtx.Err() != nil {
		emit(Frame{Type: FrameCancelled, RequestID: requestID})
		return
	}
	if err != nil {
		emit(Frame{Type: FrameError, RequestID: requestID, Error: models.Redact(err.Error())})
		return
	}
	emit(Frame{Type: FrameDone, RequestID: requestID})
}
