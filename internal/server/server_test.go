package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/streaming"
)

// fixedProvider replays a fixed token sequence.
type fixedProvider struct {
	tokens []string
}

func (p *fixedProvider) Name() string        { return "fixed" }
func (p *fixedProvider) SupportsTools() bool { return false }

func (p *fixedProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan agent.StreamChunk, error) {
	ch := make(chan agent.StreamChunk, len(p.tokens)+1)
	for _, tok := range p.tokens {
		ch <- agent.StreamChunk{Kind: agent.ChunkToken, Text: tok}
	}
	ch <- agent.StreamChunk{Kind: agent.ChunkDone}
	close(ch)
	return ch, nil
}

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{
		Addr:       "127.0.0.1:0",
		Dispatcher: streaming.NewDispatcher(streaming.NewRegistry(), nil),
		Provider:   &fixedProvider{tokens: []string{"hel", "lo"}},
	})
	ts := httptest.NewServer(s.httpSrv.Handler)
	t.Cleanup(ts.Close)
	return s, ts
}

func parseSSE(t *testing.T, body *bufio.Scanner) []streaming.Frame {
	t.Helper()
	var frames []streaming.Frame
	for body.Scan() {
		line := body.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame streaming.Frame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func TestChatStreamEndpoint(t *testing.T) {
	_, ts := testServer(t)

	body := bytes.NewBufferString(`{"request_id":"req-1","messages":[{"role":"user","content":"hi"}]}`)
	resp, err := http.Post(ts.URL+"/chat/stream", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := parseSSE(t, bufio.NewScanner(resp.Body))
	require.NotEmpty(t, frames)
	require.Equal(t, "meta", frames[0].Type)
	require.Equal(t, "req-1", frames[0].RequestID)
	require.Equal(t, "done", frames[len(frames)-1].Type)

	var text string
	for _, f := range frames {
		if f.Type == "token" {
			text += f.Text
		}
	}
	require.Equal(t, "hello", text)
}

func TestChatStreamRejectsBadBody(t *testing.T) {
	_, ts := testServer(t)
	resp, err := http.Post(ts.URL+"/chat/stream", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelEndpoint(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Post(ts.URL+"/chat/cancel", "application/json", strings.NewReader(`{"request_id":"ghost"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.False(t, out["cancelled"])
}

func TestCancelEndpointRequiresID(t *testing.T) {
	_, ts := testServer(t)
	resp, err := http.Post(ts.URL+"/chat/cancel", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCouncilStreamEndpoint(t *testing.T) {
	_, ts := testServer(t)

	body := strings.NewReader(`{"request_id":"req-c","prompt":"compare things","members":2}`)
	resp, err := http.Post(ts.URL+"/council/stream", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()

	frames := parseSSE(t, bufio.NewScanner(resp.Body))
	require.NotEmpty(t, frames)
	require.Equal(t, "meta", frames[0].Type)
	require.Equal(t, "done", frames[len(frames)-1].Type)

	counts := map[string]int{}
	for _, f := range frames {
		counts[f.Type]++
	}
	require.Equal(t, 2, counts["member_complete"])
}

func TestHealthz(t *testing.T) {
	_, ts := testServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestControlPlaneNoClientsFallsBack(t *testing.T) {
	s, _ := testServer(t)
	_, delivered := s.Control().RequestApproval(&agent.ApprovalRequest{ID: "a1"}, 50*time.Millisecond)
	require.False(t, delivered, "no connected clients must report not-delivered")
}
