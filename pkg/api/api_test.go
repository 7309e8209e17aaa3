package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-chat/pkg/chat"
	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
	"github.com/ZentaChain/zentalk-chat/pkg/registry"
)

type fakeService struct {
	mu        sync.Mutex
	submitted []string
	submitErr error
	status    chat.Status
}

func (f *fakeService) Status() chat.Status {
	return f.status
}

func (f *fakeService) Submit(_ context.Context, text string) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, text)
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeService, *registry.Registry) {
	t.Helper()

	var self protocol.PeerID
	self[0] = 0x01
	reg, err := registry.New(self, "me", 0)
	require.NoError(t, err)

	svc := &fakeService{
		status: chat.Status{
			Self:    self.String(),
			Name:    "me",
			Serving: true,
			Transport: &chat.Description{
				Mode:  "gossip",
				Room:  "lobby",
				Peers: 2,
			},
		},
	}

	server := NewServer(svc, reg, DefaultConfig())
	t.Cleanup(server.limiter.Stop)
	return server, svc, reg
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	server, _, _ := newTestServer(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		t.Run(path, func(t *testing.T) {
			w := doRequest(server, http.MethodGet, path, nil)
			assert.Equal(t, http.StatusOK, w.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "ok", resp.Status)
		})
	}
}

func TestNodeInfo(t *testing.T) {
	server, svc, reg := newTestServer(t)

	var alice protocol.PeerID
	alice[0] = 0xA1
	reg.Upsert(alice, "alice")

	w := doRequest(server, http.MethodGet, "/api/v1/node", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp NodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, svc.status.Self, resp.Self)
	assert.Equal(t, "me", resp.Name)
	assert.True(t, resp.Serving)
	require.NotNil(t, resp.Transport)
	assert.Equal(t, "gossip", resp.Transport.Mode)
	assert.Equal(t, "lobby", resp.Transport.Room)
	assert.Equal(t, 1, resp.KnownPeers)
}

func TestPeers(t *testing.T) {
	server, _, reg := newTestServer(t)

	var alice protocol.PeerID
	alice[0] = 0xA1
	reg.Upsert(alice, "alice")

	w := doRequest(server, http.MethodGet, "/api/v1/peers", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp PeersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)

	assert.True(t, resp.Peers[0].Self)
	assert.Equal(t, "me", resp.Peers[0].Name)
	assert.Equal(t, "alice", resp.Peers[1].Name)
	assert.Equal(t, alice.String(), resp.Peers[1].ID)
	assert.Equal(t, alice.Short(), resp.Peers[1].ShortID)
}

func TestSendMessage(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		submitErr  error
		wantStatus int
		wantQueued bool
	}{
		{"queued", `{"text":"hello"}`, nil, http.StatusAccepted, true},
		{"missing text", `{}`, nil, http.StatusBadRequest, false},
		{"not json", `hello`, nil, http.StatusBadRequest, false},
		{"multi line", `{"text":"a\nb"}`, nil, http.StatusBadRequest, false},
		{"input closed", `{"text":"late"}`, chat.ErrInputClosed, http.StatusServiceUnavailable, false},
		{"queue full", `{"text":"busy"}`, context.DeadlineExceeded, http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, svc, _ := newTestServer(t)
			svc.submitErr = tt.submitErr

			w := doRequest(server, http.MethodPost, "/api/v1/messages", []byte(tt.body))
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantQueued {
				assert.Equal(t, []string{"hello"}, svc.submitted)
			} else {
				assert.Empty(t, svc.submitted)
			}
		})
	}
}

func TestSendMessageTooLong(t *testing.T) {
	server, svc, _ := newTestServer(t)

	body, err := json.Marshal(SendMessageRequest{Text: strings.Repeat("x", protocol.MaxFrameSize)})
	require.NoError(t, err)

	w := doRequest(server, http.MethodPost, "/api/v1/messages", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.submitted)
}

func TestSendMessageConfiguredLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTextLength = 8

	reg, err := registry.New(protocol.PeerID{1}, "me", 0)
	require.NoError(t, err)
	svc := &fakeService{}
	server := NewServer(svc, reg, cfg)
	defer server.limiter.Stop()

	fits, err := json.Marshal(SendMessageRequest{Text: strings.Repeat("x", 8)})
	require.NoError(t, err)
	tooLong, err := json.Marshal(SendMessageRequest{Text: strings.Repeat("x", 9)})
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, doRequest(server, http.MethodPost, "/api/v1/messages", fits).Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(server, http.MethodPost, "/api/v1/messages", tooLong).Code)
	assert.Equal(t, []string{strings.Repeat("x", 8)}, svc.submitted)
}

func TestCORSPreflight(t *testing.T) {
	server, _, _ := newTestServer(t)

	w := doRequest(server, http.MethodOptions, "/api/v1/messages", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(2)
	defer limiter.Stop()

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"))

	unlimited := NewRateLimiter(0)
	defer unlimited.Stop()
	for i := 0; i < 10; i++ {
		assert.True(t, unlimited.Allow("10.0.0.1"))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 1

	reg, err := registry.New(protocol.PeerID{1}, "me", 0)
	require.NoError(t, err)
	server := NewServer(&fakeService{}, reg, cfg)
	defer server.limiter.Stop()

	assert.Equal(t, http.StatusOK, doRequest(server, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(server, http.MethodGet, "/health", nil).Code)
}
