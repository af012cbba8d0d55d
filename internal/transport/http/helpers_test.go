package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pollchat/internal/auth"
	"github.com/vovakirdan/pollchat/internal/config"
	"github.com/vovakirdan/pollchat/internal/service/chats"
	"github.com/vovakirdan/pollchat/internal/store/sqlite"
)

// testServer bundles the emulator handler with the services behind it.
type testServer struct {
	handler stdhttp.Handler
	auth    *auth.Service
	chats   *chats.Service
}

// createTestServer builds the emulator on an in-memory store.
func createTestServer(t *testing.T, mutate func(*config.ServerConfig)) *testServer {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default().Server
	cfg.Addr = ":0"
	cfg.MaxPollTimeout = 2 * time.Second
	cfg.LoginRateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}

	disabledLogger := zerolog.New(nil)
	authService := auth.NewService(st, &auth.JWTConfig{
		Secret: []byte("test-secret-change-me"),
		Issuer: "test",
		TTL:    time.Hour,
	}, cfg.CaptchaAfter)
	chatService := chats.New(st, &disabledLogger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	server := NewServer(ctx, authService, chatService, cfg, &disabledLogger)
	return &testServer{handler: server.Handler, auth: authService, chats: chatService}
}

// register creates an account and returns its token.
func (s *testServer) register(t *testing.T, username string) string {
	t.Helper()

	token, err := s.auth.Register(context.Background(), username, "password123", "")
	if err != nil {
		t.Fatalf("failed to register %s: %v", username, err)
	}
	return token
}

// do sends a JSON request through the handler.
func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp := httptest.NewRecorder()
	s.handler.ServeHTTP(resp, req)
	return resp
}

func decodeBody[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", resp.Body.String(), err)
	}
	return out
}

func expectError(t *testing.T, resp *httptest.ResponseRecorder, status int, code string) {
	t.Helper()

	if resp.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, resp.Code, resp.Body.String())
	}
	body := decodeBody[ErrorResponse](t, resp)
	if body.Code != code {
		t.Fatalf("expected code %q, got %+v", code, body)
	}
}
