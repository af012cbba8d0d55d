package http

import (
	"net/http"
	"testing"

	"github.com/vovakirdan/pollchat/internal/config"
	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/proto"
)

func TestRegisterAndLogin(t *testing.T) {
	srv := createTestServer(t, nil)

	resp := srv.do(t, http.MethodPost, "/api/register", "", proto.RegisterRequest{Username: "alice", Password: "password123", DisplayName: "Alice"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if decodeBody[proto.AuthResponse](t, resp).Token == "" {
		t.Fatalf("expected a token")
	}

	resp = srv.do(t, http.MethodPost, "/api/register", "", proto.RegisterRequest{Username: "alice", Password: "password123"})
	expectError(t, resp, http.StatusConflict, errCodeConflict)

	resp = srv.do(t, http.MethodPost, "/api/register", "", map[string]string{"username": "al"})
	expectError(t, resp, http.StatusBadRequest, core.ErrCodeBadRequest)

	resp = srv.do(t, http.MethodPost, "/api/login", "", proto.LoginRequest{Username: "alice", Password: "password123"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = srv.do(t, http.MethodPost, "/api/login", "", proto.LoginRequest{Username: "alice", Password: "nope"})
	expectError(t, resp, http.StatusUnauthorized, core.ErrCodeInvalidCredentials)

	resp = srv.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "alice"})
	expectError(t, resp, http.StatusBadRequest, core.ErrCodeBadRequest)
}

func TestLoginCaptcha(t *testing.T) {
	srv := createTestServer(t, func(cfg *config.ServerConfig) { cfg.CaptchaAfter = 2 })
	srv.register(t, "alice")

	for i := 0; i < 2; i++ {
		resp := srv.do(t, http.MethodPost, "/api/login", "", proto.LoginRequest{Username: "alice", Password: "wrong"})
		expectError(t, resp, http.StatusUnauthorized, core.ErrCodeInvalidCredentials)
	}

	resp := srv.do(t, http.MethodPost, "/api/login", "", proto.LoginRequest{Username: "alice", Password: "password123"})
	expectError(t, resp, http.StatusUnauthorized, core.ErrCodeCaptchaRequired)

	resp = srv.do(t, http.MethodPost, "/api/login", "", proto.LoginRequest{Username: "alice", Password: "password123", Captcha: "solved"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected captcha login to pass, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestLoginRateLimit(t *testing.T) {
	srv := createTestServer(t, func(cfg *config.ServerConfig) { cfg.LoginRateLimit = 2 })

	for i := 0; i < 2; i++ {
		resp := srv.do(t, http.MethodPost, "/api/login", "", proto.LoginRequest{Username: "ghost", Password: "x"})
		expectError(t, resp, http.StatusUnauthorized, core.ErrCodeInvalidCredentials)
	}

	resp := srv.do(t, http.MethodPost, "/api/login", "", proto.LoginRequest{Username: "ghost", Password: "x"})
	expectError(t, resp, http.StatusTooManyRequests, errCodeTooManyLogins)
}

func TestAuthMiddleware(t *testing.T) {
	srv := createTestServer(t, nil)
	token := srv.register(t, "alice")

	resp := srv.do(t, http.MethodPost, "/api/endpoints", "", nil)
	expectError(t, resp, http.StatusUnauthorized, core.ErrCodeUnauthorized)

	resp = srv.do(t, http.MethodPost, "/api/endpoints", "not-a-jwt", nil)
	expectError(t, resp, http.StatusUnauthorized, core.ErrCodeUnauthorized)

	resp = srv.do(t, http.MethodPost, "/api/endpoints", token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	srv := createTestServer(t, nil)
	token := srv.register(t, "alice")

	resp := srv.do(t, http.MethodPost, "/api/logout", token, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = srv.do(t, http.MethodPost, "/api/endpoints", token, nil)
	expectError(t, resp, http.StatusUnauthorized, core.ErrCodeUnauthorized)
}

func TestHealth(t *testing.T) {
	srv := createTestServer(t, nil)

	resp := srv.do(t, http.MethodGet, "/health", "", nil)
	if resp.Code != http.StatusOK || resp.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", resp.Code, resp.Body.String())
	}
}
