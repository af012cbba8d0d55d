package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/proto"
)

func newTestGateway(t *testing.T, handler http.Handler) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gw, err := NewHTTP(HTTPConfig{
		BaseURL:        srv.URL,
		RequestTimeout: 2 * time.Second,
		PollTimeout:    time.Second,
	})
	require.NoError(t, err)
	return gw
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestAuthenticateReadsTokenExpiry(t *testing.T) {
	req := require.New(t)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("server-secret"))
	req.NoError(err)

	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body proto.LoginRequest
		if r.URL.Path != "/api/login" || json.NewDecoder(r.Body).Decode(&body) != nil {
			writeJSON(w, http.StatusBadRequest, proto.Error{Code: core.ErrCodeBadRequest})
			return
		}
		if body.Username != "alice" || body.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, proto.Error{Code: core.ErrCodeInvalidCredentials})
			return
		}
		writeJSON(w, http.StatusOK, proto.AuthResponse{Token: signed})
	}))

	token, err := gw.Authenticate(context.Background(), "alice", "secret")
	req.NoError(err)
	req.Equal(signed, token.Value)
	req.Equal("alice", token.Username)
	req.True(exp.Equal(token.ExpiresAt), "expected %v, got %v", exp, token.ExpiresAt)

	_, err = gw.Authenticate(context.Background(), "alice", "wrong")
	req.ErrorIs(err, core.ErrInvalidCredentials)
	req.NotErrorIs(err, core.ErrCaptchaRequired)
}

func TestAuthenticateOpaqueTokenHasNoExpiry(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, proto.AuthResponse{Token: "opaque-token"})
	}))

	token, err := gw.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.True(t, token.ExpiresAt.IsZero())
}

func TestAuthenticateCaptcha(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, proto.Error{Code: core.ErrCodeCaptchaRequired, Msg: "solve the challenge"})
	}))

	_, err := gw.Authenticate(context.Background(), "alice", "secret")
	require.ErrorIs(t, err, core.ErrCaptchaRequired)
	require.ErrorIs(t, err, core.ErrInvalidCredentials)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		notErr  error
	}{
		{name: "server error", status: http.StatusBadGateway, body: "<html>bad gateway</html>", wantErr: core.ErrConnection},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, wantErr: core.ErrConnection},
		{name: "not a member", status: http.StatusNotFound, body: `{"code":"chat_not_found","error":"no"}`, wantErr: core.ErrChatNotFound},
		{name: "forbidden without code", status: http.StatusForbidden, body: `nope`, wantErr: core.ErrChatNotFound},
		{name: "token rejected", status: http.StatusUnauthorized, body: `{"code":"unauthorized","error":"expired"}`, wantErr: core.ErrInvalidCredentials, notErr: core.ErrChatNotFound},
		{name: "unexpected client error", status: http.StatusTeapot, body: `{}`, wantErr: core.ErrParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			_, err := gw.FetchChat(context.Background(), Token{Value: "t"}, "19:group1")
			require.ErrorIs(t, err, tt.wantErr)
			if tt.notErr != nil {
				require.NotErrorIs(t, err, tt.notErr)
			}
		})
	}
}

func TestFetchContactNotFound(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, proto.Error{Code: core.ErrCodeContactNotFound, Msg: "no such user"})
	}))

	_, err := gw.FetchContact(context.Background(), Token{Value: "t"}, "nobody")
	require.ErrorIs(t, err, core.ErrContactNotFound)
	require.NotErrorIs(t, err, core.ErrParse)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("a", 199) + "ж" + "tail"
	got := truncate(s, 200)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, strings.Repeat("a", 199)+"...", got)
	require.Equal(t, "short", truncate("short", 200))
}

func TestUnreachableServiceIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	gw, err := NewHTTP(HTTPConfig{BaseURL: baseURL, RequestTimeout: time.Second})
	require.NoError(t, err)

	_, err = gw.Subscribe(context.Background(), Token{Value: "t"})
	require.ErrorIs(t, err, core.ErrConnection)
	require.True(t, core.IsTransient(err))
}

func TestLongPollSendsCursorAndDecodesEvents(t *testing.T) {
	req := require.New(t)
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			writeJSON(w, http.StatusUnauthorized, proto.Error{Code: core.ErrCodeUnauthorized})
			return
		}
		if r.URL.Query().Get("cursor") != "41" || r.URL.Query().Get("timeout") != "1000" {
			writeJSON(w, http.StatusBadRequest, proto.Error{Code: core.ErrCodeBadRequest})
			return
		}
		writeJSON(w, http.StatusOK, proto.PollResponse{
			Cursor: "42",
			Events: []proto.RawEvent{{ID: "42", Type: proto.EventTypePresence, Resource: json.RawMessage(`{"username":"bob","presence":"Online"}`)}},
		})
	}))

	resp, err := gw.LongPoll(context.Background(), Token{Value: "tok"}, "41")
	req.NoError(err)
	req.Equal("42", resp.Cursor)
	req.Len(resp.Events, 1)
	req.Equal(proto.EventTypePresence, resp.Events[0].Type)

	_, err = gw.LongPoll(context.Background(), Token{Value: "other"}, "41")
	req.ErrorIs(err, core.ErrInvalidCredentials)
}

func TestLongPollMalformedBodyIsParseError(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"cursor": 5, "events": "nope"`))
	}))

	_, err := gw.LongPoll(context.Background(), Token{Value: "tok"}, "1")
	require.ErrorIs(t, err, core.ErrParse)
	require.False(t, core.IsTransient(err))
}

func TestLongPollKeepsCursorWhenServerOmitsIt(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, proto.PollResponse{})
	}))

	resp, err := gw.LongPoll(context.Background(), Token{Value: "tok"}, "7")
	require.NoError(t, err)
	require.Equal(t, "7", resp.Cursor)
	require.Empty(t, resp.Events)
}

func TestFetchChatEscapesIdentity(t *testing.T) {
	req := require.New(t)
	const id = "19:abc@thread"
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chats/"+id {
			writeJSON(w, http.StatusNotFound, proto.Error{Code: core.ErrCodeChatNotFound})
			return
		}
		writeJSON(w, http.StatusOK, proto.Chat{
			ID:      id,
			Topic:   "team",
			Members: []string{"alice", "bob"},
			Messages: []proto.MessageResource{
				{ID: "m1", ChatID: id, Sender: "bob", Body: "hi", TS: 1_700_000_000_000},
			},
		})
	}))

	data, err := gw.FetchChat(context.Background(), Token{Value: "t"}, id)
	req.NoError(err)
	req.Equal("team", data.Topic)
	req.Equal([]string{"alice", "bob"}, data.Members)
	req.Len(data.Messages, 1)
	req.Equal(time.UnixMilli(1_700_000_000_000).UTC(), data.Messages[0].SentAt)
}

func TestFetchChatRejectsMismatchedPayload(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, proto.Chat{ID: "19:other"})
	}))

	_, err := gw.FetchChat(context.Background(), Token{Value: "t"}, "19:group1")
	require.ErrorIs(t, err, core.ErrParse)
}

func TestNewHTTPRequiresBaseURL(t *testing.T) {
	_, err := NewHTTP(HTTPConfig{})
	require.Error(t, err)
}
