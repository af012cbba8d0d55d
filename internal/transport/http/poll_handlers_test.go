package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/vovakirdan/pollchat/internal/config"
	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/proto"
)

func TestEndpointsAndPoll(t *testing.T) {
	srv := createTestServer(t, nil)
	alice := srv.register(t, "alice")
	bob := srv.register(t, "bob")

	resp := srv.do(t, http.MethodPost, "/api/endpoints", bob, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	sub := decodeBody[proto.SubscribeResponse](t, resp)
	if sub.Protocol != proto.ProtocolVersion || sub.Cursor != "0" {
		t.Fatalf("unexpected handshake %+v", sub)
	}

	srv.do(t, http.MethodPost, "/api/chats/8:bob/messages", alice, proto.SendMessageRequest{Body: "ping"})

	resp = srv.do(t, http.MethodGet, "/api/poll?cursor="+sub.Cursor+"&timeout=50", bob, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	poll := decodeBody[proto.PollResponse](t, resp)
	if len(poll.Events) != 1 || poll.Events[0].Type != proto.EventTypeMessage {
		t.Fatalf("unexpected poll %+v", poll)
	}
	var msg proto.MessageResource
	if err := json.Unmarshal(poll.Events[0].Resource, &msg); err != nil {
		t.Fatalf("decode resource: %v", err)
	}
	if msg.ChatID != "8:alice" || msg.Body != "ping" {
		t.Fatalf("unexpected message %+v", msg)
	}

	// Nothing new: the poll times out with the same cursor.
	start := time.Now()
	resp = srv.do(t, http.MethodGet, "/api/poll?cursor="+poll.Cursor+"&timeout=50", bob, nil)
	empty := decodeBody[proto.PollResponse](t, resp)
	if len(empty.Events) != 0 || empty.Cursor != poll.Cursor {
		t.Fatalf("expected empty poll at %s, got %+v", poll.Cursor, empty)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("poll returned too early: %v", elapsed)
	}
}

func TestPollTimeoutIsCapped(t *testing.T) {
	srv := createTestServer(t, func(cfg *config.ServerConfig) { cfg.MaxPollTimeout = 50 * time.Millisecond })
	alice := srv.register(t, "alice")

	start := time.Now()
	resp := srv.do(t, http.MethodGet, "/api/poll?cursor=0&timeout=60000", alice, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("poll should be capped by the server, took %v", elapsed)
	}
}

func TestPollWakesOnMessage(t *testing.T) {
	srv := createTestServer(t, nil)
	alice := srv.register(t, "alice")
	bob := srv.register(t, "bob")

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- srv.do(t, http.MethodGet, "/api/poll?cursor=0&timeout=2000", bob, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	srv.do(t, http.MethodPost, "/api/chats/8:bob/messages", alice, proto.SendMessageRequest{Body: "wake"})

	select {
	case resp := <-done:
		poll := decodeBody[proto.PollResponse](t, resp)
		if len(poll.Events) != 1 {
			t.Fatalf("expected one event, got %+v", poll)
		}
		if seq, err := strconv.Atoi(poll.Cursor); err != nil || seq == 0 {
			t.Fatalf("unexpected cursor %q", poll.Cursor)
		}
	case <-time.After(time.Second):
		t.Fatal("poll did not return after the message")
	}
}

func TestPollRejectsBadParameters(t *testing.T) {
	srv := createTestServer(t, nil)
	alice := srv.register(t, "alice")

	resp := srv.do(t, http.MethodGet, "/api/poll?cursor=abc&timeout=10", alice, nil)
	expectError(t, resp, http.StatusBadRequest, core.ErrCodeBadRequest)

	resp = srv.do(t, http.MethodGet, "/api/poll?cursor=0&timeout=-5", alice, nil)
	expectError(t, resp, http.StatusBadRequest, core.ErrCodeBadRequest)
}
