package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/pollchat/internal/config"
	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/gateway"
	"github.com/vovakirdan/pollchat/internal/poller"
	"github.com/vovakirdan/pollchat/internal/proto"
	"github.com/vovakirdan/pollchat/internal/session"
)

// startEmulator runs chatsim in-process on an in-memory database.
func startEmulator(t *testing.T) string {
	t.Helper()

	cfg := config.Default().Server
	cfg.DBPath = ":memory:"
	cfg.MaxPollTimeout = time.Second
	cfg.LoginRateLimit = 0

	logger := zerolog.Nop()
	a, err := New(cfg, &logger)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ts := httptest.NewServer(a.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func registerAccount(t *testing.T, baseURL, username string) {
	t.Helper()

	body, err := json.Marshal(proto.RegisterRequest{Username: username, Password: "password123"})
	require.NoError(t, err)
	resp, err := http.Post(baseURL+"/api/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func newSession(t *testing.T, baseURL, username, password string) *session.Session {
	t.Helper()

	gw, err := gateway.NewHTTP(gateway.HTTPConfig{
		BaseURL:        baseURL,
		RequestTimeout: 2 * time.Second,
		PollTimeout:    200 * time.Millisecond,
	})
	require.NoError(t, err)

	s, err := session.New(gw, session.Config{
		Username: username,
		Password: password,
		Poll: poller.Options{
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     50 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Logout(context.Background()) })
	return s
}

func collect(s *session.Session, kind core.EventKind) <-chan core.Event {
	ch := make(chan core.Event, 16)
	s.Events().Register(kind, func(_ context.Context, ev core.Event) error {
		ch <- ev
		return nil
	})
	return ch
}

func next(t *testing.T, ch <-chan core.Event) core.Event {
	t.Helper()

	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return core.Event{}
	}
}

func TestSessionAgainstEmulator(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	baseURL := startEmulator(t)
	registerAccount(t, baseURL, "alice")
	registerAccount(t, baseURL, "bob")

	wrong := newSession(t, baseURL, "alice", "nope")
	r.ErrorIs(wrong.Login(ctx), core.ErrInvalidCredentials)

	alice := newSession(t, baseURL, "alice", "password123")
	bob := newSession(t, baseURL, "bob", "password123")
	r.NoError(alice.Login(ctx))
	r.NoError(bob.Login(ctx))
	r.False(bob.TokenExpiry().IsZero(), "emulator tokens carry an expiry")

	bobMessages := collect(bob, core.EventMessageReceived)
	bobMembership := collect(bob, core.EventChatMembershipChanged)
	r.NoError(bob.Subscribe(ctx))
	r.NoError(alice.Subscribe(ctx))

	// Direct message: each side addresses the other's username.
	sent, err := alice.SendMessage(ctx, "8:bob", "hello bob")
	r.NoError(err)
	r.Equal("8:bob", sent.ChatID)

	ev := next(t, bobMessages)
	r.Equal("hello bob", ev.Message.Body)
	r.Equal("8:alice", ev.Chat.ID())
	chat, ok := bob.Chat("8:alice")
	r.True(ok)
	_, ok = chat.Message(sent.ID)
	r.True(ok, "the event is applied to the registry before listeners run")

	// The sender's copy is in place already; the poll echo must not duplicate it.
	aliceChat, ok := alice.Chat("8:bob")
	r.True(ok)
	r.Len(aliceChat.Messages(), 1)

	// Group chat created by alice shows up for bob through the poll.
	group, err := alice.CreateGroupChat(ctx, "bob")
	r.NoError(err)
	r.True(strings.HasPrefix(group.ID(), core.GroupPrefix))

	joined := next(t, bobMembership)
	r.Equal(group.ID(), joined.Chat.ID())
	r.Equal("bob", joined.Member)
	r.True(joined.Joined)

	loaded, err := bob.LoadChat(ctx, group.ID())
	r.NoError(err)
	r.ElementsMatch([]string{"alice", "bob"}, loaded.Members())

	// The REST surface refuses anonymous callers.
	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/chats/8:nobody", nil)
	r.NoError(err)
	resp, err := http.DefaultClient.Do(req)
	r.NoError(err)
	resp.Body.Close()
	r.Equal(http.StatusUnauthorized, resp.StatusCode)

	_, err = bob.GetOrLoadChat(ctx, "8:nobody")
	r.ErrorIs(err, core.ErrChatNotFound)

	contact, err := bob.GetOrLoadContact(ctx, "alice")
	r.NoError(err)
	r.Equal(core.PresenceOffline, contact.Presence())
	_, err = bob.LoadContact(ctx, "nobody")
	r.ErrorIs(err, core.ErrContactNotFound)

	r.NoError(alice.Logout(ctx))
	r.Equal(session.StateLoggedOut, alice.State())
	r.NoError(bob.Logout(ctx))
	r.Equal(session.StateLoggedOut, bob.State())
}
