package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/events"
	"github.com/vovakirdan/pollchat/internal/gateway"
	"github.com/vovakirdan/pollchat/internal/mocks"
	"github.com/vovakirdan/pollchat/internal/poller"
	"github.com/vovakirdan/pollchat/internal/proto"
)

var testToken = gateway.Token{Value: "tok-alice", Username: "alice", ExpiresAt: time.Unix(2_000_000_000, 0)}

func newTestSession(t *testing.T) (*Session, *mocks.MockGateway) {
	t.Helper()
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	s, err := New(gw, Config{
		Username:        "alice",
		Password:        "secret",
		ShutdownTimeout: time.Second,
		Poll: poller.Options{
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	return s, gw
}

func loggedIn(t *testing.T) (*Session, *mocks.MockGateway) {
	t.Helper()
	s, gw := newTestSession(t)
	gw.EXPECT().Authenticate(gomock.Any(), "alice", "secret").Return(testToken, nil)
	require.NoError(t, s.Login(context.Background()))
	return s, gw
}

func blockUntilCancelled(ctx context.Context, _ gateway.Token, _ string) (*proto.PollResponse, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %w", core.ErrConnection, ctx.Err())
}

func messageEvent(t *testing.T, eventID, msgID, chatID, body string) proto.RawEvent {
	t.Helper()
	b, err := json.Marshal(proto.MessageResource{ID: msgID, ChatID: chatID, Sender: "bob", Body: body, TS: 1000})
	require.NoError(t, err)
	return proto.RawEvent{ID: eventID, Type: proto.EventTypeMessage, Resource: b}
}

func TestNewRequiresUsername(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, err := New(mocks.NewMockGateway(ctrl), Config{})
	require.ErrorIs(t, err, core.ErrInvalidCredentials)
}

func TestLogin(t *testing.T) {
	t.Run("success moves to authenticated", func(t *testing.T) {
		req := require.New(t)
		s, _ := loggedIn(t)

		req.Equal(StateAuthenticated, s.State())
		req.Equal("alice", s.Username())
		req.Equal(testToken.ExpiresAt, s.TokenExpiry())
	})

	t.Run("rejected credentials stay unauthenticated", func(t *testing.T) {
		req := require.New(t)
		s, gw := newTestSession(t)
		gw.EXPECT().Authenticate(gomock.Any(), "alice", "secret").
			Return(gateway.Token{}, fmt.Errorf("login: %w", core.ErrInvalidCredentials))

		err := s.Login(context.Background())
		req.ErrorIs(err, core.ErrInvalidCredentials)
		req.Equal(StateUnauthenticated, s.State())
	})

	t.Run("captcha is a credentials error", func(t *testing.T) {
		req := require.New(t)
		s, gw := newTestSession(t)
		gw.EXPECT().Authenticate(gomock.Any(), gomock.Any(), gomock.Any()).Return(gateway.Token{}, core.ErrCaptchaRequired)

		err := s.Login(context.Background())
		req.ErrorIs(err, core.ErrCaptchaRequired)
		req.ErrorIs(err, core.ErrInvalidCredentials)
	})

	t.Run("transient failure can be retried", func(t *testing.T) {
		req := require.New(t)
		s, gw := newTestSession(t)
		gomock.InOrder(
			gw.EXPECT().Authenticate(gomock.Any(), "alice", "secret").Return(gateway.Token{}, core.ErrConnection),
			gw.EXPECT().Authenticate(gomock.Any(), "alice", "secret").Return(testToken, nil),
		)

		req.ErrorIs(s.Login(context.Background()), core.ErrConnection)
		req.NoError(s.Login(context.Background()))
		req.Equal(StateAuthenticated, s.State())
	})
}

func TestLogoutDuringLoginDoesNotBlock(t *testing.T) {
	req := require.New(t)
	s, gw := newTestSession(t)
	release := make(chan struct{})
	entered := make(chan struct{})
	gw.EXPECT().Authenticate(gomock.Any(), "alice", "secret").DoAndReturn(
		func(context.Context, string, string) (gateway.Token, error) {
			close(entered)
			<-release
			return testToken, nil
		})
	gw.EXPECT().Logout(gomock.Any(), testToken).Return(nil)

	loginErr := make(chan error, 1)
	go func() { loginErr <- s.Login(context.Background()) }()
	<-entered

	// State reads and Logout must not wait for the authenticate call.
	stateRead := make(chan State, 1)
	go func() { stateRead <- s.State() }()
	select {
	case st := <-stateRead:
		req.Equal(StateUnauthenticated, st)
	case <-time.After(time.Second):
		t.Fatal("State blocked behind Login")
	}
	req.NoError(s.Logout(context.Background()))

	close(release)
	req.ErrorIs(<-loginErr, core.ErrLoggedOut)
	req.Equal(StateLoggedOut, s.State())
	req.True(s.TokenExpiry().IsZero())
}

func TestLogoutDuringSubscribeDoesNotStartLoop(t *testing.T) {
	req := require.New(t)
	s, gw := loggedIn(t)
	release := make(chan struct{})
	entered := make(chan struct{})
	gw.EXPECT().Subscribe(gomock.Any(), testToken).DoAndReturn(
		func(context.Context, gateway.Token) (string, error) {
			close(entered)
			<-release
			return "1", nil
		})
	gw.EXPECT().Logout(gomock.Any(), testToken).Return(nil)

	subErr := make(chan error, 1)
	go func() { subErr <- s.Subscribe(context.Background()) }()
	<-entered

	req.NoError(s.Logout(context.Background()))
	close(release)
	req.ErrorIs(<-subErr, core.ErrLoggedOut)
	req.Equal(StateLoggedOut, s.State())
}

func TestOperationsRequireLogin(t *testing.T) {
	req := require.New(t)
	s, _ := newTestSession(t)
	ctx := context.Background()

	req.ErrorIs(s.Subscribe(ctx), core.ErrNotAuthenticated)
	_, err := s.GetOrLoadChat(ctx, "19:team")
	req.ErrorIs(err, core.ErrNotAuthenticated)
	_, err = s.CreateGroupChat(ctx, "bob")
	req.ErrorIs(err, core.ErrNotAuthenticated)

	_, ok := s.Chat("19:team")
	req.False(ok)
	req.Empty(s.Chats())
}

func TestSubscribeFailureStaysAuthenticated(t *testing.T) {
	req := require.New(t)
	s, gw := loggedIn(t)
	gw.EXPECT().Subscribe(gomock.Any(), testToken).Return("", core.ErrConnection)

	req.ErrorIs(s.Subscribe(context.Background()), core.ErrConnection)
	req.Equal(StateAuthenticated, s.State())
}

func TestSubscribePollAndLogout(t *testing.T) {
	req := require.New(t)
	s, gw := loggedIn(t)
	ctx := context.Background()

	gw.EXPECT().Subscribe(gomock.Any(), testToken).Return("c0", nil)
	gw.EXPECT().LongPoll(gomock.Any(), testToken, "c0").Return(&proto.PollResponse{
		Cursor: "c1",
		Events: []proto.RawEvent{messageEvent(t, "e1", "m1", "19:team", "hello")},
	}, nil)
	gw.EXPECT().LongPoll(gomock.Any(), testToken, "c1").DoAndReturn(blockUntilCancelled).AnyTimes()
	gw.EXPECT().Logout(gomock.Any(), testToken).Return(nil).Times(1)

	received := make(chan core.Event, 1)
	s.Events().RegisterListener(events.ListenerFuncs{
		MessageReceived: func(ctx context.Context, ev core.Event) error {
			received <- ev
			return nil
		},
	})

	req.NoError(s.Subscribe(ctx))
	req.Equal(StateSubscribed, s.State())
	req.ErrorIs(s.Subscribe(ctx), core.ErrAlreadySubscribed)

	select {
	case ev := <-received:
		req.Equal("hello", ev.Message.Body)
		chat, ok := s.Chat("19:team")
		req.True(ok)
		req.Same(chat, ev.Chat)
	case <-time.After(2 * time.Second):
		t.Fatalf("message event was not delivered")
	}

	req.NoError(s.Logout(ctx))
	req.Equal(StateLoggedOut, s.State())
	req.Empty(s.Chats())
	req.Empty(s.Contacts())
	req.Zero(s.Events().Count(core.EventMessageReceived))

	req.NoError(s.Logout(ctx), "second logout is a no-op")
	req.ErrorIs(s.Login(ctx), core.ErrLoggedOut)
	_, err := s.LoadChat(ctx, "19:team")
	req.ErrorIs(err, core.ErrLoggedOut)
}

func TestLogoutServerFailureStillLogsOut(t *testing.T) {
	req := require.New(t)
	s, gw := loggedIn(t)
	gw.EXPECT().Logout(gomock.Any(), testToken).Return(fmt.Errorf("logout: %w: timeout", core.ErrConnection))

	err := s.Logout(context.Background())
	req.ErrorIs(err, core.ErrConnection)
	req.Equal(StateLoggedOut, s.State())
}

func TestLogoutBeforeLoginSkipsServer(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Logout(context.Background()))
	require.Equal(t, StateLoggedOut, s.State())
}

func TestRejectedTokenInvalidatesSession(t *testing.T) {
	req := require.New(t)
	s, gw := loggedIn(t)

	gw.EXPECT().Subscribe(gomock.Any(), testToken).Return("c0", nil)
	gw.EXPECT().LongPoll(gomock.Any(), testToken, "c0").Return(nil, fmt.Errorf("poll: %w", core.ErrInvalidCredentials))

	connErr := make(chan error, 1)
	s.Events().Register(core.EventConnectionError, func(ctx context.Context, ev core.Event) error {
		connErr <- ev.Err
		return nil
	})

	req.NoError(s.Subscribe(context.Background()))

	select {
	case err := <-connErr:
		req.ErrorIs(err, core.ErrInvalidCredentials)
	case <-time.After(2 * time.Second):
		t.Fatalf("connection error was not dispatched")
	}
	req.Eventually(func() bool { return s.State() == StateLoggedOut }, 2*time.Second, 10*time.Millisecond)

	req.NoError(s.Logout(context.Background()))
}

func TestConnectionErrorsKeepPolling(t *testing.T) {
	req := require.New(t)
	s, gw := loggedIn(t)

	gw.EXPECT().Subscribe(gomock.Any(), testToken).Return("c0", nil)
	gomock.InOrder(
		gw.EXPECT().LongPoll(gomock.Any(), testToken, "c0").Return(nil, core.ErrConnection).Times(3),
		gw.EXPECT().LongPoll(gomock.Any(), testToken, "c0").Return(&proto.PollResponse{
			Cursor: "c1",
			Events: []proto.RawEvent{messageEvent(t, "e1", "m1", "8:bob", "back online")},
		}, nil),
		gw.EXPECT().LongPoll(gomock.Any(), testToken, "c1").DoAndReturn(blockUntilCancelled).AnyTimes(),
	)
	gw.EXPECT().Logout(gomock.Any(), testToken).Return(nil)

	var mu sync.Mutex
	var kinds []core.EventKind
	got := make(chan struct{})
	s.Events().RegisterListener(events.ListenerFuncs{
		ConnectionError: func(ctx context.Context, ev core.Event) error {
			mu.Lock()
			kinds = append(kinds, ev.Kind)
			mu.Unlock()
			return nil
		},
		MessageReceived: func(ctx context.Context, ev core.Event) error {
			mu.Lock()
			kinds = append(kinds, ev.Kind)
			mu.Unlock()
			close(got)
			return nil
		},
	})

	req.NoError(s.Subscribe(context.Background()))
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatalf("poll loop did not recover")
	}
	req.Equal(StateSubscribed, s.State())
	req.NoError(s.Logout(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	req.Equal([]core.EventKind{core.EventConnectionError, core.EventMessageReceived}, kinds)
}

func TestGetOrLoadChatSingleFlight(t *testing.T) {
	req := require.New(t)
	s, gw := loggedIn(t)

	gw.EXPECT().FetchChat(gomock.Any(), testToken, "19:team").
		DoAndReturn(func(ctx context.Context, _ gateway.Token, id string) (core.ChatData, error) {
			time.Sleep(50 * time.Millisecond)
			return core.ChatData{ID: id, Topic: "team", Members: []string{"alice", "bob"}}, nil
		}).Times(1)

	const callers = 8
	chats := make([]*core.Chat, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			c, err := s.GetOrLoadChat(context.Background(), "19:team")
			chats[i] = c
			return err
		})
	}
	req.NoError(g.Wait())

	for _, c := range chats {
		req.Same(chats[0], c)
	}
	req.Equal("team", chats[0].Topic())
}

func TestLoadChatNotFound(t *testing.T) {
	req := require.New(t)
	s, gw := loggedIn(t)
	gw.EXPECT().FetchChat(gomock.Any(), testToken, "19:secret").Return(core.ChatData{}, core.ErrChatNotFound)

	_, err := s.LoadChat(context.Background(), "19:secret")
	req.ErrorIs(err, core.ErrChatNotFound)
	_, ok := s.Chat("19:secret")
	req.False(ok)
}

func TestContacts(t *testing.T) {
	req := require.New(t)
	s, gw := loggedIn(t)
	gw.EXPECT().FetchContact(gomock.Any(), testToken, "bob").
		Return(core.ContactData{Username: "bob", DisplayName: "Bob", Presence: core.PresenceAway}, nil).Times(1)

	c, err := s.GetOrLoadContact(context.Background(), "bob")
	req.NoError(err)
	req.Equal(core.PresenceAway, c.Presence())

	again, err := s.GetOrLoadContact(context.Background(), "bob")
	req.NoError(err)
	req.Same(c, again)

	cached, ok := s.Contact("bob")
	req.True(ok)
	req.Same(c, cached)
	req.Len(s.Contacts(), 1)
}

func TestCreateGroupChat(t *testing.T) {
	t.Run("requires a contact", func(t *testing.T) {
		s, _ := loggedIn(t)
		_, err := s.CreateGroupChat(context.Background())
		require.ErrorIs(t, err, core.ErrNoContacts)
		_, err = s.CreateGroupChat(context.Background(), "")
		require.ErrorIs(t, err, core.ErrNoContacts)
	})

	t.Run("includes self once and caches the chat", func(t *testing.T) {
		req := require.New(t)
		s, gw := loggedIn(t)
		gw.EXPECT().CreateChat(gomock.Any(), testToken, []string{"alice", "bob", "carol"}).
			Return(core.ChatData{ID: "19:new@thread", Members: []string{"alice", "bob", "carol"}}, nil)

		chat, err := s.CreateGroupChat(context.Background(), "bob", "alice", "carol", "bob")
		req.NoError(err)
		req.Equal(core.GroupChat, chat.Kind())
		req.Equal([]string{"alice", "bob", "carol"}, chat.Members())

		cached, ok := s.Chat("19:new@thread")
		req.True(ok)
		req.Same(chat, cached)
	})

	t.Run("rejects a non-group identity", func(t *testing.T) {
		s, gw := loggedIn(t)
		gw.EXPECT().CreateChat(gomock.Any(), testToken, gomock.Any()).Return(core.ChatData{ID: "8:bob"}, nil)

		_, err := s.CreateGroupChat(context.Background(), "bob")
		require.ErrorIs(t, err, core.ErrParse)
		require.Empty(t, s.Chats())
	})
}

func TestSendMessageIsNotDuplicatedByPollEcho(t *testing.T) {
	req := require.New(t)
	s, gw := loggedIn(t)
	ctx := context.Background()

	gw.EXPECT().SendMessage(gomock.Any(), testToken, "8:bob", "hi bob", gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ gateway.Token, chatID, body, clientID string) (core.Message, error) {
			if clientID == "" {
				return core.Message{}, fmt.Errorf("missing client id")
			}
			return core.Message{ID: "m1", ClientID: clientID, ChatID: chatID, Sender: "alice", Body: body}, nil
		})
	gw.EXPECT().Subscribe(gomock.Any(), testToken).Return("c0", nil)
	gw.EXPECT().LongPoll(gomock.Any(), testToken, "c0").Return(&proto.PollResponse{
		Cursor: "c1",
		Events: []proto.RawEvent{
			messageEvent(t, "e1", "m1", "8:bob", "hi bob"),
			messageEvent(t, "e2", "m2", "8:bob", "hi alice"),
		},
	}, nil)
	gw.EXPECT().LongPoll(gomock.Any(), testToken, "c1").DoAndReturn(blockUntilCancelled).AnyTimes()
	gw.EXPECT().Logout(gomock.Any(), testToken).Return(nil)

	msg, err := s.SendMessage(ctx, "8:bob", "hi bob")
	req.NoError(err)
	req.Equal("m1", msg.ID)
	req.NotEmpty(msg.ClientID)

	received := make(chan string, 2)
	s.Events().Register(core.EventMessageReceived, func(ctx context.Context, ev core.Event) error {
		received <- ev.Message.ID
		return nil
	})
	req.NoError(s.Subscribe(ctx))

	select {
	case id := <-received:
		req.Equal("m2", id)
	case <-time.After(2 * time.Second):
		t.Fatalf("reply was not delivered")
	}
	req.NoError(s.Logout(ctx))
	req.Empty(received)
}
