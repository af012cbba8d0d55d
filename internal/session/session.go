// Package session manages one authenticated account against the chat service.
//
// A Session moves through Unauthenticated, Authenticated, Subscribed and
// LoggedOut. Login obtains a token, Subscribe starts the background poll loop
// and Logout stops it and releases every cached entity. A LoggedOut session
// cannot be reused; create a new one.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/events"
	"github.com/vovakirdan/pollchat/internal/gateway"
	"github.com/vovakirdan/pollchat/internal/poller"
	"github.com/vovakirdan/pollchat/internal/proto"
	"github.com/vovakirdan/pollchat/internal/registry"
)

// DefaultShutdownTimeout bounds how long Logout waits for the poll loop.
const DefaultShutdownTimeout = 5 * time.Second

// Config holds the account and tuning for a Session.
type Config struct {
	Username string
	Password string
	// FetchTimeout bounds a shared chat or contact fetch.
	FetchTimeout time.Duration
	// ShutdownTimeout bounds how long Logout waits for the poll loop to exit.
	ShutdownTimeout time.Duration
	Poll            poller.Options
	Logger          *zerolog.Logger
}

// Session is one account's connection to the service. Safe for concurrent use.
type Session struct {
	gw       gateway.Gateway
	username string
	password string
	cfg      Config
	log      zerolog.Logger

	registry   *registry.Registry
	dispatcher *events.Dispatcher

	// opMu serializes Login and Subscribe; mu is never held across I/O.
	opMu   sync.Mutex
	mu     sync.Mutex
	state  State
	token  gateway.Token
	poller *poller.Poller
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an unauthenticated session for cfg.Username.
func New(gw gateway.Gateway, cfg Config) (*Session, error) {
	if gw == nil {
		return nil, errors.New("session: gateway is required")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("session: %w: username is required", core.ErrInvalidCredentials)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	l := zerolog.Nop()
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	l = l.With().Str("username", cfg.Username).Logger()

	s := &Session{
		gw:         gw,
		username:   cfg.Username,
		password:   cfg.Password,
		cfg:        cfg,
		log:        l.With().Str("component", "session").Logger(),
		dispatcher: events.NewDispatcher(&l),
	}
	s.registry = registry.New(fetcher{s}, cfg.FetchTimeout, &l)
	return s, nil
}

// Username returns the account name the session was created for.
func (s *Session) Username() string {
	return s.username
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TokenExpiry returns when the session token expires, or the zero time if
// unknown or not logged in.
func (s *Session) TokenExpiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.ExpiresAt
}

// Events returns the session's event dispatcher.
func (s *Session) Events() *events.Dispatcher {
	return s.dispatcher
}

// Login authenticates with the configured credentials. On failure the session
// stays Unauthenticated and Login may be retried.
func (s *Session) Login(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case StateLoggedOut:
		return core.ErrLoggedOut
	case StateAuthenticated, StateSubscribed:
		return nil
	}

	token, err := s.gw.Authenticate(ctx, s.username, s.password)
	if err != nil {
		s.log.Warn().Err(err).Msg("login failed")
		return err
	}
	if token.Username == "" {
		token.Username = s.username
	}

	s.mu.Lock()
	if s.state == StateLoggedOut {
		s.mu.Unlock()
		s.log.Info().Msg("logged out during login, releasing token")
		if err := s.gw.Logout(context.WithoutCancel(ctx), token); err != nil {
			s.log.Warn().Err(err).Msg("server logout failed")
		}
		return core.ErrLoggedOut
	}
	s.token = token
	s.state = StateAuthenticated
	s.mu.Unlock()

	s.log.Info().Msg("logged in")
	return nil
}

// Subscribe registers for events and starts the poll loop. On failure the
// session stays Authenticated.
func (s *Session) Subscribe(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	state, token := s.state, s.token
	s.mu.Unlock()
	switch state {
	case StateUnauthenticated:
		return core.ErrNotAuthenticated
	case StateSubscribed:
		return core.ErrAlreadySubscribed
	case StateLoggedOut:
		return core.ErrLoggedOut
	}

	cursor, err := s.gw.Subscribe(ctx, token)
	if err != nil {
		s.log.Warn().Err(err).Msg("subscribe failed")
		return err
	}

	source := poller.SourceFunc(func(ctx context.Context, cursor string) (*proto.PollResponse, error) {
		return s.gw.LongPoll(ctx, token, cursor)
	})
	p := poller.New(source, s.registry, s.dispatcher, s.cfg.Poll, &s.log)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return core.ErrLoggedOut
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.poller = p
	s.cancel = cancel
	s.done = done
	s.state = StateSubscribed

	go func() {
		defer close(done)
		if err := p.Run(loopCtx, cursor); err != nil {
			s.invalidate(p, err)
		}
	}()

	s.log.Info().Str("cursor", cursor).Msg("subscribed")
	return nil
}

// invalidate logs the session out locally after the poll loop failed for good.
func (s *Session) invalidate(p *poller.Poller, cause error) {
	s.mu.Lock()
	if s.state != StateSubscribed || s.poller != p {
		s.mu.Unlock()
		return
	}
	s.state = StateLoggedOut
	s.token = gateway.Token{}
	s.cancel()
	s.mu.Unlock()

	s.log.Error().Err(cause).Msg("session invalidated")
	s.registry.Reset()
	s.dispatcher.Close()
}

// Logout stops the poll loop, invalidates the token on the service and drops
// all cached state. The session is LoggedOut afterwards even if the service
// call fails; that failure is returned. Calling Logout again is a no-op.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateLoggedOut {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLoggedOut
	token := s.token
	s.token = gateway.Token{}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		timer := time.NewTimer(s.cfg.ShutdownTimeout)
		select {
		case <-done:
		case <-timer.C:
			s.log.Warn().Dur("timeout", s.cfg.ShutdownTimeout).Msg("poll loop did not stop in time")
		case <-ctx.Done():
		}
		timer.Stop()
	}

	var err error
	if token.Valid() {
		if err = s.gw.Logout(ctx, token); err != nil {
			s.log.Warn().Err(err).Msg("server logout failed")
			err = fmt.Errorf("logout: %w", err)
		}
	}

	s.registry.Reset()
	s.dispatcher.Close()
	s.log.Info().Msg("logged out")
	return err
}

// currentToken returns the token if the session may talk to the service.
func (s *Session) currentToken() (gateway.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateUnauthenticated:
		return gateway.Token{}, core.ErrNotAuthenticated
	case StateLoggedOut:
		return gateway.Token{}, core.ErrLoggedOut
	}
	return s.token, nil
}

// Chat returns a cached chat without contacting the service.
func (s *Session) Chat(id string) (*core.Chat, bool) {
	return s.registry.Chat(id)
}

// Contact returns a cached contact without contacting the service.
func (s *Session) Contact(username string) (*core.Contact, bool) {
	return s.registry.Contact(username)
}

// Chats returns a snapshot of every cached chat.
func (s *Session) Chats() []*core.Chat {
	return s.registry.Chats()
}

// Contacts returns a snapshot of every cached contact.
func (s *Session) Contacts() []*core.Contact {
	return s.registry.Contacts()
}

// LoadChat fetches a chat from the service, refreshing any cached copy.
func (s *Session) LoadChat(ctx context.Context, id string) (*core.Chat, error) {
	if _, err := s.currentToken(); err != nil {
		return nil, err
	}
	return s.registry.LoadChat(ctx, id)
}

// GetOrLoadChat returns the cached chat or fetches it once.
func (s *Session) GetOrLoadChat(ctx context.Context, id string) (*core.Chat, error) {
	if _, err := s.currentToken(); err != nil {
		return nil, err
	}
	return s.registry.GetOrLoadChat(ctx, id)
}

// LoadContact fetches a contact from the service, refreshing any cached copy.
func (s *Session) LoadContact(ctx context.Context, username string) (*core.Contact, error) {
	if _, err := s.currentToken(); err != nil {
		return nil, err
	}
	return s.registry.LoadContact(ctx, username)
}

// GetOrLoadContact returns the cached contact or fetches it once.
func (s *Session) GetOrLoadContact(ctx context.Context, username string) (*core.Contact, error) {
	if _, err := s.currentToken(); err != nil {
		return nil, err
	}
	return s.registry.GetOrLoadContact(ctx, username)
}

// CreateGroupChat creates a group chat with the session user and contacts.
func (s *Session) CreateGroupChat(ctx context.Context, contacts ...string) (*core.Chat, error) {
	contacts = lo.Compact(contacts)
	if len(contacts) == 0 {
		return nil, core.ErrNoContacts
	}
	token, err := s.currentToken()
	if err != nil {
		return nil, err
	}

	members := lo.Uniq(append([]string{s.username}, contacts...))
	data, err := s.gw.CreateChat(ctx, token, members)
	if err != nil {
		return nil, err
	}
	if kind, err := core.KindOf(data.ID); err != nil || kind != core.GroupChat {
		return nil, fmt.Errorf("create group chat: %w: service returned %q", core.ErrParse, data.ID)
	}

	chat, err := s.registry.InsertChat(data)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("chat", chat.ID()).Strs("members", members).Msg("group chat created")
	return chat, nil
}

// SendMessage posts body to chatID and records the stored message in the
// cached chat. The poll loop's later copy of the same message is ignored.
func (s *Session) SendMessage(ctx context.Context, chatID, body string) (core.Message, error) {
	token, err := s.currentToken()
	if err != nil {
		return core.Message{}, err
	}
	chat, err := s.registry.EnsureChat(chatID)
	if err != nil {
		return core.Message{}, err
	}

	msg, err := s.gw.SendMessage(ctx, token, chatID, body, uuid.NewString())
	if err != nil {
		return core.Message{}, err
	}
	if msg.Sender == "" {
		msg.Sender = s.username
	}
	chat.AppendMessage(msg)
	stored, _ := chat.Message(msg.ID)
	return stored, nil
}

// fetcher binds the registry's fetches to the session token.
type fetcher struct {
	s *Session
}

func (f fetcher) FetchChat(ctx context.Context, id string) (core.ChatData, error) {
	token, err := f.s.currentToken()
	if err != nil {
		return core.ChatData{}, err
	}
	return f.s.gw.FetchChat(ctx, token, id)
}

func (f fetcher) FetchContact(ctx context.Context, username string) (core.ContactData, error) {
	token, err := f.s.currentToken()
	if err != nil {
		return core.ContactData{}, err
	}
	return f.s.gw.FetchContact(ctx, token, username)
}
