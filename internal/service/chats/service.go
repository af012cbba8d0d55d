// Package chats holds the emulator's conversation logic: chat identities,
// message fan-out and the per-user event logs read by long polls.
package chats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/proto"
	"github.com/vovakirdan/pollchat/internal/store"
)

// Common errors for chat operations.
var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrContactNotFound = errors.New("contact not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotAuthor       = errors.New("only the author can edit a message")
	ErrNotGroup        = errors.New("operation requires a group chat")
	ErrInvalidRequest  = errors.New("invalid request")
)

const (
	// DefaultHistoryLimit is the number of messages returned with a chat.
	DefaultHistoryLimit = 50
	// DefaultPollBatch caps the events returned by one poll.
	DefaultPollBatch = 100

	directKeyPrefix = "dm:"
)

// Viewer is the authenticated caller of an operation.
type Viewer struct {
	ID       int64
	Username string
}

// Service provides chat business logic.
type Service struct {
	store        store.Store
	notifier     *Notifier
	historyLimit int
	pollBatch    int
	log          zerolog.Logger
}

// New creates a new chat Service.
func New(st store.Store, logger *zerolog.Logger) *Service {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "chats").Logger()
	}
	return &Service{
		store:        st,
		notifier:     NewNotifier(),
		historyLimit: DefaultHistoryLimit,
		pollBatch:    DefaultPollBatch,
		log:          l,
	}
}

// Subscribe returns the handshake cursor: the head of the viewer's event log.
func (s *Service) Subscribe(ctx context.Context, viewer Viewer) (proto.SubscribeResponse, error) {
	head, err := s.store.HeadSeq(ctx, viewer.ID)
	if err != nil {
		return proto.SubscribeResponse{}, fmt.Errorf("head seq: %w", err)
	}
	return proto.SubscribeResponse{
		Cursor:   strconv.FormatInt(head, 10),
		Protocol: proto.ProtocolVersion,
	}, nil
}

// Poll returns the events after cursor, holding the call for up to timeout
// while the log is empty. An empty cursor starts from the current head.
func (s *Service) Poll(ctx context.Context, viewer Viewer, cursor string, timeout time.Duration) (proto.PollResponse, error) {
	after, err := s.parseCursor(ctx, viewer, cursor)
	if err != nil {
		return proto.PollResponse{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	resp := proto.PollResponse{Cursor: strconv.FormatInt(after, 10), Events: []proto.RawEvent{}}
	for {
		wake := s.notifier.Wait(viewer.ID)

		events, err := s.store.ListEvents(ctx, viewer.ID, after, s.pollBatch)
		if err != nil {
			return proto.PollResponse{}, fmt.Errorf("list events: %w", err)
		}
		if len(events) > 0 {
			for _, ev := range events {
				resp.Events = append(resp.Events, proto.RawEvent{
					ID:       strconv.FormatInt(ev.Seq, 10),
					Type:     ev.Type,
					Time:     ev.CreatedAt.UnixMilli(),
					Resource: json.RawMessage(ev.Payload),
				})
			}
			resp.Cursor = strconv.FormatInt(events[len(events)-1].Seq, 10)
			return resp, nil
		}

		select {
		case <-wake:
		case <-timer.C:
			return resp, nil
		case <-ctx.Done():
			return resp, ctx.Err()
		}
	}
}

func (s *Service) parseCursor(ctx context.Context, viewer Viewer, cursor string) (int64, error) {
	if cursor == "" {
		head, err := s.store.HeadSeq(ctx, viewer.ID)
		if err != nil {
			return 0, fmt.Errorf("head seq: %w", err)
		}
		return head, nil
	}
	after, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || after < 0 {
		return 0, fmt.Errorf("%w: cursor %q", ErrInvalidRequest, cursor)
	}
	return after, nil
}

// GetChat returns the chat as the viewer sees it. A direct chat with an
// existing account resolves even before the first message.
func (s *Service) GetChat(ctx context.Context, viewer Viewer, chatID string) (proto.Chat, error) {
	ref, err := s.resolve(ctx, viewer, chatID)
	if err != nil {
		return proto.Chat{}, err
	}
	if ref.chat == nil {
		return proto.Chat{
			ID:       chatID,
			Members:  []string{viewer.Username, ref.peer.Username},
			Messages: []proto.MessageResource{},
		}, nil
	}

	members, err := s.store.ListMembers(ctx, ref.chat.ID)
	if err != nil {
		return proto.Chat{}, fmt.Errorf("list members: %w", err)
	}
	messages, err := s.store.ListMessages(ctx, ref.chat.ID, s.historyLimit)
	if err != nil {
		return proto.Chat{}, fmt.Errorf("list messages: %w", err)
	}

	return proto.Chat{
		ID:      chatID,
		Topic:   ref.chat.Topic,
		Members: lo.Map(members, func(u *store.User, _ int) string { return u.Username }),
		Messages: lo.Map(messages, func(m *store.Message, _ int) proto.MessageResource {
			return messageResource(m, chatID)
		}),
	}, nil
}

// CreateGroup creates a group chat with the viewer and the given contacts.
func (s *Service) CreateGroup(ctx context.Context, viewer Viewer, usernames []string, topic string) (proto.Chat, error) {
	usernames = lo.Without(lo.Uniq(lo.Compact(usernames)), viewer.Username)
	if len(usernames) == 0 {
		return proto.Chat{}, fmt.Errorf("%w: no members", ErrInvalidRequest)
	}

	creator, err := s.store.GetUserByID(ctx, viewer.ID)
	if err != nil {
		return proto.Chat{}, fmt.Errorf("load viewer: %w", err)
	}
	members := []*store.User{creator}
	for _, name := range usernames {
		user, err := s.lookupUser(ctx, name)
		if err != nil {
			return proto.Chat{}, err
		}
		members = append(members, user)
	}

	id := core.GroupPrefix + uuid.NewString() + "@thread"
	ids := lo.Map(members, func(u *store.User, _ int) int64 { return u.ID })
	if _, err := s.store.CreateChat(ctx, id, store.ChatKindGroup, topic, ids); err != nil {
		return proto.Chat{}, fmt.Errorf("create chat: %w", err)
	}

	var batch []*store.Event
	for _, joined := range members[1:] {
		res := proto.MembershipResource{ChatID: id, Username: joined.Username, Joined: true}
		more, err := s.render(proto.EventTypeMembership, members, func(*store.User) any { return res })
		if err != nil {
			return proto.Chat{}, err
		}
		batch = append(batch, more...)
	}
	if err := s.publish(ctx, batch); err != nil {
		return proto.Chat{}, err
	}

	s.log.Info().Str("chat", id).Str("creator", viewer.Username).Int("members", len(members)).Msg("group created")

	return proto.Chat{
		ID:       id,
		Topic:    topic,
		Members:  lo.Map(members, func(u *store.User, _ int) string { return u.Username }),
		Messages: []proto.MessageResource{},
	}, nil
}

// SendMessage stores a message and delivers it to every member of the chat.
// The first message to "8:{user}" creates the direct chat.
func (s *Service) SendMessage(ctx context.Context, viewer Viewer, chatID, body, clientID string) (proto.MessageResource, error) {
	if strings.TrimSpace(body) == "" {
		return proto.MessageResource{}, fmt.Errorf("%w: empty body", ErrInvalidRequest)
	}

	ref, err := s.resolve(ctx, viewer, chatID)
	if err != nil {
		return proto.MessageResource{}, err
	}
	if ref.chat == nil {
		ref.chat, err = s.createDirect(ctx, viewer, ref.peer)
		if err != nil {
			return proto.MessageResource{}, err
		}
	}

	msg := &store.Message{
		ChatID:    ref.chat.ID,
		UserID:    viewer.ID,
		Sender:    viewer.Username,
		ClientID:  clientID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return proto.MessageResource{}, fmt.Errorf("save message: %w", err)
	}

	members, err := s.store.ListMembers(ctx, ref.chat.ID)
	if err != nil {
		return proto.MessageResource{}, fmt.Errorf("list members: %w", err)
	}
	batch, err := s.render(proto.EventTypeMessage, members, func(u *store.User) any {
		return messageResource(msg, viewID(ref.chat, u.Username))
	})
	if err != nil {
		return proto.MessageResource{}, err
	}
	if err := s.publish(ctx, batch); err != nil {
		return proto.MessageResource{}, err
	}

	return messageResource(msg, chatID), nil
}

// EditMessage replaces the body of one of the viewer's messages.
func (s *Service) EditMessage(ctx context.Context, viewer Viewer, chatID, messageID, body string) (proto.MessageResource, error) {
	if strings.TrimSpace(body) == "" {
		return proto.MessageResource{}, fmt.Errorf("%w: empty body", ErrInvalidRequest)
	}
	id, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return proto.MessageResource{}, fmt.Errorf("%w: message id %q", ErrMessageNotFound, messageID)
	}

	ref, err := s.resolve(ctx, viewer, chatID)
	if err != nil {
		return proto.MessageResource{}, err
	}
	if ref.chat == nil {
		return proto.MessageResource{}, ErrMessageNotFound
	}

	msg, err := s.store.GetMessage(ctx, ref.chat.ID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return proto.MessageResource{}, ErrMessageNotFound
		}
		return proto.MessageResource{}, fmt.Errorf("get message: %w", err)
	}
	if msg.UserID != viewer.ID {
		return proto.MessageResource{}, ErrNotAuthor
	}

	editedAt := time.Now().UTC()
	if err := s.store.EditMessage(ctx, ref.chat.ID, id, body, editedAt); err != nil {
		return proto.MessageResource{}, fmt.Errorf("edit message: %w", err)
	}
	msg.Body = body
	msg.EditedAt = &editedAt

	members, err := s.store.ListMembers(ctx, ref.chat.ID)
	if err != nil {
		return proto.MessageResource{}, fmt.Errorf("list members: %w", err)
	}
	batch, err := s.render(proto.EventTypeMessageEdit, members, func(u *store.User) any {
		return messageResource(msg, viewID(ref.chat, u.Username))
	})
	if err != nil {
		return proto.MessageResource{}, err
	}
	if err := s.publish(ctx, batch); err != nil {
		return proto.MessageResource{}, err
	}

	return messageResource(msg, chatID), nil
}

// SetTopic changes the topic of a group chat.
func (s *Service) SetTopic(ctx context.Context, viewer Viewer, chatID, topic string) error {
	chat, err := s.resolveGroup(ctx, viewer, chatID)
	if err != nil {
		return err
	}
	if chat.Topic == topic {
		return nil
	}
	if err := s.store.SetTopic(ctx, chat.ID, topic); err != nil {
		return fmt.Errorf("set topic: %w", err)
	}

	members, err := s.store.ListMembers(ctx, chat.ID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	res := proto.TopicResource{ChatID: chat.ID, Topic: topic, By: viewer.Username}
	batch, err := s.render(proto.EventTypeTopic, members, func(*store.User) any { return res })
	if err != nil {
		return err
	}
	return s.publish(ctx, batch)
}

// AddMember adds a user to a group chat the viewer belongs to.
func (s *Service) AddMember(ctx context.Context, viewer Viewer, chatID, username string) error {
	chat, err := s.resolveGroup(ctx, viewer, chatID)
	if err != nil {
		return err
	}
	user, err := s.lookupUser(ctx, username)
	if err != nil {
		return err
	}

	added, err := s.store.AddMember(ctx, chat.ID, user.ID)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if !added {
		return nil
	}
	return s.publishMembership(ctx, chat.ID, user, true, nil)
}

// RemoveMember removes a user from a group chat. Removing yourself leaves the chat.
func (s *Service) RemoveMember(ctx context.Context, viewer Viewer, chatID, username string) error {
	chat, err := s.resolveGroup(ctx, viewer, chatID)
	if err != nil {
		return err
	}
	user, err := s.lookupUser(ctx, username)
	if err != nil {
		return err
	}

	removed, err := s.store.RemoveMember(ctx, chat.ID, user.ID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if !removed {
		return nil
	}
	// The removed user still hears about it.
	return s.publishMembership(ctx, chat.ID, user, false, user)
}

func (s *Service) publishMembership(ctx context.Context, chatID string, user *store.User, joined bool, extra *store.User) error {
	members, err := s.store.ListMembers(ctx, chatID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	if extra != nil {
		members = append(members, extra)
	}
	res := proto.MembershipResource{ChatID: chatID, Username: user.Username, Joined: joined}
	batch, err := s.render(proto.EventTypeMembership, members, func(*store.User) any { return res })
	if err != nil {
		return err
	}
	return s.publish(ctx, batch)
}

// GetContact returns the public profile of an account.
func (s *Service) GetContact(ctx context.Context, username string) (proto.Contact, error) {
	user, err := s.lookupUser(ctx, username)
	if err != nil {
		return proto.Contact{}, err
	}
	return contactResource(user), nil
}

// SetPresence updates the viewer's presence and profile. Empty fields keep
// their value. Changes are delivered to everyone sharing a chat with the viewer.
func (s *Service) SetPresence(ctx context.Context, viewer Viewer, req proto.SetPresenceRequest) (proto.Contact, error) {
	user, err := s.store.GetUserByID(ctx, viewer.ID)
	if err != nil {
		return proto.Contact{}, fmt.Errorf("load viewer: %w", err)
	}

	presence := user.Presence
	if req.Presence != "" {
		if core.ParsePresence(req.Presence) != core.Presence(req.Presence) {
			return proto.Contact{}, fmt.Errorf("%w: presence %q", ErrInvalidRequest, req.Presence)
		}
		presence = req.Presence
	}
	displayName := lo.CoalesceOrEmpty(req.DisplayName, user.DisplayName)
	mood := lo.CoalesceOrEmpty(req.Mood, user.Mood)

	if err := s.store.UpdateProfile(ctx, viewer.ID, presence, displayName, mood); err != nil {
		return proto.Contact{}, fmt.Errorf("update profile: %w", err)
	}

	presenceChanged := presence != user.Presence
	profileChanged := displayName != user.DisplayName || mood != user.Mood
	user.Presence, user.DisplayName, user.Mood = presence, displayName, mood

	if presenceChanged || profileChanged {
		peerIDs, err := s.store.ListPeers(ctx, viewer.ID)
		if err != nil {
			return proto.Contact{}, fmt.Errorf("list peers: %w", err)
		}
		peers := lo.Map(peerIDs, func(id int64, _ int) *store.User { return &store.User{ID: id} })

		var batch []*store.Event
		if presenceChanged {
			res := proto.PresenceResource{Username: user.Username, Presence: presence}
			more, err := s.render(proto.EventTypePresence, peers, func(*store.User) any { return res })
			if err != nil {
				return proto.Contact{}, err
			}
			batch = append(batch, more...)
		}
		if profileChanged {
			res := proto.ProfileResource{Username: user.Username, DisplayName: displayName, Mood: mood}
			more, err := s.render(proto.EventTypeProfile, peers, func(*store.User) any { return res })
			if err != nil {
				return proto.Contact{}, err
			}
			batch = append(batch, more...)
		}
		if err := s.publish(ctx, batch); err != nil {
			return proto.Contact{}, err
		}
	}

	return contactResource(user), nil
}

// chatRef is a resolved chat identity. chat is nil for a direct chat that has
// no messages yet; peer is set for direct chats.
type chatRef struct {
	chat *store.Chat
	peer *store.User
}

func (s *Service) resolve(ctx context.Context, viewer Viewer, chatID string) (chatRef, error) {
	kind, err := core.KindOf(chatID)
	if err != nil {
		return chatRef{}, fmt.Errorf("%w: %q", ErrChatNotFound, chatID)
	}

	if kind == core.DirectChat {
		peerName := strings.TrimPrefix(chatID, core.DirectPrefix)
		if peerName == viewer.Username {
			return chatRef{}, fmt.Errorf("%w: %q", ErrChatNotFound, chatID)
		}
		peer, err := s.store.GetUserByUsername(ctx, peerName)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return chatRef{}, fmt.Errorf("%w: %q", ErrChatNotFound, chatID)
			}
			return chatRef{}, fmt.Errorf("lookup peer: %w", err)
		}
		chat, err := s.store.GetChat(ctx, directKey(viewer.Username, peer.Username))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return chatRef{}, fmt.Errorf("get chat: %w", err)
		}
		return chatRef{chat: chat, peer: peer}, nil
	}

	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return chatRef{}, fmt.Errorf("%w: %q", ErrChatNotFound, chatID)
		}
		return chatRef{}, fmt.Errorf("get chat: %w", err)
	}
	member, err := s.store.IsMember(ctx, chat.ID, viewer.ID)
	if err != nil {
		return chatRef{}, fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return chatRef{}, fmt.Errorf("%w: %q", ErrChatNotFound, chatID)
	}
	return chatRef{chat: chat}, nil
}

func (s *Service) resolveGroup(ctx context.Context, viewer Viewer, chatID string) (*store.Chat, error) {
	ref, err := s.resolve(ctx, viewer, chatID)
	if err != nil {
		return nil, err
	}
	if ref.peer != nil {
		return nil, ErrNotGroup
	}
	return ref.chat, nil
}

func (s *Service) createDirect(ctx context.Context, viewer Viewer, peer *store.User) (*store.Chat, error) {
	key := directKey(viewer.Username, peer.Username)
	chat, err := s.store.CreateChat(ctx, key, store.ChatKindDirect, "", []int64{viewer.ID, peer.ID})
	if err == nil {
		s.log.Debug().Str("chat", key).Msg("direct chat created")
		return chat, nil
	}
	// Lost a race with the peer's first message.
	if existing, getErr := s.store.GetChat(ctx, key); getErr == nil {
		return existing, nil
	}
	return nil, fmt.Errorf("create direct chat: %w", err)
}

func (s *Service) lookupUser(ctx context.Context, username string) (*store.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrContactNotFound, username)
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// render builds one event per recipient.
func (s *Service) render(eventType string, recipients []*store.User, resource func(*store.User) any) ([]*store.Event, error) {
	events := make([]*store.Event, 0, len(recipients))
	for _, u := range recipients {
		payload, err := json.Marshal(resource(u))
		if err != nil {
			return nil, fmt.Errorf("marshal %s event: %w", eventType, err)
		}
		events = append(events, &store.Event{UserID: u.ID, Type: eventType, Payload: payload})
	}
	return events, nil
}

// publish appends events to the recipients' logs and wakes their polls.
func (s *Service) publish(ctx context.Context, events []*store.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := s.store.AppendEvents(ctx, events); err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	s.notifier.Notify(lo.Uniq(lo.Map(events, func(ev *store.Event, _ int) int64 { return ev.UserID }))...)
	s.log.Debug().Str("type", events[0].Type).Int("recipients", len(events)).Msg("events published")
	return nil
}

// directKey is the storage key of the direct chat between two users.
func directKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return directKeyPrefix + a + ":" + b
}

// viewID is the identity under which username sees chat.
func viewID(chat *store.Chat, username string) string {
	if chat.Kind != store.ChatKindDirect {
		return chat.ID
	}
	a, b, _ := strings.Cut(strings.TrimPrefix(chat.ID, directKeyPrefix), ":")
	if a == username {
		return core.DirectPrefix + b
	}
	return core.DirectPrefix + a
}

func messageResource(m *store.Message, chatID string) proto.MessageResource {
	res := proto.MessageResource{
		ID:       strconv.FormatInt(m.ID, 10),
		ClientID: m.ClientID,
		ChatID:   chatID,
		Sender:   m.Sender,
		Body:     m.Body,
		TS:       m.CreatedAt.UnixMilli(),
	}
	if m.EditedAt != nil {
		res.EditedTS = m.EditedAt.UnixMilli()
	}
	return res
}

func contactResource(u *store.User) proto.Contact {
	return proto.Contact{
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Mood:        u.Mood,
		Presence:    u.Presence,
	}
}
