package poller

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/proto"
)

// Entities is the part of the registry the loop writes to.
type Entities interface {
	EnsureChat(id string) (*core.Chat, error)
	EnsureContact(username string) *core.Contact
}

// apply decodes raw, mutates the registry and returns the event to dispatch.
// A nil event with a nil error means the payload changed nothing.
func apply(entities Entities, raw proto.RawEvent) (*core.Event, error) {
	switch raw.Type {
	case proto.EventTypeMessage:
		return applyMessage(entities, raw)
	case proto.EventTypeMessageEdit:
		return applyEdit(entities, raw)
	case proto.EventTypePresence:
		return applyPresence(entities, raw)
	case proto.EventTypeProfile:
		return applyProfile(entities, raw)
	case proto.EventTypeMembership:
		return applyMembership(entities, raw)
	case proto.EventTypeTopic:
		return applyTopic(entities, raw)
	case "":
		return nil, fmt.Errorf("%w: event %q has no type", core.ErrParse, raw.ID)
	default:
		return nil, errUnknownType
	}
}

var errUnknownType = errors.New("unknown event type")

func decode(raw proto.RawEvent, v any) error {
	if len(raw.Resource) == 0 {
		return fmt.Errorf("%w: %s event %q has no resource", core.ErrParse, raw.Type, raw.ID)
	}
	if err := json.Unmarshal(raw.Resource, v); err != nil {
		return fmt.Errorf("%w: %s event %q: %w", core.ErrParse, raw.Type, raw.ID, err)
	}
	return nil
}

func chatFor(entities Entities, raw proto.RawEvent, id string) (*core.Chat, error) {
	chat, err := entities.EnsureChat(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s event %q: %w", core.ErrParse, raw.Type, raw.ID, err)
	}
	return chat, nil
}

func decodeMessage(raw proto.RawEvent) (core.Message, error) {
	var res proto.MessageResource
	if err := decode(raw, &res); err != nil {
		return core.Message{}, err
	}
	if res.ID == "" || res.ChatID == "" {
		return core.Message{}, fmt.Errorf("%w: %s event %q: message id and chat id are required", core.ErrParse, raw.Type, raw.ID)
	}
	return proto.ToCoreMessage(res), nil
}

func applyMessage(entities Entities, raw proto.RawEvent) (*core.Event, error) {
	msg, err := decodeMessage(raw)
	if err != nil {
		return nil, err
	}
	chat, err := chatFor(entities, raw, msg.ChatID)
	if err != nil {
		return nil, err
	}

	var sender *core.Contact
	if msg.Sender != "" {
		sender = entities.EnsureContact(msg.Sender)
		if chat.Partial() {
			chat.AddMember(msg.Sender)
		}
	}
	if !chat.AppendMessage(msg) {
		return nil, nil
	}
	stored, _ := chat.Message(msg.ID)
	return &core.Event{
		Kind:    core.EventMessageReceived,
		ID:      raw.ID,
		Chat:    chat,
		Contact: sender,
		Message: &stored,
	}, nil
}

func applyEdit(entities Entities, raw proto.RawEvent) (*core.Event, error) {
	msg, err := decodeMessage(raw)
	if err != nil {
		return nil, err
	}
	if msg.EditedAt.IsZero() {
		msg.EditedAt = time.Now().UTC()
		if raw.Time > 0 {
			msg.EditedAt = time.UnixMilli(raw.Time).UTC()
		}
	}
	chat, err := chatFor(entities, raw, msg.ChatID)
	if err != nil {
		return nil, err
	}

	var sender *core.Contact
	if msg.Sender != "" {
		sender = entities.EnsureContact(msg.Sender)
	}

	edited, ok := chat.EditMessage(msg.ID, msg.Body, msg.EditedAt)
	if !ok {
		if _, known := chat.Message(msg.ID); known {
			return nil, nil
		}
		// Edit of a message older than our history: keep the edited version.
		chat.AppendMessage(msg)
		edited, _ = chat.Message(msg.ID)
	}
	return &core.Event{
		Kind:    core.EventMessageEdited,
		ID:      raw.ID,
		Chat:    chat,
		Contact: sender,
		Message: &edited,
	}, nil
}

func applyPresence(entities Entities, raw proto.RawEvent) (*core.Event, error) {
	var res proto.PresenceResource
	if err := decode(raw, &res); err != nil {
		return nil, err
	}
	if res.Username == "" {
		return nil, fmt.Errorf("%w: presence event %q has no username", core.ErrParse, raw.ID)
	}
	contact := entities.EnsureContact(res.Username)
	if !contact.SetPresence(core.ParsePresence(res.Presence)) {
		return nil, nil
	}
	return &core.Event{Kind: core.EventContactChanged, ID: raw.ID, Contact: contact}, nil
}

func applyProfile(entities Entities, raw proto.RawEvent) (*core.Event, error) {
	var res proto.ProfileResource
	if err := decode(raw, &res); err != nil {
		return nil, err
	}
	if res.Username == "" {
		return nil, fmt.Errorf("%w: profile event %q has no username", core.ErrParse, raw.ID)
	}
	contact := entities.EnsureContact(res.Username)
	if !contact.SetProfile(res.DisplayName, res.Mood) {
		return nil, nil
	}
	return &core.Event{Kind: core.EventContactChanged, ID: raw.ID, Contact: contact}, nil
}

func applyMembership(entities Entities, raw proto.RawEvent) (*core.Event, error) {
	var res proto.MembershipResource
	if err := decode(raw, &res); err != nil {
		return nil, err
	}
	if res.ChatID == "" || res.Username == "" {
		return nil, fmt.Errorf("%w: membership event %q: chat id and username are required", core.ErrParse, raw.ID)
	}
	chat, err := chatFor(entities, raw, res.ChatID)
	if err != nil {
		return nil, err
	}
	contact := entities.EnsureContact(res.Username)

	var changed bool
	if res.Joined {
		changed = chat.AddMember(res.Username)
	} else {
		changed = chat.RemoveMember(res.Username)
	}
	if !changed {
		return nil, nil
	}
	return &core.Event{
		Kind:    core.EventChatMembershipChanged,
		ID:      raw.ID,
		Chat:    chat,
		Contact: contact,
		Member:  res.Username,
		Joined:  res.Joined,
	}, nil
}

func applyTopic(entities Entities, raw proto.RawEvent) (*core.Event, error) {
	var res proto.TopicResource
	if err := decode(raw, &res); err != nil {
		return nil, err
	}
	if res.ChatID == "" {
		return nil, fmt.Errorf("%w: topic event %q has no chat id", core.ErrParse, raw.ID)
	}
	chat, err := chatFor(entities, raw, res.ChatID)
	if err != nil {
		return nil, err
	}
	if !chat.SetTopic(res.Topic) {
		return nil, nil
	}
	ev := &core.Event{Kind: core.EventChatTopicChanged, ID: raw.ID, Chat: chat, Topic: res.Topic}
	if res.By != "" {
		ev.Contact = entities.EnsureContact(res.By)
	}
	return ev, nil
}
