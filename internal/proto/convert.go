package proto

import (
	"time"

	"github.com/vovakirdan/pollchat/internal/core"
)

// ToCoreMessage converts a wire message into the domain model.
func ToCoreMessage(m MessageResource) core.Message {
	msg := core.Message{
		ID:       m.ID,
		ClientID: m.ClientID,
		ChatID:   m.ChatID,
		Sender:   m.Sender,
		Body:     m.Body,
		SentAt:   time.UnixMilli(m.TS).UTC(),
	}
	if m.EditedTS > 0 {
		msg.EditedAt = time.UnixMilli(m.EditedTS).UTC()
	}
	return msg
}

// ToCoreChat converts a chat payload into ChatData.
func ToCoreChat(c Chat) core.ChatData {
	data := core.ChatData{
		ID:       c.ID,
		Topic:    c.Topic,
		Members:  append([]string(nil), c.Members...),
		Messages: make([]core.Message, 0, len(c.Messages)),
	}
	for _, m := range c.Messages {
		data.Messages = append(data.Messages, ToCoreMessage(m))
	}
	return data
}

// ToCoreContact converts a contact payload into ContactData.
func ToCoreContact(c Contact) core.ContactData {
	return core.ContactData{
		Username:    c.Username,
		DisplayName: c.DisplayName,
		Mood:        c.Mood,
		Presence:    core.ParsePresence(c.Presence),
	}
}
