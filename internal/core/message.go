package core

import "time"

// Message is the domain model for a chat message.
type Message struct {
	ID       string
	ClientID string
	ChatID   string
	Sender   string
	Body     string
	SentAt   time.Time
	EditedAt time.Time
}

// Edited reports whether the message body was changed after it was sent.
func (m Message) Edited() bool {
	return !m.EditedAt.IsZero()
}
