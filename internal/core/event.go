package core

import "fmt"

// EventKind is a notification the session emits to listeners.
type EventKind int

const (
	// EventMessageReceived notifies listeners about a new message in a chat.
	EventMessageReceived EventKind = iota
	// EventMessageEdited notifies listeners that a message body changed.
	EventMessageEdited
	// EventContactChanged notifies listeners about a presence or profile change.
	EventContactChanged
	// EventChatMembershipChanged notifies listeners that a member joined or left a chat.
	EventChatMembershipChanged
	// EventChatTopicChanged notifies listeners that a group topic changed.
	EventChatTopicChanged
	// EventConnectionError notifies listeners that the poll loop is failing.
	EventConnectionError
)

var eventKindNames = map[EventKind]string{
	EventMessageReceived:       "message_received",
	EventMessageEdited:         "message_edited",
	EventContactChanged:        "contact_changed",
	EventChatMembershipChanged: "chat_membership_changed",
	EventChatTopicChanged:      "chat_topic_changed",
	EventConnectionError:       "connection_error",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// EventKinds lists every kind in declaration order.
func EventKinds() []EventKind {
	return []EventKind{
		EventMessageReceived,
		EventMessageEdited,
		EventContactChanged,
		EventChatMembershipChanged,
		EventChatTopicChanged,
		EventConnectionError,
	}
}

// Event is delivered to listeners after its effect is visible in the registry.
type Event struct {
	Kind EventKind
	// ID is the service-assigned event ID, empty for locally generated events.
	ID      string
	Chat    *Chat
	Contact *Contact
	Message *Message
	// Member and Joined describe a membership change.
	Member string
	Joined bool
	Topic  string
	// Err is set for EventConnectionError.
	Err error
}
