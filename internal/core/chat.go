package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ChatKind distinguishes one-to-one chats from group chats.
type ChatKind int

const (
	// DirectChat is a one-to-one conversation, identity prefix "8:".
	DirectChat ChatKind = iota
	// GroupChat is a multi-party conversation, identity prefix "19:".
	GroupChat
)

// Identity prefixes assigned by the service.
const (
	DirectPrefix = "8:"
	GroupPrefix  = "19:"
)

func (k ChatKind) String() string {
	switch k {
	case DirectChat:
		return "direct"
	case GroupChat:
		return "group"
	default:
		return fmt.Sprintf("ChatKind(%d)", int(k))
	}
}

// KindOf derives the chat kind from its identity prefix.
func KindOf(id string) (ChatKind, error) {
	switch {
	case strings.HasPrefix(id, GroupPrefix) && len(id) > len(GroupPrefix):
		return GroupChat, nil
	case strings.HasPrefix(id, DirectPrefix) && len(id) > len(DirectPrefix):
		return DirectChat, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidIdentity, id)
	}
}

// ChatData is the full state of a chat as returned by the service.
type ChatData struct {
	ID       string
	Topic    string
	Members  []string
	Messages []Message
}

// Chat groups the messages and members of one conversation.
// A Chat is owned by the registry; callers share the pointer and read through
// the accessor methods, which return copies.
type Chat struct {
	id   string
	kind ChatKind

	mu       sync.RWMutex
	topic    string
	messages []Message
	index    map[string]int
	members  map[string]struct{}
	partial  bool
}

// NewChat constructs an empty chat. The kind is derived from the identity.
func NewChat(id string) (*Chat, error) {
	kind, err := KindOf(id)
	if err != nil {
		return nil, err
	}
	return &Chat{
		id:      id,
		kind:    kind,
		index:   make(map[string]int),
		members: make(map[string]struct{}),
	}, nil
}

// NewChatFromData builds a fully populated chat.
func NewChatFromData(data ChatData) (*Chat, error) {
	c, err := NewChat(data.ID)
	if err != nil {
		return nil, err
	}
	c.Replace(data)
	return c, nil
}

// NewPlaceholderChat builds a chat known only from a poll event.
func NewPlaceholderChat(id string) (*Chat, error) {
	c, err := NewChat(id)
	if err != nil {
		return nil, err
	}
	c.partial = true
	return c, nil
}

// ID returns the chat identity.
func (c *Chat) ID() string { return c.id }

// Kind returns whether this is a direct or group chat.
func (c *Chat) Kind() ChatKind { return c.kind }

// Topic returns the group topic, empty for direct chats.
func (c *Chat) Topic() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topic
}

// Partial reports whether the chat was created from an event and never fully loaded.
func (c *Chat) Partial() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.partial
}

// Messages returns a copy of the messages in insertion order.
func (c *Chat) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Message looks up a message by its server ID.
func (c *Chat) Message(id string) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return Message{}, false
	}
	return c.messages[i], true
}

// Members returns the member usernames in sorted order.
func (c *Chat) Members() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.members))
	for m := range c.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// HasMember reports whether username is in the member set.
func (c *Chat) HasMember(username string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[username]
	return ok
}

// AppendMessage adds a message at the end. Returns false if a message with the
// same ID is already present.
func (c *Chat) AppendMessage(m Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(m)
}

func (c *Chat) appendLocked(m Message) bool {
	if m.ID != "" {
		if _, exists := c.index[m.ID]; exists {
			return false
		}
		c.index[m.ID] = len(c.messages)
	}
	m.ChatID = c.id
	c.messages = append(c.messages, m)
	return true
}

// EditMessage replaces the body of a known message. Returns the updated message
// and false if the message is unknown or the edit is not newer than the last one.
func (c *Chat) EditMessage(id, body string, editedAt time.Time) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return Message{}, false
	}
	cur := c.messages[i]
	if !cur.EditedAt.IsZero() && !editedAt.After(cur.EditedAt) {
		return cur, false
	}
	cur.Body = body
	cur.EditedAt = editedAt
	c.messages[i] = cur
	return cur, true
}

// AddMember inserts a username. Returns true if newly added.
func (c *Chat) AddMember(username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.members[username]; exists {
		return false
	}
	c.members[username] = struct{}{}
	return true
}

// RemoveMember deletes a username. Returns true if removed.
func (c *Chat) RemoveMember(username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.members[username]; !exists {
		return false
	}
	delete(c.members, username)
	return true
}

// SetTopic updates the topic. Returns true if it changed.
func (c *Chat) SetTopic(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.topic == topic {
		return false
	}
	c.topic = topic
	return true
}

// Replace refreshes the chat from a full fetch. The member set and topic are
// overwritten; messages are merged so already-seen messages keep their position.
// A placeholder only holds messages delivered after the fetched history, so its
// messages move behind that history instead.
func (c *Chat) Replace(data ChatData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = data.Topic
	c.members = make(map[string]struct{}, len(data.Members))
	for _, m := range data.Members {
		c.members[m] = struct{}{}
	}
	if c.partial {
		c.rebaseLocked(data.Messages)
	} else {
		for _, m := range data.Messages {
			c.appendLocked(m)
		}
	}
	c.partial = false
}

// rebaseLocked puts history first and keeps the placeholder's own messages
// after it. A message present in both keeps the later edit.
func (c *Chat) rebaseLocked(history []Message) {
	local := c.messages
	known := c.index
	c.messages = make([]Message, 0, len(history)+len(local))
	c.index = make(map[string]int, len(history)+len(local))

	for _, m := range history {
		if i, ok := known[m.ID]; ok && m.ID != "" && local[i].EditedAt.After(m.EditedAt) {
			m = local[i]
		}
		c.appendLocked(m)
	}
	for _, m := range local {
		c.appendLocked(m)
	}
}
