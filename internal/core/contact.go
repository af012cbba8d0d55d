package core

import "sync"

// Presence is the availability status of a contact.
type Presence string

const (
	PresenceOnline  Presence = "Online"
	PresenceAway    Presence = "Away"
	PresenceBusy    Presence = "Busy"
	PresenceIdle    Presence = "Idle"
	PresenceOffline Presence = "Offline"
)

// ParsePresence maps a wire value onto a known presence, defaulting to Offline.
func ParsePresence(s string) Presence {
	switch Presence(s) {
	case PresenceOnline, PresenceAway, PresenceBusy, PresenceIdle, PresenceOffline:
		return Presence(s)
	default:
		return PresenceOffline
	}
}

// ContactData is a contact profile as returned by the service.
type ContactData struct {
	Username    string
	DisplayName string
	Mood        string
	Presence    Presence
}

// Contact is another account as seen by this session.
type Contact struct {
	username string

	mu          sync.RWMutex
	displayName string
	mood        string
	presence    Presence
	partial     bool
}

// NewContact constructs a contact from profile data.
func NewContact(data ContactData) *Contact {
	c := &Contact{username: data.Username}
	c.Update(data)
	return c
}

// NewPlaceholderContact builds a contact known only by username.
func NewPlaceholderContact(username string) *Contact {
	return &Contact{
		username:    username,
		displayName: username,
		presence:    PresenceOffline,
		partial:     true,
	}
}

// Username returns the contact identity.
func (c *Contact) Username() string { return c.username }

func (c *Contact) DisplayName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.displayName
}

func (c *Contact) Mood() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mood
}

func (c *Contact) Presence() Presence {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.presence
}

// Partial reports whether the contact was created from an event and never fully loaded.
func (c *Contact) Partial() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.partial
}

// SetPresence updates presence. Returns true if it changed.
func (c *Contact) SetPresence(p Presence) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.presence == p {
		return false
	}
	c.presence = p
	return true
}

// SetProfile updates display metadata. Empty display names fall back to the username.
func (c *Contact) SetProfile(displayName, mood string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if displayName == "" {
		displayName = c.username
	}
	if c.displayName == displayName && c.mood == mood {
		return false
	}
	c.displayName = displayName
	c.mood = mood
	return true
}

// Update overwrites the contact with a full profile.
func (c *Contact) Update(data ContactData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.displayName = data.DisplayName
	if c.displayName == "" {
		c.displayName = c.username
	}
	c.mood = data.Mood
	c.presence = data.Presence
	if c.presence == "" {
		c.presence = PresenceOffline
	}
	c.partial = false
}
