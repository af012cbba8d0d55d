// Package registry caches the chats and contacts a session knows about.
//
// Lookups never perform I/O. Loads go through a Fetcher and are collapsed per
// identity, so concurrent callers asking for the same chat share one fetch and
// observe the same *core.Chat (or the same error). Refreshes update entities in
// place; a pointer handed out once stays valid for the life of the session.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/pollchat/internal/core"
)

// DefaultFetchTimeout bounds a shared fetch when New is given no timeout.
const DefaultFetchTimeout = 30 * time.Second

// Fetcher retrieves full entity state from the service.
type Fetcher interface {
	FetchChat(ctx context.Context, id string) (core.ChatData, error)
	FetchContact(ctx context.Context, username string) (core.ContactData, error)
}

// Registry is the session's entity cache.
type Registry struct {
	mu       sync.RWMutex
	chats    map[string]*core.Chat
	contacts map[string]*core.Contact
	// generation changes on Reset so fetches started earlier do not repopulate the cache.
	generation uint64

	fetcher      Fetcher
	fetchTimeout time.Duration
	flights      singleflight.Group
	log          zerolog.Logger
}

// New creates an empty registry backed by fetcher.
func New(fetcher Fetcher, fetchTimeout time.Duration, logger *zerolog.Logger) *Registry {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Registry{
		chats:        make(map[string]*core.Chat),
		contacts:     make(map[string]*core.Contact),
		fetcher:      fetcher,
		fetchTimeout: fetchTimeout,
		log:          l.With().Str("component", "registry").Logger(),
	}
}

// Chat returns the cached chat, if any.
func (r *Registry) Chat(id string) (*core.Chat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chats[id]
	return c, ok
}

// Contact returns the cached contact, if any.
func (r *Registry) Contact(username string) (*core.Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[username]
	return c, ok
}

// LoadChat fetches the chat from the service and inserts or refreshes it.
// A load already in flight for id is joined rather than repeated.
func (r *Registry) LoadChat(ctx context.Context, id string) (*core.Chat, error) {
	if _, err := core.KindOf(id); err != nil {
		return nil, fmt.Errorf("load chat %q: %w", id, err)
	}
	ch := r.flights.DoChan(chatKey(id), func() (any, error) {
		return r.fetchChat(ctx, id)
	})
	return await[*core.Chat](ctx, ch)
}

// GetOrLoadChat returns the cached chat, loading it when absent or known only
// from a poll event.
func (r *Registry) GetOrLoadChat(ctx context.Context, id string) (*core.Chat, error) {
	if c, ok := r.Chat(id); ok && !c.Partial() {
		return c, nil
	}
	return r.LoadChat(ctx, id)
}

// LoadContact fetches the contact from the service and inserts or refreshes it.
// A load already in flight for username is joined rather than repeated.
func (r *Registry) LoadContact(ctx context.Context, username string) (*core.Contact, error) {
	if username == "" {
		return nil, fmt.Errorf("load contact: %w: empty username", core.ErrInvalidIdentity)
	}
	ch := r.flights.DoChan(contactKey(username), func() (any, error) {
		return r.fetchContact(ctx, username)
	})
	return await[*core.Contact](ctx, ch)
}

// GetOrLoadContact returns the cached contact, loading it when absent or partial.
func (r *Registry) GetOrLoadContact(ctx context.Context, username string) (*core.Contact, error) {
	if c, ok := r.Contact(username); ok && !c.Partial() {
		return c, nil
	}
	return r.LoadContact(ctx, username)
}

func chatKey(id string) string          { return "chat/" + id }
func contactKey(username string) string { return "contact/" + username }

// EnsureChat returns the cached chat or inserts a placeholder for it.
func (r *Registry) EnsureChat(id string) (*core.Chat, error) {
	if c, ok := r.Chat(id); ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chats[id]; ok {
		return c, nil
	}
	c, err := core.NewPlaceholderChat(id)
	if err != nil {
		return nil, err
	}
	r.chats[id] = c
	r.log.Debug().Str("chat", id).Msg("placeholder chat created")
	return c, nil
}

// EnsureContact returns the cached contact or inserts a placeholder for it.
func (r *Registry) EnsureContact(username string) *core.Contact {
	if c, ok := r.Contact(username); ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contacts[username]; ok {
		return c
	}
	c := core.NewPlaceholderContact(username)
	r.contacts[username] = c
	r.log.Debug().Str("contact", username).Msg("placeholder contact created")
	return c
}

// InsertChat stores a fully known chat, refreshing any cached entry in place.
func (r *Registry) InsertChat(data core.ChatData) (*core.Chat, error) {
	r.mu.RLock()
	gen := r.generation
	r.mu.RUnlock()
	return r.upsertChat(gen, data)
}

// Chats returns a snapshot of the cached chats ordered by identity.
func (r *Registry) Chats() []*core.Chat {
	r.mu.RLock()
	chats := lo.Values(r.chats)
	r.mu.RUnlock()

	sort.Slice(chats, func(i, j int) bool { return chats[i].ID() < chats[j].ID() })
	return chats
}

// Contacts returns a snapshot of the cached contacts ordered by username.
func (r *Registry) Contacts() []*core.Contact {
	r.mu.RLock()
	contacts := lo.Values(r.contacts)
	r.mu.RUnlock()

	sort.Slice(contacts, func(i, j int) bool { return contacts[i].Username() < contacts[j].Username() })
	return contacts
}

// Reset drops every cached entity. Fetches already in flight still complete
// for their callers but are not cached.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = make(map[string]*core.Chat)
	r.contacts = make(map[string]*core.Contact)
	r.generation++
}

func (r *Registry) fetchChat(ctx context.Context, id string) (*core.Chat, error) {
	r.mu.RLock()
	gen := r.generation
	r.mu.RUnlock()

	fetchCtx, cancel := r.detach(ctx)
	defer cancel()

	started := time.Now()
	data, err := r.fetcher.FetchChat(fetchCtx, id)
	if err != nil {
		r.log.Debug().Err(err).Str("chat", id).Msg("chat fetch failed")
		return nil, err
	}
	if data.ID == "" {
		data.ID = id
	}
	r.log.Debug().Str("chat", id).Int("messages", len(data.Messages)).Dur("took", time.Since(started)).Msg("chat fetched")
	return r.upsertChat(gen, data)
}

func (r *Registry) fetchContact(ctx context.Context, username string) (*core.Contact, error) {
	r.mu.RLock()
	gen := r.generation
	r.mu.RUnlock()

	fetchCtx, cancel := r.detach(ctx)
	defer cancel()

	data, err := r.fetcher.FetchContact(fetchCtx, username)
	if err != nil {
		r.log.Debug().Err(err).Str("contact", username).Msg("contact fetch failed")
		return nil, err
	}
	if data.Username == "" {
		data.Username = username
	}
	return r.upsertContact(gen, data), nil
}

// detach runs a shared fetch independently of the caller that started it.
func (r *Registry) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
}

func (r *Registry) upsertChat(gen uint64, data core.ChatData) (*core.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.chats[data.ID]; ok {
		existing.Replace(data)
		return existing, nil
	}
	c, err := core.NewChatFromData(data)
	if err != nil {
		return nil, err
	}
	if gen == r.generation {
		r.chats[data.ID] = c
	}
	return c, nil
}

func (r *Registry) upsertContact(gen uint64, data core.ContactData) *core.Contact {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.contacts[data.Username]; ok {
		existing.Update(data)
		return existing
	}
	c := core.NewContact(data)
	if gen == r.generation {
		r.contacts[data.Username] = c
	}
	return c
}

func await[T any](ctx context.Context, ch <-chan singleflight.Result) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	}
}
