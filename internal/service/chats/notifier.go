package chats

import "sync"

// Notifier wakes long polls when new events land in a user's log.
type Notifier struct {
	mu      sync.Mutex
	waiters map[int64]chan struct{}
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{waiters: make(map[int64]chan struct{})}
}

// Wait returns a channel that is closed by the next Notify for userID.
// Callers must take the channel before reading the log so no append is missed.
func (n *Notifier) Wait(userID int64) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch, ok := n.waiters[userID]
	if !ok {
		ch = make(chan struct{})
		n.waiters[userID] = ch
	}
	return ch
}

// Notify wakes every waiter of the given users.
func (n *Notifier) Notify(userIDs ...int64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, id := range userIDs {
		if ch, ok := n.waiters[id]; ok {
			close(ch)
			delete(n.waiters, id)
		}
	}
}
