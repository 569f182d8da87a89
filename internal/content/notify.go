package content

import (
	"sort"
	"sync"
)

// Notification is a user-facing message keyed by the item it concerns.
type Notification struct {
	ID      string
	Message string
}

// Notifier receives the full notification list of an owner each time it
// changes. An empty list clears the owner.
type Notifier interface {
	Notify(owner string, notifications []Notification)
}

// NotificationCenter keeps the latest list per owner in memory.
type NotificationCenter struct {
	mu     sync.Mutex
	owners map[string][]Notification
}

func NewNotificationCenter() *NotificationCenter {
	return &NotificationCenter{owners: map[string][]Notification{}}
}

func (c *NotificationCenter) Notify(owner string, notifications []Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(notifications) == 0 {
		delete(c.owners, owner)
		return
	}
	list := make([]Notification, len(notifications))
	copy(list, notifications)
	c.owners[owner] = list
}

// Notifications returns every current notification ordered by owner then id.
func (c *NotificationCenter) Notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	owners := make([]string, 0, len(c.owners))
	for owner := range c.owners {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	out := []Notification{}
	for _, owner := range owners {
		out = append(out, c.owners[owner]...)
	}
	return out
}

func (c *NotificationCenter) HasErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.owners) > 0
}

type discardNotifier struct{}

func (discardNotifier) Notify(string, []Notification) {}
