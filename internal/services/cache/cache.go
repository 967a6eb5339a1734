// Package cache keeps the in-memory view of the session that UI readers poll
// synchronously or subscribe to.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"courier/internal/domain/models"
)

// Source is where LoadSession reads persisted fields from.
type Source interface {
	Snapshot(ctx context.Context) models.Session
}

type Cache struct {
	mu      sync.RWMutex
	session models.Session
	// generation is bumped by ClearSession.
	generation uint64

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan models.Session
}

func New() *Cache {
	return &Cache{
		subs: make(map[int]chan models.Session),
	}
}

// Session returns a copy of the cached session.
func (c *Cache) Session() models.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return clone(c.session)
}

func (c *Cache) SetToken(token string) {
	c.update(func(s *models.Session) { s.AccessToken = token })
}

func (c *Cache) SetRefToken(token string) {
	c.update(func(s *models.Session) { s.RefreshToken = token })
}

func (c *Cache) SetExpiry(expiry time.Time) {
	c.update(func(s *models.Session) { s.Expiry = expiry })
}

func (c *Cache) SetRole(role models.Role) {
	c.update(func(s *models.Session) { s.Role = role })
}

func (c *Cache) SetOnboarded(onboarded bool) {
	c.update(func(s *models.Session) { s.Onboarded = onboarded })
}

func (c *Cache) SetUser(user json.RawMessage) {
	c.update(func(s *models.Session) { s.User = append(json.RawMessage(nil), user...) })
}

// ClearSession drops every field, role and onboarding included, and starts a
// new generation.
func (c *Cache) ClearSession() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.session = models.Session{}
	c.publish(c.session)
}

// Generation changes every time the cache is cleared.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.generation
}

// LoadSession replaces the cached session with the persisted one in one batch
// and returns what the cache holds afterwards. A snapshot read across a
// ClearSession is dropped: the cleared state wins.
func (c *Cache) LoadSession(ctx context.Context, src Source) models.Session {
	gen := c.Generation()
	loaded := src.Snapshot(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation == gen {
		c.session = clone(loaded)
		c.publish(c.session)
	}

	return clone(c.session)
}

// Subscribe returns a channel that receives the session after every change.
// Slow readers only see the latest value. cancel closes the channel.
func (c *Cache) Subscribe() (<-chan models.Session, func()) {
	ch := make(chan models.Session, 1)

	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			close(ch)
		})
	}

	return ch, cancel
}

func (c *Cache) update(fn func(s *models.Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn(&c.session)
	c.publish(c.session)
}

// publish must be called with mu held so subscribers see changes in order.
func (c *Cache) publish(s models.Session) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- clone(s)
	}
}

func clone(s models.Session) models.Session {
	if s.User != nil {
		s.User = append(json.RawMessage(nil), s.User...)
	}
	return s
}
