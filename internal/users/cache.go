// Package users resolves user ids to display labels for message bubbles
// whose sender carries no name.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bulsupms/pmsinbox/internal/api"
	"github.com/bulsupms/pmsinbox/internal/model"
)

var ErrNotFound = errors.New("users: user not found")

const warmTimeout = 10 * time.Second

type Fetcher interface {
	GetUser(ctx context.Context, id model.ID) (*model.Participant, error)
}

// Store persists resolved labels between runs.
type Store interface {
	GetLabel(ctx context.Context, userID string) (string, bool, error)
	PutLabel(ctx context.Context, userID, label string) error
}

type Cache struct {
	fetch Fetcher
	store Store
	log   *slog.Logger

	mu       sync.RWMutex
	labels   map[model.ID]string
	inflight map[model.ID]bool
}

// NewCache returns a cache in front of f. store may be nil.
func NewCache(f Fetcher, store Store, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		fetch:    f,
		store:    store,
		log:      log.With("component", "users"),
		labels:   make(map[model.ID]string),
		inflight: make(map[model.ID]bool),
	}
}

// LabelOf picks name, full name or e-mail, falling back to #id.
func LabelOf(p *model.Participant, id model.ID) string {
	if p != nil {
		for _, s := range []string{p.Name, p.FullName, p.Email} {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return "#" + id.String()
}

// Cached returns the label held in memory without any I/O.
func (c *Cache) Cached(id model.ID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.labels[id]
	return l, ok
}

// Label resolves id from memory, then the store, then the backend. When the
// backend lookup fails the #id fallback is cached in memory and returned
// along with the error.
func (c *Cache) Label(ctx context.Context, id model.ID) (string, error) {
	if id == "" {
		return "", fmt.Errorf("users: empty id")
	}
	if l, ok := c.Cached(id); ok {
		return l, nil
	}

	if c.store != nil {
		l, ok, err := c.store.GetLabel(ctx, id.String())
		if err != nil {
			c.log.Warn("label store read failed", "user", id, "err", err)
		} else if ok {
			c.remember(id, l)
			return l, nil
		}
	}

	p, err := c.fetch.GetUser(ctx, id)
	if err != nil {
		fallback := LabelOf(nil, id)
		c.remember(id, fallback)
		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return fallback, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fallback, fmt.Errorf("users: get %s: %w", id, err)
	}

	l := LabelOf(p, id)
	c.remember(id, l)
	if c.store != nil {
		if err := c.store.PutLabel(ctx, id.String(), l); err != nil {
			c.log.Warn("label store write failed", "user", id, "err", err)
		}
	}
	return l, nil
}

// Warm resolves id in the background unless it is cached or already being
// resolved.
func (c *Cache) Warm(id model.ID) {
	if id == "" {
		return
	}
	c.mu.Lock()
	if _, ok := c.labels[id]; ok || c.inflight[id] {
		c.mu.Unlock()
		return
	}
	c.inflight[id] = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, id)
			c.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), warmTimeout)
		defer cancel()
		if _, err := c.Label(ctx, id); err != nil {
			c.log.Debug("label lookup failed", "user", id, "err", err)
		}
	}()
}

func (c *Cache) remember(id model.ID, label string) {
	c.mu.Lock()
	c.labels[id] = label
	c.mu.Unlock()
}
