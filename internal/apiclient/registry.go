package apiclient

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the named clients of an application. Clients usually
// share one cache.Scope and are kept apart by their base URLs.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewRegistry(clients ...*Client) *Registry {
	r := &Registry{clients: make(map[string]*Client, len(clients))}
	for _, c := range clients {
		r.Register(c)
	}
	return r
}

// Register adds c, replacing any client with the same name.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Name()] = c
}

// Client returns the client registered under name.
func (r *Registry) Client(name string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("unknown client %q (have %v)", name, r.namesLocked())
	}
	return c, nil
}

// Names lists registered client names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
