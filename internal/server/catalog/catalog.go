// Package catalog holds the agents a server can seat, read from a JSON manifest
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"arena/internal/server/core"

	"github.com/go-playground/validator/v10"
)

var ErrAgentNotFound = errors.New("agent not found")

var validate = validator.New()

// Catalog is read-only after construction
type Catalog struct {
	agents map[string]core.AgentDescriptor
	order  []string
}

// Default seats the built-in bots
func Default() *Catalog {
	c, _ := New([]core.AgentDescriptor{
		{Username: "random", Locator: "builtin:random"},
		{Username: "greedy", Locator: "builtin:greedy"},
		{Username: "minimax", Locator: "builtin:minimax"},
	})
	return c
}

// New validates the entries and rejects duplicate usernames
func New(entries []core.AgentDescriptor) (*Catalog, error) {
	c := &Catalog{agents: make(map[string]core.AgentDescriptor, len(entries))}
	for i, e := range entries {
		if err := validate.Struct(e); err != nil {
			return nil, fmt.Errorf("manifest entry %d: %w", i, err)
		}
		key := strings.ToLower(e.Username)
		if _, dup := c.agents[key]; dup {
			return nil, fmt.Errorf("manifest entry %d: duplicate username %q", i, e.Username)
		}
		c.agents[key] = e
		c.order = append(c.order, key)
	}
	return c, nil
}

// Load reads a manifest: a JSON array of {username, avatar, forkUrl, locator}
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var entries []core.AgentDescriptor
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return New(entries)
}

// Find looks an agent up by username, case-insensitively
func (c *Catalog) Find(username string) (core.AgentDescriptor, error) {
	d, ok := c.agents[strings.ToLower(username)]
	if !ok {
		return core.AgentDescriptor{}, fmt.Errorf("%w: %s", ErrAgentNotFound, username)
	}
	return d, nil
}

// List returns the agents in manifest order
func (c *Catalog) List() []core.AgentDescriptor {
	out := make([]core.AgentDescriptor, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.agents[key])
	}
	return out
}

// Usernames returns the sorted agent names
func (c *Catalog) Usernames() []string {
	names := make([]string, 0, len(c.order))
	for _, key := range c.order {
		names = append(names, c.agents[key].Username)
	}
	sort.Strings(names)
	return names
}
