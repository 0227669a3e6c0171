// Package catalog holds the process-local tool catalog: named tools grouped
// into categories, each category carrying a space label used to partition
// semantic retrieval. The catalog is read-mostly after startup; category
// additions are serialized by the caller.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/praxishq/praxis/pkg/core"
)

// UnknownCategory is returned by CategoryOf for tools the catalog does not know.
const UnknownCategory = "unknown"

const categoryCacheSize = 1024

// Category is an ordered collection of tools sharing a space and connection
// requirement. Owned exclusively by the catalog.
type Category struct {
	Name               string
	Space              string
	RequiresConnection bool
	Delegated          bool
	Tools              []core.Tool

	coreTools map[string]bool
}

// Entry is the resolved view of one catalog tool with its category flags.
type Entry struct {
	Tool               core.Tool
	Category           string
	Space              string
	RequiresConnection bool
	Delegated          bool
	Core               bool
}

// Name returns the tool name; identity within the catalog is (space, name).
func (e Entry) Name() string { return e.Tool.Name() }

// CategoryOption configures a category at registration time.
type CategoryOption func(*Category)

// RequiresConnection marks the category's tools as needing an external
// service connection.
func RequiresConnection() CategoryOption {
	return func(c *Category) { c.RequiresConnection = true }
}

// Delegated excludes the category's tools from direct binding; they are
// reachable only through a hand-off to their space's agent.
func Delegated() CategoryOption {
	return func(c *Category) { c.Delegated = true }
}

// CoreTools marks the named tools as bound unconditionally to every agent.
func CoreTools(names ...string) CategoryOption {
	return func(c *Category) {
		for _, n := range names {
			c.coreTools[n] = true
		}
	}
}

// Catalog is an explicitly constructed tool catalog. Never a package-level
// singleton; tests construct isolated instances.
type Catalog struct {
	mu         sync.RWMutex
	categories map[string]*Category
	order      []string

	lookup *lru.Cache[string, string]
}

// New creates an empty catalog.
func New() *Catalog {
	cache, _ := lru.New[string, string](categoryCacheSize)
	return &Catalog{
		categories: make(map[string]*Category),
		lookup:     cache,
	}
}

// AddCategory registers a category. Idempotent per name: re-adding replaces
// the previous registration.
func (c *Catalog) AddCategory(name string, tools []core.Tool, space string, opts ...CategoryOption) error {
	if name == "" {
		return errors.New("category name is required")
	}
	if space == "" {
		return errors.New("category space is required")
	}

	cat := &Category{
		Name:      name,
		Space:     space,
		Tools:     append([]core.Tool(nil), tools...),
		coreTools: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(cat)
	}
	for _, t := range cat.Tools {
		if t.Name() == "" {
			return fmt.Errorf("category %q contains a tool without a name", name)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.categories[name]; !exists {
		c.order = append(c.order, name)
	}
	c.categories[name] = cat
	c.lookup.Purge()
	return nil
}

// HasCategory reports whether a category is registered.
func (c *Catalog) HasCategory(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.categories[name]
	return ok
}

// ToolsForBinding returns the tools eligible for direct model binding as a
// name-to-tool map. Delegated categories are excluded unless excludeDelegated
// is false.
func (c *Catalog) ToolsForBinding(excludeDelegated bool) map[string]core.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]core.Tool)
	for _, name := range c.order {
		cat := c.categories[name]
		if excludeDelegated && cat.Delegated {
			continue
		}
		for _, t := range cat.Tools {
			out[t.Name()] = t
		}
	}
	return out
}

// CoreEntries returns the entries bound unconditionally at machine
// construction time.
func (c *Catalog) CoreEntries() []Entry {
	var out []Entry
	for _, e := range c.Entries() {
		if e.Core {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns all catalog entries in category registration order.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Entry
	for _, name := range c.order {
		cat := c.categories[name]
		for _, t := range cat.Tools {
			out = append(out, Entry{
				Tool:               t,
				Category:           cat.Name,
				Space:              cat.Space,
				RequiresConnection: cat.RequiresConnection,
				Delegated:          cat.Delegated,
				Core:               cat.coreTools[t.Name()],
			})
		}
	}
	return out
}

// EntriesForSpace returns the entries belonging to one space.
func (c *Catalog) EntriesForSpace(space string) []Entry {
	var out []Entry
	for _, e := range c.Entries() {
		if e.Space == space {
			out = append(out, e)
		}
	}
	return out
}

// Tool resolves a tool by name across all categories.
func (c *Catalog) Tool(name string) (Entry, bool) {
	for _, e := range c.Entries() {
		if e.Name() == name {
			return e, true
		}
	}
	return Entry{}, false
}

// CategoryOf returns the category name for a tool, or "unknown". Lookups are
// cached; the cache is purged whenever a category is (re)registered.
func (c *Catalog) CategoryOf(toolName string) string {
	if cached, ok := c.lookup.Get(toolName); ok {
		return cached
	}

	result := UnknownCategory
	if e, ok := c.Tool(toolName); ok {
		result = e.Category
	}
	c.lookup.Add(toolName, result)
	return result
}

// Spaces returns the distinct space labels in sorted order.
func (c *Catalog) Spaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	for _, cat := range c.categories {
		seen[cat.Space] = true
	}
	spaces := make([]string, 0, len(seen))
	for s := range seen {
		spaces = append(spaces, s)
	}
	sort.Strings(spaces)
	return spaces
}
