// Package roomcatalog holds the fixed set of rooms a relay process serves.
// The set is established at startup and never mutated at runtime.
package roomcatalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrUnknownRoom is returned for a room identifier outside the catalog.
	ErrUnknownRoom = errors.New("roomcatalog: unknown room")
	// ErrEmptyCatalog is returned when no usable room names are configured.
	ErrEmptyCatalog = errors.New("roomcatalog: at least one room is required")
)

// Catalog validates room identifiers and lists them in configured order.
type Catalog struct {
	order []string
	index map[string]struct{}
}

// New builds a catalog from the configured room names. Names are trimmed,
// blanks are dropped, and duplicates keep their first position.
func New(rooms []string) (*Catalog, error) {
	c := &Catalog{index: make(map[string]struct{}, len(rooms))}
	for _, room := range rooms {
		room = strings.TrimSpace(room)
		if room == "" {
			continue
		}
		if _, ok := c.index[room]; ok {
			continue
		}
		c.index[room] = struct{}{}
		c.order = append(c.order, room)
	}
	if len(c.order) == 0 {
		return nil, ErrEmptyCatalog
	}
	return c, nil
}

// ParseList splits a comma-separated room list, e.g. from an environment
// variable, into names suitable for New.
func ParseList(value string) []string {
	parts := strings.Split(value, ",")
	rooms := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			rooms = append(rooms, trimmed)
		}
	}
	return rooms
}

// List returns the room names in configured order.
func (c *Catalog) List() []string {
	return slices.Clone(c.order)
}

// Valid reports whether room is in the catalog.
func (c *Catalog) Valid(room string) bool {
	_, ok := c.index[room]
	return ok
}

// Require returns ErrUnknownRoom (with the offending name) for rooms outside
// the catalog.
func (c *Catalog) Require(room string) error {
	if !c.Valid(room) {
		return fmt.Errorf("%w: %q", ErrUnknownRoom, room)
	}
	return nil
}
