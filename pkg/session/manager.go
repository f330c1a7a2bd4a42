package session

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// NewID generates session identifiers. Defaults to random UUIDs.
	NewID func() string
}

func (o *ManagerOptions) normalized() ManagerOptions {
	if o == nil {
		o = &ManagerOptions{}
	}
	opts := *o
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return opts
}

// Manager owns the session tables of both transport generations. It is
// created once per server and handed to the routing handlers by reference.
type Manager struct {
	Streamable *Table
	Legacy     *Table

	newID func() string
}

// NewManager returns a Manager with two empty tables.
func NewManager(opts *ManagerOptions) *Manager {
	options := opts.normalized()
	return &Manager{
		Streamable: NewTable(GenerationStreamable),
		Legacy:     NewTable(GenerationLegacy),
		newID:      options.NewID,
	}
}

// NewID returns a fresh session identifier.
func (m *Manager) NewID() string {
	return m.newID()
}

// Counts reports the number of live sessions per generation.
func (m *Manager) Counts() map[Generation]int {
	return map[Generation]int{
		GenerationStreamable: m.Streamable.Len(),
		GenerationLegacy:     m.Legacy.Len(),
	}
}

// CloseAll closes every live session in both tables, giving up once ctx is
// done.
func (m *Manager) CloseAll(ctx context.Context) error {
	return errors.Join(m.Streamable.CloseAll(ctx), m.Legacy.CloseAll(ctx))
}
