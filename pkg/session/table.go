package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrDuplicateSession is returned by Register when the id is already live.
	ErrDuplicateSession = errors.New("session: duplicate session id")
	// ErrSessionNotFound is returned by Lookup when no live session has the id.
	ErrSessionNotFound = errors.New("session: session not found")
)

// Table maps session identifiers to live handles for one transport generation.
//
// HTTP handlers run on their own goroutines, so the map is guarded; beyond
// that each key is only written by the establish and close paths of its own
// session.
type Table struct {
	generation Generation

	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewTable returns an empty table for the given generation.
func NewTable(gen Generation) *Table {
	return &Table{
		generation: gen,
		handles:    make(map[string]*Handle),
	}
}

// Generation reports which transport generation the table serves.
func (t *Table) Generation() Generation {
	return t.generation
}

// Register inserts a new entry.
func (t *Table) Register(id string, h *Handle) error {
	if h == nil {
		return fmt.Errorf("session: nil handle for %q", id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.handles[id]; ok {
		return fmt.Errorf("%w: %s %q", ErrDuplicateSession, t.generation, id)
	}
	t.handles[id] = h
	return nil
}

// Lookup returns the live handle for id.
func (t *Table) Lookup(id string) (*Handle, error) {
	t.mu.RLock()
	h, ok := t.handles[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrSessionNotFound, t.generation, id)
	}
	return h, nil
}

// Remove deletes the entry for id and reports whether one existed. Removing an
// absent id is a no-op.
func (t *Table) Remove(id string) bool {
	t.mu.Lock()
	h, ok := t.handles[id]
	if ok {
		delete(t.handles, id)
	}
	t.mu.Unlock()
	if ok {
		h.release()
	}
	return ok
}

// Len returns the number of live sessions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handles)
}

// IDs returns a sorted snapshot of the live session identifiers.
func (t *Table) IDs() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.handles))
	for id := range t.handles {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Idle returns the handles that have served no request since before cutoff
// and have none in flight.
func (t *Table) Idle(cutoff time.Time) []*Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var idle []*Handle
	for _, h := range t.handles {
		if since, ok := h.IdleSince(); ok && since.Before(cutoff) {
			idle = append(idle, h)
		}
	}
	return idle
}

// CloseAll closes every live handle concurrently and waits until each close
// returns or ctx is done. Entries disappear as their close paths observe the
// termination and call Remove.
func (t *Table) CloseAll(ctx context.Context) error {
	t.mu.RLock()
	handles := make([]*Handle, 0, len(t.handles))
	for _, h := range t.handles {
		handles = append(handles, h)
	}
	t.mu.RUnlock()

	errCh := make(chan error, len(handles))
	for _, h := range handles {
		go func() {
			if err := h.Close(); err != nil {
				errCh <- fmt.Errorf("close %s session %q: %w", t.generation, h.ID, err)
				return
			}
			errCh <- nil
		}()
	}

	var errs []error
	for range handles {
		select {
		case err := <-errCh:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("close %s sessions: %w", t.generation, ctx.Err()))
			return errors.Join(errs...)
		}
	}
	return errors.Join(errs...)
}
