/*
Package signaling contains the core logic of the pairing server.

This file defines the Registry, which maps a connection id to the identity
claims supplied at connect time so that an abrupt disconnect (no explicit
leave) can still be resolved to a (participant id, room id) pair for
cleanup. The Registry never mutates room state; only the Coordinator does.
*/
package signaling

import (
	"sync"

	"pairdesk/internal/pkg/errs"
)

// Identity holds the claims attached to one live connection.
type Identity struct {
	ParticipantID string
	DisplayName   string
	RoomID        string
}

// Registry tracks the identity claims of each live connection.
type Registry struct {
	// mu protects the entries map.
	mu sync.RWMutex

	// entries maps connection id to the identity registered at connect time.
	entries map[string]Identity
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Identity),
	}
}

// Register records the identity tuple for a connection. All three identity
// fields must be non-empty; otherwise ErrInvalidIdentity is returned and
// the caller must terminate the connection without touching room state.
func (r *Registry) Register(connID string, identity Identity) *errs.CustomError {
	if identity.ParticipantID == "" || identity.DisplayName == "" || identity.RoomID == "" {
		return errs.NewError(errs.ErrInvalidIdentity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[connID] = identity
	return nil
}

// Resolve returns the identity registered for the connection, if still
// present. Idempotent after Unregister: a second lookup simply reports
// absence.
func (r *Registry) Resolve(connID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.entries[connID]
	return identity, ok
}

// Unregister removes the entry for the connection. No-op if already absent.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, connID)
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
