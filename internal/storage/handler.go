package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dokzlo13/converge/internal/reconcile"
)

// Handler manages one kind of record in the Store as reconcilable resources.
// A stored record is a present resource; its attributes are the JSON payload.
type Handler struct {
	store *Store
	kind  string
}

// NewHandler creates a handler for the given kind.
func NewHandler(store *Store, kind string) *Handler {
	return &Handler{store: store, kind: kind}
}

// Kind returns the kind this handler manages.
func (h *Handler) Kind() string {
	return h.kind
}

// Get returns every stored record as a present state.
func (h *Handler) Get(ctx context.Context) ([]reconcile.State, error) {
	records, err := h.store.List(h.kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", h.kind, err)
	}

	states := make([]reconcile.State, 0, len(records))
	for _, rec := range records {
		state := reconcile.State{}
		if len(rec.Payload) > 0 {
			if err := json.Unmarshal(rec.Payload, &state); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s/%s: %w", h.kind, rec.Name, err)
			}
		}
		state[reconcile.AttrName] = rec.Name
		state[reconcile.AttrPresence] = string(reconcile.Present)
		states = append(states, state)
	}
	return states, nil
}

// Create inserts a new record. It fails if the record already exists.
func (h *Handler) Create(ctx context.Context, name string, should reconcile.State) error {
	payload, err := marshalAttributes(should)
	if err != nil {
		return err
	}
	if err := h.store.Insert(h.kind, name, payload); err != nil {
		return fmt.Errorf("failed to insert %s/%s: %w", h.kind, name, err)
	}
	return nil
}

// Update replaces an existing record's attributes.
func (h *Handler) Update(ctx context.Context, name string, should reconcile.State) error {
	payload, err := marshalAttributes(should)
	if err != nil {
		return err
	}
	if err := h.store.Update(h.kind, name, payload); err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", h.kind, name, err)
	}
	return nil
}

// Delete removes the record.
func (h *Handler) Delete(ctx context.Context, name string) error {
	if err := h.store.Delete(h.kind, name); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", h.kind, name, err)
	}
	return nil
}

// marshalAttributes encodes a state without the attributes owned by the
// record itself (name, id, presence).
func marshalAttributes(s reconcile.State) ([]byte, error) {
	attrs := make(map[string]any, len(s))
	for k, v := range s {
		switch k {
		case reconcile.AttrName, reconcile.AttrID, reconcile.AttrPresence:
			continue
		}
		attrs[k] = v
	}

	payload, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return payload, nil
}
