// Package view projects committed envelopes into read models.
//
// For every envelope the dispatcher computes the view id, loads the current
// view (or the projection's default), lets the projection update it and
// saves the result when it changed.
package view

import (
	"context"
	"fmt"

	"github.com/AshkanYarmoradi/go-stoat"
)

// Projection folds envelopes into views of type V.
type Projection[V any] interface {
	// ViewID names the view an envelope belongs to. An empty id skips the envelope.
	ViewID(env stoat.Envelope) string

	// Default returns the view used when none is stored yet.
	Default(viewID string) V

	// Update applies env to view. It reports false when the view is unchanged.
	Update(view V, env stoat.Envelope) (V, bool)
}

// Store persists views by id. Stores that can answer queries also
// implement Lister.
type Store[V any] interface {
	Find(ctx context.Context, viewID string) (V, bool, error)
	Save(ctx context.Context, viewID string, view V) error
}

// ProjectionFuncs builds a Projection from functions. A nil DefaultFunc
// yields the zero value.
type ProjectionFuncs[V any] struct {
	ViewIDFunc  func(env stoat.Envelope) string
	DefaultFunc func(viewID string) V
	UpdateFunc  func(view V, env stoat.Envelope) (V, bool)
}

// ViewID implements Projection.
func (p ProjectionFuncs[V]) ViewID(env stoat.Envelope) string {
	return p.ViewIDFunc(env)
}

// Default implements Projection.
func (p ProjectionFuncs[V]) Default(viewID string) V {
	if p.DefaultFunc == nil {
		var zero V
		return zero
	}
	return p.DefaultFunc(viewID)
}

// Update implements Projection.
func (p ProjectionFuncs[V]) Update(view V, env stoat.Envelope) (V, bool) {
	return p.UpdateFunc(view, env)
}

// ByAggregateID keys views by the envelope's aggregate id.
func ByAggregateID(env stoat.Envelope) string {
	return env.AggregateID
}

// Dispatcher is a stoat.Dispatcher that maintains views.
type Dispatcher[V any] struct {
	name       string
	projection Projection[V]
	store      Store[V]
}

// New creates a view Dispatcher.
func New[V any](name string, projection Projection[V], store Store[V]) *Dispatcher[V] {
	return &Dispatcher[V]{name: name, projection: projection, store: store}
}

// Name implements stoat.Named.
func (d *Dispatcher[V]) Name() string {
	return "view:" + d.name
}

// Store returns the view store.
func (d *Dispatcher[V]) Store() Store[V] {
	return d.store
}

// Dispatch implements stoat.Dispatcher. It stops at the first store error;
// views already saved for earlier envelopes of the batch stay saved.
func (d *Dispatcher[V]) Dispatch(ctx context.Context, aggregateType string, envelopes []stoat.Envelope) error {
	for _, env := range envelopes {
		id := d.projection.ViewID(env)
		if id == "" {
			continue
		}

		current, found, err := d.store.Find(ctx, id)
		if err != nil {
			return fmt.Errorf("stoat/view: %s: find %q: %w", d.name, id, err)
		}
		if !found {
			current = d.projection.Default(id)
		}

		next, changed := d.projection.Update(current, env)
		if !changed {
			continue
		}
		if err := d.store.Save(ctx, id, next); err != nil {
			return fmt.Errorf("stoat/view: %s: save %q: %w", d.name, id, err)
		}
	}
	return nil
}
