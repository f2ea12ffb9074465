package graph

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
)

// UserChecker answers whether a root user exists. Implemented by the user
// repository.
type UserChecker interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Resolver turns the static manifest into an execution order. The topological
// sort runs once at construction; Resolve only binds a root id to it.
type Resolver struct {
	users UserChecker
	order []EntitySpec
}

// NewResolver sorts the manifest so every kind precedes all of its FK parents.
// A cyclic manifest is a programming error and is rejected.
func NewResolver(users UserChecker, manifest []EntitySpec) (*Resolver, error) {
	order, err := sortManifest(manifest)
	if err != nil {
		return nil, err
	}
	return &Resolver{users: users, order: order}, nil
}

// Order exposes the precomputed step order (for audits and tests).
func (r *Resolver) Order() []EntitySpec { return r.order }

// Resolve returns the ordered steps for one root user. A missing user yields
// an empty list, never an error: re-deleting an absent root is a satisfied
// no-op, which keeps sweep re-runs idempotent.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) ([]EntitySpec, error) {
	ok, err := r.users.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return r.order, nil
}

// sortManifest emits children before parents: a kind is ready once every kind
// depending on it has been emitted.
func sortManifest(manifest []EntitySpec) ([]EntitySpec, error) {
	pending := make(map[string]int, len(manifest)) // kind -> unemitted dependents
	byKind := make(map[string]EntitySpec, len(manifest))
	for _, s := range manifest {
		if _, dup := byKind[s.Kind]; dup {
			return nil, fmt.Errorf("graph: duplicate kind %q", s.Kind)
		}
		byKind[s.Kind] = s
	}
	for _, s := range manifest {
		for _, parent := range s.DependsOn {
			if _, ok := byKind[parent]; !ok {
				return nil, fmt.Errorf("graph: %q depends on unknown kind %q", s.Kind, parent)
			}
			pending[parent]++
		}
	}

	order := make([]EntitySpec, 0, len(manifest))
	emitted := make(map[string]bool, len(manifest))
	for len(order) < len(manifest) {
		progressed := false
		for _, s := range manifest {
			if emitted[s.Kind] || pending[s.Kind] > 0 {
				continue
			}
			order = append(order, s)
			emitted[s.Kind] = true
			for _, parent := range s.DependsOn {
				pending[parent]--
			}
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("graph: dependency cycle in manifest")
		}
	}
	return order, nil
}
