package loader

import (
	"context"
	"sync"

	"relload/internal/batcher"
	"relload/internal/dbexec"
	"relload/internal/record"
	"relload/internal/relation"
	"relload/internal/sqlutil"
)

// KeyResolver resolves a relation for one parent key. *Session implements it.
type KeyResolver interface {
	Resolve(ctx context.Context, desc relation.Descriptor, parentKey any) *batcher.Thunk[relation.Result]
}

// Relation is a relation of one parent row. Fetch runs a direct query until a
// KeyResolver is installed, after which lookups go through it.
type Relation struct {
	desc      relation.Descriptor
	parentKey any
	exec      dbexec.QueryExecutor
	dialect   sqlutil.Dialect

	mu       sync.Mutex
	resolver KeyResolver
}

// NewRelation describes desc for parentKey. exec and dialect serve the direct
// fetch path.
func NewRelation(desc relation.Descriptor, parentKey any, exec dbexec.QueryExecutor, dialect sqlutil.Dialect) *Relation {
	return &Relation{
		desc:      desc.Normalize(),
		parentKey: parentKey,
		exec:      exec,
		dialect:   dialect,
	}
}

// Descriptor returns the normalized descriptor.
func (r *Relation) Descriptor() relation.Descriptor {
	return r.desc
}

// ParentKey returns the parent key the relation resolves for.
func (r *Relation) ParentKey() any {
	return r.parentKey
}

// Install sets the resolver used by Fetch. Only the first install takes
// effect; later calls report false and change nothing.
func (r *Relation) Install(kr KeyResolver) bool {
	if kr == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolver != nil {
		return false
	}
	r.resolver = kr
	return true
}

// Installed reports whether a resolver is installed.
func (r *Relation) Installed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolver != nil
}

// Load returns the deferred result through the installed resolver, or a
// settled thunk from the direct fetch.
func (r *Relation) Load(ctx context.Context) *batcher.Thunk[relation.Result] {
	r.mu.Lock()
	kr := r.resolver
	r.mu.Unlock()

	if kr != nil {
		return kr.Resolve(ctx, r.desc, r.parentKey)
	}
	result, err := r.fetchDirect(ctx)
	if err != nil {
		return batcher.Failed[relation.Result](err)
	}
	return batcher.Resolved(result)
}

// Fetch resolves the relation and waits for the result.
func (r *Relation) Fetch(ctx context.Context) (relation.Result, error) {
	return r.Load(ctx).Get(ctx)
}

func (r *Relation) fetchDirect(ctx context.Context) (relation.Result, error) {
	resolver, err := relation.NewResolver(r.desc, r.dialect, 0)
	if err != nil {
		return relation.Result{}, err
	}
	if r.desc.Shape == relation.BelongsTo && record.IsAbsent(r.parentKey) {
		return relation.Empty(relation.BelongsTo), nil
	}
	return relation.FetchOne(ctx, r.exec, resolver, r.parentKey)
}
