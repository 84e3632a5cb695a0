// Package loader dispatches relation lookups to per-relation batchers. A
// Session is one resolution scope: it owns one batcher per relation-query
// shape, created on first use, and every outcome it memoizes lives exactly as
// long as the session.
package loader

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"relload/internal/batcher"
	"relload/internal/dbexec"
	"relload/internal/logging"
	"relload/internal/observability"
	"relload/internal/planner"
	"relload/internal/record"
	"relload/internal/relation"
	"relload/internal/sqlutil"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// absentKey stands for a missing parent key on shapes that do not
// short-circuit. It never binds into SQL, so it always resolves empty.
const absentKey record.Key = "\x00absent"

// Session resolves relations for one unit of work.
type Session struct {
	id     string
	exec   dbexec.QueryExecutor
	opts   options
	logger *logging.Logger

	mu       sync.Mutex
	bindings map[string]*binding

	stats counters
}

// binding ties one relation-query-shape to its batcher.
type binding struct {
	resolver relation.Resolver
	batcher  *batcher.Batcher[record.Key, relation.Result]

	mu  sync.Mutex
	raw map[record.Key]any
}

// NewSession creates a resolution scope over exec.
func NewSession(exec dbexec.QueryExecutor, opts ...Option) *Session {
	o := options{dialect: sqlutil.DialectMySQL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = &logging.Logger{Logger: slog.Default()}
	}
	id := uuid.NewString()
	return &Session{
		id:       id,
		exec:     exec,
		opts:     o,
		logger:   o.logger.WithSessionID(id),
		bindings: make(map[string]*binding),
	}
}

// ID returns the session id used in logs.
func (s *Session) ID() string {
	return s.id
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return s.stats.snapshot()
}

// Resolve returns the deferred result of desc for parentKey. Lookups of the
// same relation-query-shape issued before the window closes share one fetch.
// A belongsTo lookup with an absent parent key settles to a null result
// without touching a batcher. Invalid descriptors fail for every key.
func (s *Session) Resolve(ctx context.Context, desc relation.Descriptor, parentKey any) *batcher.Thunk[relation.Result] {
	desc = desc.Normalize()
	if desc.Shape == relation.BelongsTo && record.IsAbsent(parentKey) {
		if err := desc.Validate(); err != nil {
			return batcher.Failed[relation.Result](err)
		}
		s.stats.shortCircuits.Add(1)
		if m := observability.LoaderMetricsFromContext(ctx); m != nil {
			m.RecordShortCircuit(ctx, desc.Shape.String())
		}
		return batcher.Resolved(relation.Empty(desc.Shape))
	}

	b, err := s.bindingFor(desc)
	if err != nil {
		return batcher.Failed[relation.Result](err)
	}

	key, ok := record.KeyOf(parentKey)
	if !ok {
		key = absentKey
	}
	b.mu.Lock()
	if _, seen := b.raw[key]; !seen {
		b.raw[key] = parentKey
	}
	b.mu.Unlock()

	return b.batcher.Load(ctx, key)
}

// BelongsTo resolves the target row whose targetIDAttribute equals parentKey.
func (s *Session) BelongsTo(ctx context.Context, target, targetIDAttribute string, parentKey any, c planner.Constraints) *batcher.Thunk[relation.Result] {
	return s.Resolve(ctx, relation.Descriptor{
		Shape:             relation.BelongsTo,
		Target:            target,
		TargetIDAttribute: targetIDAttribute,
		Constraints:       c,
	}, parentKey)
}

// HasOne resolves the target row whose foreignKey equals parentKey.
func (s *Session) HasOne(ctx context.Context, target, foreignKey string, parentKey any, c planner.Constraints) *batcher.Thunk[relation.Result] {
	return s.Resolve(ctx, relation.Descriptor{
		Shape:       relation.HasOne,
		Target:      target,
		ForeignKey:  foreignKey,
		Constraints: c,
	}, parentKey)
}

// HasMany resolves the target rows whose foreignKey equals parentKey.
func (s *Session) HasMany(ctx context.Context, target, foreignKey string, parentKey any, c planner.Constraints) *batcher.Thunk[relation.Result] {
	return s.Resolve(ctx, relation.Descriptor{
		Shape:       relation.HasMany,
		Target:      target,
		ForeignKey:  foreignKey,
		Constraints: c,
	}, parentKey)
}

// BelongsToMany resolves the target rows linked to parentKey through joinTable.
func (s *Session) BelongsToMany(ctx context.Context, target, joinTable, foreignKey, otherKey, targetIDAttribute string, parentKey any, c planner.Constraints) *batcher.Thunk[relation.Result] {
	return s.Resolve(ctx, relation.Descriptor{
		Shape:             relation.BelongsToMany,
		Target:            target,
		JoinTable:         joinTable,
		ForeignKey:        foreignKey,
		OtherKey:          otherKey,
		TargetIDAttribute: targetIDAttribute,
		Constraints:       c,
	}, parentKey)
}

// Dispatch closes the open window of every batcher.
func (s *Session) Dispatch() {
	s.mu.Lock()
	bindings := make([]*binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		bindings = append(bindings, b)
	}
	s.mu.Unlock()

	for _, b := range bindings {
		b.batcher.Dispatch()
	}
}

// Attach installs the session as rel's resolver. It reports false when rel
// already had one.
func (s *Session) Attach(rel *Relation) bool {
	return rel.Install(s)
}

func (s *Session) bindingFor(desc relation.Descriptor) (*binding, error) {
	key := desc.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.bindings[key]; ok {
		return b, nil
	}

	resolver, err := relation.NewResolver(desc, s.opts.dialect, s.opts.maxInClause)
	if err != nil {
		s.logger.Warn("invalid relation descriptor",
			slog.String("relation", key),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	b := &binding{resolver: resolver, raw: make(map[record.Key]any)}
	shape := resolver.Shape().String()
	opts := []batcher.Option{
		batcher.WithName(key),
		batcher.WithLogger(s.logger.Logger),
	}
	opts = append(opts, s.opts.batcherOpts...)
	opts = append(opts, batcher.WithHooks(s.hooks(shape)))
	b.batcher = batcher.New(s.fetchFunc(b), opts...)
	s.bindings[key] = b

	s.logger.Debug("relation batcher created", slog.String("relation", key))
	return b, nil
}

func (s *Session) hooks(shape string) batcher.Hooks {
	return batcher.Hooks{
		OnCacheHit: func(ctx context.Context) {
			s.stats.cacheHits.Add(1)
			if m := observability.LoaderMetricsFromContext(ctx); m != nil {
				m.RecordBatchCacheHit(ctx, shape)
			}
		},
		OnCacheMiss: func(ctx context.Context) {
			s.stats.cacheMisses.Add(1)
			if m := observability.LoaderMetricsFromContext(ctx); m != nil {
				m.RecordBatchCacheMiss(ctx, shape)
			}
		},
		OnFailure: func(ctx context.Context, _ int, _ error) {
			s.stats.failures.Add(1)
			if m := observability.LoaderMetricsFromContext(ctx); m != nil {
				m.RecordBatchFailure(ctx, shape)
			}
		},
	}
}

func (s *Session) fetchFunc(b *binding) batcher.FetchFunc[record.Key, relation.Result] {
	return func(ctx context.Context, keys []record.Key) ([]relation.Result, error) {
		shape := b.resolver.Shape().String()
		desc := b.resolver.Descriptor()
		ctx, span := observability.StartBatchSpan(ctx, shape,
			attribute.String("relload.relation.target", desc.Target),
			attribute.Int("relload.batch.keys", len(keys)),
		)

		raws := make([]any, len(keys))
		b.mu.Lock()
		for i, k := range keys {
			if k == absentKey {
				continue
			}
			raws[i] = b.raw[k]
		}
		b.mu.Unlock()

		exec := &countingExecutor{next: s.exec}
		start := time.Now()
		results, err := relation.Fetch(ctx, exec, b.resolver, raws)
		observability.FinishBatchSpan(span, err)
		if err != nil {
			return nil, err
		}

		queries := exec.queries.Load()
		rows := totalRows(results)
		s.stats.batches.Add(1)
		s.stats.queries.Add(queries)
		s.stats.keysFetched.Add(int64(len(keys)))
		s.stats.rowsFetched.Add(int64(rows))
		if m := observability.LoaderMetricsFromContext(ctx); m != nil {
			m.RecordBatch(ctx, shape, len(keys), rows, time.Since(start))
			m.RecordBatchQueriesSaved(ctx, planner.QueriesSaved(len(keys), int(queries)), shape)
		}
		return results, nil
	}
}

func totalRows(results []relation.Result) int {
	n := 0
	for _, r := range results {
		n += r.Len()
	}
	return n
}
