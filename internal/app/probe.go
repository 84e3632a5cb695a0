package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"

	"relload/internal/batcher"
	"relload/internal/dbexec"
	"relload/internal/loader"
	"relload/internal/logging"
	"relload/internal/observability"
	"relload/internal/relation"
)

// ErrLookupsFailed is returned by Run when at least one key failed to resolve.
var ErrLookupsFailed = errors.New("relation lookups failed")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RoundReport is the document written for one probe round.
type RoundReport struct {
	Round     int               `json:"round"`
	SessionID string            `json:"session_id"`
	Relation  string            `json:"relation"`
	ElapsedMS float64           `json:"elapsed_ms"`
	Stats     loader.Stats      `json:"stats"`
	Results   map[string]any    `json:"results"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Run resolves the configured relation for every probe key, once per round,
// and writes one JSON document per round to out. Each round uses a fresh
// session, so nothing is cached across rounds.
func (a *App) Run(ctx context.Context, out io.Writer) error {
	a.stateMu.Lock()
	exec := a.executor
	initialized := a.initialized
	a.stateMu.Unlock()
	if !initialized {
		return fmt.Errorf("app is not initialized")
	}

	enc := json.NewEncoder(out)
	failed := 0
	for round := 1; round <= a.cfg.Probe.Repeat; round++ {
		if round > 1 && a.cfg.Probe.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.cfg.Probe.Interval):
			}
		}

		report, err := a.runRound(ctx, exec, round)
		if err != nil {
			return err
		}
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to write round %d: %w", round, err)
		}
		failed += len(report.Errors)
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d failed", ErrLookupsFailed, failed)
	}
	return nil
}

func (a *App) sessionOptions() []loader.Option {
	b := a.cfg.Batching
	return []loader.Option{
		loader.WithDialect(a.dialect),
		loader.WithMaxInClause(b.MaxInClause),
		loader.WithLogger(a.logger),
		loader.WithBatcherOptions(
			batcher.WithWait(b.Wait),
			batcher.WithMaxBatch(b.MaxBatch),
			batcher.WithCache(b.Cache),
		),
	}
}

func (a *App) runRound(ctx context.Context, exec dbexec.QueryExecutor, round int) (*RoundReport, error) {
	session := loader.NewSession(exec, a.sessionOptions()...)
	logger := a.logger.WithSessionID(session.ID())

	ctx = loader.WithSession(ctx, session)
	ctx = logging.WithLogger(ctx, logger)
	if a.loaderMetrics != nil {
		ctx = observability.ContextWithLoaderMetrics(ctx, a.loaderMetrics)
	}

	keys := a.cfg.Probe.Keys
	start := time.Now()

	// Register every lookup before awaiting any, so they share windows.
	thunks := make([]*batcher.Thunk[relation.Result], len(keys))
	var register errgroup.Group
	register.SetLimit(a.cfg.Probe.Concurrency)
	for i, raw := range keys {
		register.Go(func() error {
			thunks[i] = session.Resolve(ctx, a.descriptor, probeKey(raw))
			return nil
		})
	}
	_ = register.Wait()

	report := &RoundReport{
		Round:     round,
		SessionID: session.ID(),
		Relation:  a.descriptor.Key(),
		Results:   make(map[string]any, len(keys)),
	}

	var mu sync.Mutex
	var await errgroup.Group
	await.SetLimit(a.cfg.Probe.Concurrency)
	for i, raw := range keys {
		await.Go(func() error {
			res, err := thunks[i].Get(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if report.Errors == nil {
					report.Errors = make(map[string]string)
				}
				report.Errors[raw] = err.Error()
				return nil
			}
			report.Results[raw] = res.Value()
			return nil
		})
	}
	_ = await.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	report.ElapsedMS = float64(elapsed.Microseconds()) / 1000
	report.Stats = session.Stats()

	logger.Info("probe round finished",
		slog.Int("round", round),
		slog.Int("keys", len(keys)),
		slog.Int64("batches", report.Stats.Batches),
		slog.Int64("queries", report.Stats.Queries),
		slog.Int("failed", len(report.Errors)),
		slog.Duration("elapsed", elapsed),
	)
	return report, nil
}

// probeKey maps a configured key to a parent key; "null" and blank keys stand
// for an absent parent key.
func probeKey(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "null") {
		return nil
	}
	return trimmed
}
