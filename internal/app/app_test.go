package app

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relload/internal/config"
	"relload/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "error", Format: "text", Output: &bytes.Buffer{}})
}

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			// One connection keeps the in-memory database alive.
			Pool: config.PoolConfig{MaxOpen: 1, MaxIdle: 1},
		},
		Batching: config.BatchingConfig{MaxInClause: 1000, Cache: true},
		Relation: config.RelationConfig{
			Shape:       "hasMany",
			Target:      "posts",
			ParentTable: "users",
			OrderBy:     "id",
		},
		Probe: config.ProbeConfig{
			Keys:        []string{"1", "2", "3", "1"},
			Concurrency: 4,
			Repeat:      2,
		},
		Observability: config.ObservabilityConfig{
			Logging: config.LoggingConfig{Level: "error", Format: "text"},
		},
	}
}

func initApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	_, err = a.DB().Exec(`
		CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER, title TEXT);
		INSERT INTO posts (id, user_id, title) VALUES
			(10, 1, 'first'), (11, 1, 'second'), (12, 2, 'third');
	`)
	require.NoError(t, err)
	return a
}

func readReports(t *testing.T, out *bytes.Buffer) []RoundReport {
	t.Helper()
	var reports []RoundReport
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var r RoundReport
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		reports = append(reports, r)
	}
	require.NoError(t, scanner.Err())
	return reports
}

func TestRunResolvesEveryKeyInOneQueryPerRound(t *testing.T) {
	a := initApp(t, testConfig())

	var out bytes.Buffer
	require.NoError(t, a.Run(context.Background(), &out))

	reports := readReports(t, &out)
	require.Len(t, reports, 2)
	assert.NotEqual(t, reports[0].SessionID, reports[1].SessionID)

	for i, r := range reports {
		assert.Equal(t, i+1, r.Round)
		assert.Empty(t, r.Errors)
		assert.EqualValues(t, 1, r.Stats.Batches)
		assert.EqualValues(t, 1, r.Stats.Queries)
		assert.EqualValues(t, 3, r.Stats.KeysFetched)
		assert.EqualValues(t, 3, r.Stats.RowsFetched)

		require.Contains(t, r.Results, "1")
		assert.Len(t, r.Results["1"], 2)
		assert.Len(t, r.Results["2"], 1)
		assert.Equal(t, []any{}, r.Results["3"])
	}
}

func TestRunReportsFailedLookups(t *testing.T) {
	cfg := testConfig()
	cfg.Relation.Target = "missing_table"
	cfg.Probe.Repeat = 1
	a := initApp(t, cfg)

	var out bytes.Buffer
	err := a.Run(context.Background(), &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLookupsFailed))

	reports := readReports(t, &out)
	require.Len(t, reports, 1)
	assert.Len(t, reports[0].Errors, 3)
	assert.Empty(t, reports[0].Results)
	assert.EqualValues(t, 1, reports[0].Stats.Failures)
}

func TestRunBeforeInitFails(t *testing.T) {
	a, err := New(testConfig(), testLogger())
	require.NoError(t, err)
	assert.Error(t, a.Run(context.Background(), &bytes.Buffer{}))
}

func TestNewRejectsInvalidRelation(t *testing.T) {
	cfg := testConfig()
	cfg.Relation.ParentTable = ""
	_, err := New(cfg, testLogger())
	assert.Error(t, err)

	_, err = New(nil, testLogger())
	assert.Error(t, err)
}

func TestShutdown_Idempotent(t *testing.T) {
	a := &App{logger: testLogger()}
	var calls int32
	a.cleanup.push("test", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, a.Shutdown(ctx))
	require.NoError(t, a.Shutdown(ctx))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCleanupStackRunsInReverseOrder(t *testing.T) {
	var order []string
	s := cleanupStack{}
	s.push("first", func(context.Context) error { order = append(order, "first"); return nil })
	s.push("second", func(context.Context) error { order = append(order, "second"); return errors.New("ignored") })
	s.push("third", func(context.Context) error { order = append(order, "third"); return nil })

	s.run(context.Background(), testLogger())
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestInitFailureDoesNotMarkInitialized(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Driver = "postgres"
	cfg.Database.Host = "127.0.0.1"
	cfg.Database.Port = 1
	cfg.Database.TLS.Mode = "off"

	a, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Error(t, a.Init(ctx))
	assert.False(t, a.initialized)
	assert.Error(t, a.Run(ctx, &bytes.Buffer{}))
}

func TestHealthHandler(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	rec := httptest.NewRecorder()
	healthHandler(db, time.Second)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","database":"ok"}`, rec.Body.String())

	mock.ExpectPing().WillReturnError(errors.New("down"))
	rec = httptest.NewRecorder()
	healthHandler(db, time.Second)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricsHandlerServesPrometheus(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rec := httptest.NewRecorder()
	buildMetricsHandler(db).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# TYPE")
}

func TestProbeKey(t *testing.T) {
	assert.Nil(t, probeKey("null"))
	assert.Nil(t, probeKey("  "))
	assert.Equal(t, "42", probeKey(" 42 "))
}
