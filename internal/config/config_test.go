package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relload/internal/planner"
	"relload/internal/relation"
	"relload/internal/sqlutil"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDatabaseConfig_MySQLDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Driver:   "mysql",
		Host:     "db.example.com",
		User:     "admin",
		Password: "p@ss:w0rd!",
		Database: "shop",
	}
	dsn, err := cfg.DSN()
	require.NoError(t, err)

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "admin", parsed.User)
	assert.Equal(t, "p@ss:w0rd!", parsed.Passwd)
	assert.Equal(t, "db.example.com:4000", parsed.Addr)
	assert.Equal(t, "shop", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, time.UTC, parsed.Loc)
}

func TestDatabaseConfig_MySQLConnectionStringKeepsDatabase(t *testing.T) {
	cfg := DatabaseConfig{
		Driver:           "tidb",
		ConnectionString: "u:p@tcp(tidb:4000)/blog",
		TLS:              DatabaseTLSConfig{Mode: "skip-verify"},
	}
	dsn, err := cfg.DSN()
	require.NoError(t, err)

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "blog", parsed.DBName)
	assert.Equal(t, "skip-verify", parsed.TLSConfig)
	assert.True(t, parsed.ParseTime)
}

func TestDatabaseConfig_PostgresDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Driver:   "postgres",
		Host:     "pg",
		User:     "app",
		Password: "secret",
		Database: "shop",
		TLS:      DatabaseTLSConfig{Mode: "off"},
	}
	dsn, err := cfg.DSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:secret@pg:5432/shop?sslmode=disable", dsn)
}

func TestDatabaseConfig_SQLiteDSN(t *testing.T) {
	cfg := DatabaseConfig{Driver: "sqlite"}
	dsn, err := cfg.DSN()
	require.NoError(t, err)
	assert.Equal(t, ":memory:", dsn)

	cfg.Database = "/var/lib/relload/blog.db"
	dsn, err = cfg.DSN()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/relload/blog.db", dsn)
}

func TestDatabaseConfig_UnknownDriver(t *testing.T) {
	cfg := DatabaseConfig{Driver: "oracle"}
	_, err := cfg.DSN()
	assert.Error(t, err)
}

func TestRegisterTLSIsNoopOutsideMySQLVerifyModes(t *testing.T) {
	assert.NoError(t, (&DatabaseConfig{Driver: "mysql", TLS: DatabaseTLSConfig{Mode: "skip-verify"}}).RegisterTLS())
	assert.NoError(t, (&DatabaseConfig{Driver: "postgres", TLS: DatabaseTLSConfig{Mode: "verify-full"}}).RegisterTLS())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(nil, writeConfigFile(t, "relation:\n  shape: hasMany\n  target: posts\n  parent_table: users\n"))
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, planner.DefaultMaxInClause, cfg.Batching.MaxInClause)
	assert.True(t, cfg.Batching.Cache)
	assert.Equal(t, 8, cfg.Probe.Concurrency)
	assert.Equal(t, 1, cfg.Probe.Repeat)
	assert.Equal(t, "relload", cfg.Observability.ServiceName)
	assert.Equal(t, 10*time.Second, cfg.Observability.OTLP.Timeout)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfigFile(t, `
database:
  driver: sqlite
  database: blog.db
batching:
  wait: 5ms
  max_batch: 100
  max_in_clause: 250
relation:
  shape: belongs_to_many
  target: tags
  parent_table: posts
  where:
    - "tags.archived = 0"
  order_by: name desc
probe:
  keys: [1, 2, 3]
  concurrency: 4
`)
	cfg, err := load(nil, path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 5*time.Millisecond, cfg.Batching.Wait)
	assert.Equal(t, 100, cfg.Batching.MaxBatch)
	assert.Equal(t, 250, cfg.Batching.MaxInClause)
	assert.Equal(t, []string{"tags.archived = 0"}, cfg.Relation.Where)
	assert.Equal(t, []string{"1", "2", "3"}, cfg.Probe.Keys)
	assert.Equal(t, 4, cfg.Probe.Concurrency)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "batching:\n  max_in_clause: 250\n")
	t.Setenv("RELLOAD_BATCHING_MAX_IN_CLAUSE", "50")
	t.Setenv("RELLOAD_PROBE_KEYS", "7, 8")

	cfg, err := load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Batching.MaxInClause)
	assert.Equal(t, []string{"7", "8"}, cfg.Probe.Keys)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("RELLOAD_BATCHING_MAX_BATCH", "3")

	fs := pflag.NewFlagSet("relload", pflag.ContinueOnError)
	registerFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--batching.max_batch=7",
		"--relation.where=status = 'live'",
		"--relation.where=id IN (1,2)",
	}))

	cfg, err := load(fs, writeConfigFile(t, "probe:\n  repeat: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Batching.MaxBatch)
	assert.Equal(t, []string{"status = 'live'", "id IN (1,2)"}, cfg.Relation.Where)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := load(nil, writeConfigFile(t, "batching:\n  bogus: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := load(nil, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_PasswordFile(t *testing.T) {
	secret := filepath.Join(t.TempDir(), "password")
	require.NoError(t, os.WriteFile(secret, []byte("s3cret\n"), 0o600))

	cfg, err := load(nil, writeConfigFile(t, "database:\n  password_file: "+secret+"\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)
}

func TestLoad_RejectsTwoStdinSources(t *testing.T) {
	_, err := load(nil, writeConfigFile(t, "database:\n  dsn_file: \"@-\"\n  password_file: \"@-\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only one @- source is allowed")
}

func TestRelationConfig_Descriptor(t *testing.T) {
	rc := RelationConfig{
		Shape:       "belongsToMany",
		Target:      "tags",
		ParentTable: "posts",
		Where:       []string{"tags.archived = 0", "  "},
		OrderBy:     "name desc",
	}
	desc, err := rc.Descriptor()
	require.NoError(t, err)

	assert.Equal(t, relation.BelongsToMany, desc.Shape)
	assert.Equal(t, "posts_tags", desc.JoinTable)
	assert.Equal(t, "post_id", desc.ForeignKey)
	assert.Equal(t, "tag_id", desc.OtherKey)
	assert.Equal(t, "id", desc.TargetIDAttribute)
	assert.Len(t, desc.Constraints.Where, 1)
	require.NotNil(t, desc.Constraints.OrderBy)
	assert.Equal(t, []string{"name"}, desc.Constraints.OrderBy.Columns)
}

func TestRelationConfig_DescriptorErrors(t *testing.T) {
	_, err := (&RelationConfig{Shape: "manyToOne", Target: "users"}).Descriptor()
	assert.ErrorIs(t, err, relation.ErrInvalidDescriptor)

	_, err = (&RelationConfig{Shape: "hasMany", Target: "posts"}).Descriptor()
	assert.ErrorIs(t, err, relation.ErrInvalidDescriptor)
}

func validConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:                  "mysql",
			Host:                    "localhost",
			Database:                "test",
			Pool:                    PoolConfig{MaxOpen: 10, MaxIdle: 5},
			ConnectionTimeout:       time.Minute,
			ConnectionRetryInterval: 2 * time.Second,
		},
		Batching: BatchingConfig{MaxInClause: 1000, Cache: true},
		Relation: RelationConfig{Shape: "hasMany", Target: "posts", ParentTable: "users"},
		Probe:    ProbeConfig{Keys: []string{"1"}, Concurrency: 2, Repeat: 1},
		Observability: ObservabilityConfig{
			TraceSampleRatio: 1,
			Logging:          LoggingConfig{Level: "info", Format: "json"},
			OTLP:             OTLPConfig{Protocol: "grpc", Compression: "gzip"},
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	result := cfg.Validate()
	assert.False(t, result.HasErrors(), result.Error())
	assert.Empty(t, result.Warnings)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"bad port", func(c *Config) { c.Database.Port = 70000 }, "database.port"},
		{"bad tls mode", func(c *Config) { c.Database.TLS.Mode = "maybe" }, "database.tls.mode"},
		{"verify without ca", func(c *Config) { c.Database.TLS.Mode = "verify-full" }, "database.tls.ca_file"},
		{"no retry interval", func(c *Config) { c.Database.ConnectionRetryInterval = 0 }, "database.connection_retry_interval"},
		{"negative max batch", func(c *Config) { c.Batching.MaxBatch = -1 }, "batching.max_batch"},
		{"zero in clause", func(c *Config) { c.Batching.MaxInClause = 0 }, "batching.max_in_clause"},
		{"missing shape", func(c *Config) { c.Relation.Shape = "" }, "relation.shape"},
		{"missing foreign key", func(c *Config) { c.Relation.ParentTable = "" }, "relation"},
		{"bad order by", func(c *Config) { c.Relation.OrderBy = "name sideways" }, "relation"},
		{"zero concurrency", func(c *Config) { c.Probe.Concurrency = 0 }, "probe.concurrency"},
		{"zero repeat", func(c *Config) { c.Probe.Repeat = 0 }, "probe.repeat"},
		{"bad log level", func(c *Config) { c.Observability.Logging.Level = "loud" }, "observability.logging.level"},
		{"bad sample ratio", func(c *Config) { c.Observability.TraceSampleRatio = 2 }, "observability.trace_sample_ratio"},
		{"bad metrics addr", func(c *Config) { c.Observability.MetricsAddr = "nope" }, "observability.metrics_addr"},
		{"bad otlp protocol", func(c *Config) { c.Observability.OTLP.Protocol = "udp" }, "observability.otlp.protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			result := cfg.Validate()
			require.True(t, result.HasErrors())
			fields := make([]string, 0, len(result.Errors))
			for _, e := range result.Errors {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidate_Warnings(t *testing.T) {
	cfg := validConfig()
	cfg.Batching.Cache = false
	cfg.Probe.Keys = nil
	cfg.Database.Pool.MaxIdle = 20

	result := cfg.Validate()
	assert.False(t, result.HasErrors(), result.Error())
	fields := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		fields = append(fields, w.Field)
	}
	assert.ElementsMatch(t, []string{"batching.cache", "probe.keys", "database.pool.max_idle"}, fields)
}

func TestDialectFromDriver(t *testing.T) {
	d, err := (&DatabaseConfig{Driver: "pgx"}).Dialect()
	require.NoError(t, err)
	assert.Equal(t, sqlutil.DialectPostgres, d)
	assert.Equal(t, 5432, (&DatabaseConfig{Driver: "pgx"}).EffectivePort())
	assert.Equal(t, 3307, (&DatabaseConfig{Driver: "mysql", Port: 3307}).EffectivePort())
}

func TestMergeOTLPConfigs(t *testing.T) {
	obs := ObservabilityConfig{
		OTLP: OTLPConfig{
			Endpoint:    "collector:4317",
			Protocol:    "grpc",
			Headers:     map[string]string{"a": "1"},
			Compression: "gzip",
		},
		Traces: &OTLPConfig{
			Endpoint: "https://traces.example.com",
			Protocol: "http/protobuf",
			Insecure: true,
			Headers:  map[string]string{"b": "2"},
		},
	}

	traces := obs.GetTracesConfig()
	assert.Equal(t, "https://traces.example.com", traces.Endpoint)
	assert.Equal(t, "http/protobuf", traces.Protocol)
	assert.True(t, traces.Insecure)
	assert.Equal(t, "gzip", traces.Compression)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, traces.Headers)

	assert.Equal(t, obs.OTLP, obs.GetLogsConfig())
}
