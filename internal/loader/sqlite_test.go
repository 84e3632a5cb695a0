package loader

import (
	"context"
	"database/sql"
	"testing"

	"relload/internal/batcher"
	"relload/internal/dbexec"
	"relload/internal/planner"
	"relload/internal/relation"
	"relload/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const blogSchema = `
CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, manager_id INTEGER);
CREATE TABLE profiles (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL, bio TEXT);
CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL, title TEXT NOT NULL, published INTEGER NOT NULL);
CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE posts_tags (post_id INTEGER NOT NULL, tag_id INTEGER NOT NULL);

INSERT INTO users (id, name, manager_id) VALUES (1, 'ada', NULL), (2, 'grace', 1), (3, 'edsger', 1);
INSERT INTO profiles (id, user_id, bio) VALUES (10, 1, 'first'), (11, 2, 'second');
INSERT INTO posts (id, user_id, title, published) VALUES
	(100, 1, 'engines', 1),
	(101, 1, 'notes', 0),
	(102, 2, 'cobol', 1);
INSERT INTO tags (id, name) VALUES (1000, 'math'), (1001, 'history'), (1002, 'compilers');
INSERT INTO posts_tags (post_id, tag_id) VALUES (100, 1000), (100, 1001), (102, 1002);
`

func openBlogDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open(sqlutil.DialectSQLite.DriverName(), ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(blogSchema)
	require.NoError(t, err)
	return db
}

func names(t *testing.T, result relation.Result, attr string) []string {
	t.Helper()
	out := make([]string, 0, result.Len())
	for _, rec := range result.Many {
		name, ok := rec.Get(attr).(string)
		require.True(t, ok)
		out = append(out, name)
	}
	return out
}

func TestSQLiteResolvesEveryShape(t *testing.T) {
	db := openBlogDB(t)
	s := NewSession(dbexec.NewStandardExecutor(db), WithDialect(sqlutil.DialectSQLite))
	ctx := context.Background()
	byID := planner.Constraints{OrderBy: &planner.OrderBy{Columns: []string{"id"}}}

	managers := []*batcher.Thunk[relation.Result]{
		s.BelongsTo(ctx, "users", "id", sql.NullInt64{}, planner.Constraints{}),
		s.BelongsTo(ctx, "users", "id", sql.NullInt64{Int64: 1, Valid: true}, planner.Constraints{}),
		s.BelongsTo(ctx, "users", "id", int64(1), planner.Constraints{}),
	}
	profiles := []*batcher.Thunk[relation.Result]{
		s.HasOne(ctx, "profiles", "user_id", 1, planner.Constraints{}),
		s.HasOne(ctx, "profiles", "user_id", 3, planner.Constraints{}),
	}
	posts := []*batcher.Thunk[relation.Result]{
		s.HasMany(ctx, "posts", "user_id", 1, byID),
		s.HasMany(ctx, "posts", "user_id", 2, byID),
		s.HasMany(ctx, "posts", "user_id", 3, byID),
	}
	tags := []*batcher.Thunk[relation.Result]{
		s.BelongsToMany(ctx, "tags", "posts_tags", "post_id", "tag_id", "id", 100, byID),
		s.BelongsToMany(ctx, "tags", "posts_tags", "post_id", "tag_id", "id", 101, byID),
		s.BelongsToMany(ctx, "tags", "posts_tags", "post_id", "tag_id", "id", 102, byID),
	}

	all := append(append(append(append([]*batcher.Thunk[relation.Result]{}, managers...), profiles...), posts...), tags...)
	results, errs := batcher.GetAll(ctx, all)
	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.False(t, results[0].Found())
	require.True(t, results[1].Found())
	assert.Equal(t, "ada", results[1].One.Get("name"))
	assert.Equal(t, results[1].One, results[2].One)

	require.True(t, results[3].Found())
	assert.Equal(t, "first", results[3].One.Get("bio"))
	assert.False(t, results[4].Found())

	assert.Equal(t, []string{"engines", "notes"}, names(t, results[5], "title"))
	assert.Equal(t, []string{"cobol"}, names(t, results[6], "title"))
	assert.Empty(t, results[7].Many)

	assert.Equal(t, []string{"math", "history"}, names(t, results[8], "name"))
	assert.Empty(t, results[9].Many)
	assert.Equal(t, []string{"compilers"}, names(t, results[10], "name"))
	assert.EqualValues(t, 102, results[10].Many[0].Get("_pivot_post_id"))

	stats := s.Stats()
	assert.EqualValues(t, 4, stats.Batches, "one batch per relation-query-shape")
	assert.EqualValues(t, 4, stats.Queries)
	assert.EqualValues(t, 1, stats.ShortCircuits)
}

func TestSQLiteConstraintsFilterRows(t *testing.T) {
	db := openBlogDB(t)
	s := NewSession(dbexec.NewStandardExecutor(db), WithDialect(sqlutil.DialectSQLite))
	ctx := context.Background()

	published := planner.Constraints{
		Where:   []sq.Sqlizer{planner.Where(`"posts"."published" = ?`, 1)},
		OrderBy: &planner.OrderBy{Columns: []string{"id"}, Direction: "DESC"},
	}
	result, err := s.HasMany(ctx, "posts", "user_id", 1, published).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"engines"}, names(t, result, "title"))

	all, err := s.HasMany(ctx, "posts", "user_id", 1, planner.Constraints{
		OrderBy: &planner.OrderBy{Columns: []string{"id"}, Direction: "DESC"},
	}).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes", "engines"}, names(t, all, "title"))
}

func TestSQLiteRelationDirectAndBatched(t *testing.T) {
	db := openBlogDB(t)
	exec := dbexec.NewStandardExecutor(db)
	ctx := context.Background()

	desc := relation.Descriptor{Shape: relation.BelongsToMany, Target: "tags", ParentTable: "posts"}
	rel := NewRelation(desc, 100, exec, sqlutil.DialectSQLite)

	direct, err := rel.Fetch(ctx)
	require.NoError(t, err)
	assert.Len(t, direct.Many, 2)

	s := NewSession(exec, WithDialect(sqlutil.DialectSQLite))
	require.True(t, s.Attach(rel))
	batched, err := rel.Fetch(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, direct.Many, batched.Many)
	assert.EqualValues(t, 1, s.Stats().Batches)
}
