//nolint:testpackage
package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-sternik/codeindex/pkg/config"
	"github.com/p-sternik/codeindex/pkg/lock/local"
	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/uri"
)

func TestBuildLockerDefaultsToLocal(t *testing.T) {
	t.Parallel()

	l, err := buildLocker(context.Background(), config.Lock{}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, local.NewLocker(), l)
}

func TestBuildLockerRedisDegradesWhenUnreachable(t *testing.T) {
	t.Parallel()

	l, err := buildLocker(context.Background(), config.Lock{
		Backend:            "redis",
		RedisAddrs:         []string{"127.0.0.1:1"},
		RedisAllowDegraded: true,
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestBuildLockerRedisFailsWithoutDegradedMode(t *testing.T) {
	t.Parallel()

	_, err := buildLocker(context.Background(), config.Lock{
		Backend:    "redis",
		RedisAddrs: []string{"127.0.0.1:1"},
	}, zerolog.Nop())
	require.Error(t, err)
}

func TestBuildShardStoreDefaultsToFileBackend(t *testing.T) {
	t.Parallel()

	cfg := config.Default(t.TempDir())

	store, closeStore, err := buildShardStore(context.Background(), cfg, local.NewLocker(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeStore() })

	u := uri.New("/repo/widget.ts")
	require.NoError(t, store.Put(context.Background(), u, model.FileShard{ContentHash: "v1", ShardVersion: model.ShardVersion}))

	got, err := store.Get(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.ContentHash)
}

func TestBuildShardStoreOpensSQLiteBackend(t *testing.T) {
	t.Parallel()

	cfg := config.Default(t.TempDir())
	cfg.ShardStore = config.ShardStore{
		Backend:   "sql",
		SQLDriver: "sqlite",
		SQLDSN:    filepath.Join(t.TempDir(), "shards.sqlite3"),
	}

	store, closeStore, err := buildShardStore(context.Background(), cfg, local.NewLocker(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeStore() })

	u := uri.New("/repo/widget.ts")
	require.NoError(t, store.Put(context.Background(), u, model.FileShard{ContentHash: "v1", ShardVersion: model.ShardVersion}))

	got, err := store.Get(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.ContentHash)
}

func TestListWorkspaceFilesExcludesMatchingPatterns(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "widget.ts"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep.ts"), []byte(""), 0o644))

	files, err := listWorkspaceFiles(root, []string{"**/node_modules/**"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, files[0].String(), "widget.ts")
}

func TestMatchesAnyExcludePatternSupportsDoubleStarGlobs(t *testing.T) {
	t.Parallel()

	assert.True(t, matchesAnyExcludePattern("src/vendor/gizmo.ts", []string{"**/vendor/**"}))
	assert.False(t, matchesAnyExcludePattern("src/widget.ts", []string{"**/vendor/**"}))
}

func TestMatchesAnyExcludePatternSupportsSingleSegmentGlobs(t *testing.T) {
	t.Parallel()

	assert.True(t, matchesAnyExcludePattern("widget.spec.ts", []string{"*.spec.ts"}))
	assert.False(t, matchesAnyExcludePattern("widget.ts", []string{"*.spec.ts"}))
}
