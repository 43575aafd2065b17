package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-dedup/internal/config"
)

func TestCollectEMLFiles(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	files := map[string]string{
		filepath.Join(dir, "a.eml"):     "x",
		filepath.Join(nested, "b.EML"):  "x",
		filepath.Join(dir, "notes.txt"): "x",
		filepath.Join(nested, "c.mbox"): "x",
	}
	for p, body := range files {
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}

	t.Run("walks directories for eml files", func(t *testing.T) {
		paths, err := collectEMLFiles([]string{dir})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			filepath.Join(dir, "a.eml"),
			filepath.Join(nested, "b.EML"),
		}, paths)
	})

	t.Run("keeps explicit files", func(t *testing.T) {
		paths, err := collectEMLFiles([]string{filepath.Join(dir, "notes.txt")})
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(dir, "notes.txt")}, paths)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := collectEMLFiles([]string{filepath.Join(dir, "nope")})
		assert.Error(t, err)
	})
}

func TestAliasTable(t *testing.T) {
	t.Run("defaults plus extra dot insensitive domains", func(t *testing.T) {
		table, err := aliasTable(&config.Config{DotInsensitiveDomains: []string{"corp.example"}})
		require.NoError(t, err)
		assert.Contains(t, table.DotInsensitiveDomains(), "corp.example")
		assert.Contains(t, table.DotInsensitiveDomains(), "gmail.com")
	})

	t.Run("missing alias file", func(t *testing.T) {
		_, err := aliasTable(&config.Config{AliasFile: filepath.Join(t.TempDir(), "missing.yaml")})
		assert.Error(t, err)
	})
}

func TestExecuteClosesApplicationOnFailure(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "dedup.db"))
	t.Setenv("LOG_LEVEL", "panic")

	err := execute([]string{"delete", "999"})
	require.Error(t, err)
	assert.Nil(t, app)

	require.NoError(t, execute([]string{"stats"}))
	assert.Nil(t, app)
}
