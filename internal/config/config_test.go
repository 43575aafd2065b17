package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"DB_DRIVER", "DB_PATH", "SEARCH_RESULT_LIMIT", "INGEST_WORKERS", "MASK_LINKS", "DOT_INSENSITIVE_DOMAINS", "IMAP_HOST", "ACCOUNT_1_NAME"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "/data/maildedup.db", cfg.DBPath)
	assert.Equal(t, 100, cfg.SearchResultLimit)
	assert.Equal(t, 4, cfg.IngestWorkers)
	assert.Equal(t, 3, cfg.AssignMaxAttempts)
	assert.True(t, cfg.MaskLinks)
	assert.Empty(t, cfg.DotInsensitiveDomains)
	assert.Empty(t, cfg.Accounts)
	assert.Error(t, cfg.RequireAccounts())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/dedup")
	t.Setenv("INGEST_WORKERS", "8")
	t.Setenv("INGEST_RATE_PER_SEC", "2.5")
	t.Setenv("MASK_LINKS", "false")
	t.Setenv("DOT_INSENSITIVE_DOMAINS", " co.com, ,example.org ")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 8, cfg.IngestWorkers)
	assert.InDelta(t, 2.5, cfg.IngestRatePerSec, 1e-9)
	assert.False(t, cfg.MaskLinks)
	assert.Equal(t, []string{"co.com", "example.org"}, cfg.DotInsensitiveDomains)
}

func TestLoadAccounts(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		t.Setenv("IMAP_HOST", "imap.example.com")
		t.Setenv("IMAP_USERNAME", "me")
		t.Setenv("IMAP_PASSWORD", "secret")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		require.Len(t, cfg.Accounts, 1)
		assert.Equal(t, "default", cfg.Accounts[0].Name)
		assert.Equal(t, 993, cfg.Accounts[0].IMAPPort)
		assert.NoError(t, cfg.RequireAccounts())
	})

	t.Run("numbered", func(t *testing.T) {
		for _, kv := range [][2]string{
			{"ACCOUNT_1_NAME", "work"},
			{"ACCOUNT_1_IMAP_HOST", "imap.work.example"},
			{"ACCOUNT_1_IMAP_USERNAME", "w"},
			{"ACCOUNT_1_IMAP_PASSWORD", "p"},
			{"ACCOUNT_2_NAME", "home"},
			{"ACCOUNT_2_IMAP_HOST", "imap.home.example"},
			{"ACCOUNT_2_IMAP_PORT", "143"},
			{"ACCOUNT_2_IMAP_USERNAME", "h"},
			{"ACCOUNT_2_IMAP_PASSWORD", "p"},
		} {
			t.Setenv(kv[0], kv[1])
		}

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, []string{"work", "home"}, cfg.AccountNames())

		home, err := cfg.GetAccountByName("home")
		require.NoError(t, err)
		assert.Equal(t, 143, home.IMAPPort)

		_, err = cfg.GetAccountByName("missing")
		assert.Error(t, err)
	})

	t.Run("incomplete", func(t *testing.T) {
		t.Setenv("ACCOUNT_1_NAME", "work")
		t.Setenv("ACCOUNT_1_IMAP_HOST", "imap.work.example")

		_, err := LoadConfig()
		assert.ErrorContains(t, err, "IMAP_USERNAME and IMAP_PASSWORD are required")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DBDriver:          DriverSQLite,
			DBPath:            "/tmp/x.db",
			SearchResultLimit: 100,
			IngestWorkers:     1,
			AssignMaxAttempts: 3,
			IMAPFetchLimit:    10,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.DBDriver = "mysql" }, wantErr: "unsupported DB_DRIVER"},
		{name: "postgres without url", mutate: func(c *Config) { c.DBDriver = DriverPostgres }, wantErr: "DATABASE_URL"},
		{name: "sqlite without path", mutate: func(c *Config) { c.DBPath = "" }, wantErr: "DB_PATH"},
		{name: "limit too high", mutate: func(c *Config) { c.SearchResultLimit = 1001 }, wantErr: "SEARCH_RESULT_LIMIT"},
		{name: "no workers", mutate: func(c *Config) { c.IngestWorkers = 0 }, wantErr: "INGEST_WORKERS"},
		{name: "negative rate", mutate: func(c *Config) { c.IngestRatePerSec = -1 }, wantErr: "INGEST_RATE_PER_SEC"},
		{name: "no attempts", mutate: func(c *Config) { c.AssignMaxAttempts = 0 }, wantErr: "ASSIGN_MAX_ATTEMPTS"},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Accounts = []AccountConfig{{Name: "x", IMAPHost: "h", IMAPPort: 70000}} },
			wantErr: "invalid IMAP_PORT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
