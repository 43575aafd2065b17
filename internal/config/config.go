package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the application configuration
type Config struct {
	// Storage settings
	DBDriver    string
	DBPath      string
	DatabaseURL string

	LogLevel          string
	SearchResultLimit int

	// Ingestion settings
	IngestWorkers     int
	IngestRatePerSec  float64
	IngestBurst       int
	AssignMaxAttempts int

	// Normalization settings
	AliasFile             string
	DotInsensitiveDomains []string
	MaskLinks             bool

	// Mail sources
	IMAPMailbox    string
	IMAPFetchLimit int
	Accounts       []AccountConfig
}

// AccountConfig holds the IMAP settings of one mailbox to sync from
type AccountConfig struct {
	Name string

	IMAPHost     string
	IMAPPort     int
	IMAPUsername string
	IMAPPassword string
}

// LoadConfig loads configuration from environment variables. Accounts are
// optional; commands that fetch mail call RequireAccounts.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DBDriver:              strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		DBPath:                getEnv("DB_PATH", "/data/maildedup.db"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		SearchResultLimit:     getEnvInt("SEARCH_RESULT_LIMIT", 100),
		IngestWorkers:         getEnvInt("INGEST_WORKERS", 4),
		IngestRatePerSec:      getEnvFloat("INGEST_RATE_PER_SEC", 0),
		IngestBurst:           getEnvInt("INGEST_BURST", 1),
		AssignMaxAttempts:     getEnvInt("ASSIGN_MAX_ATTEMPTS", 3),
		AliasFile:             getEnv("ALIAS_FILE", ""),
		DotInsensitiveDomains: getEnvList("DOT_INSENSITIVE_DOMAINS"),
		MaskLinks:             getEnvBool("MASK_LINKS", true),
		IMAPMailbox:           getEnv("IMAP_MAILBOX", "INBOX"),
		IMAPFetchLimit:        getEnvInt("IMAP_FETCH_LIMIT", 200),
	}

	accounts, err := loadAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	cfg.Accounts = accounts

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAccounts loads IMAP account configurations from environment variables
func loadAccounts() ([]AccountConfig, error) {
	if getEnv("IMAP_HOST", "") != "" {
		account, err := loadAccount("", "IMAP_HOST")
		if err != nil {
			return nil, err
		}
		if account.Name == "" {
			account.Name = "default"
		}
		return []AccountConfig{*account}, nil
	}

	// ACCOUNT_1_*, ACCOUNT_2_*, ... until the first gap
	var accounts []AccountConfig
	for num := 1; ; num++ {
		prefix := fmt.Sprintf("ACCOUNT_%d_", num)
		if getEnv(prefix+"NAME", "") == "" {
			break
		}
		account, err := loadAccount(prefix, fmt.Sprintf("account %d", num))
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, nil
}

// loadAccount reads one account. An empty prefix reads the single-account
// variables, where the name comes from ACCOUNT_NAME.
func loadAccount(prefix, label string) (*AccountConfig, error) {
	nameKey := prefix + "NAME"
	if prefix == "" {
		nameKey = "ACCOUNT_NAME"
	}
	acc := &AccountConfig{
		Name:         getEnv(nameKey, ""),
		IMAPHost:     getEnv(prefix+"IMAP_HOST", ""),
		IMAPPort:     getEnvInt(prefix+"IMAP_PORT", 993),
		IMAPUsername: getEnv(prefix+"IMAP_USERNAME", ""),
		IMAPPassword: getEnv(prefix+"IMAP_PASSWORD", ""),
	}
	if acc.IMAPHost == "" {
		return nil, fmt.Errorf("%s: IMAP_HOST is required", label)
	}
	if acc.IMAPUsername == "" || acc.IMAPPassword == "" {
		return nil, fmt.Errorf("%s: IMAP_USERNAME and IMAP_PASSWORD are required", label)
	}
	return acc, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetAccountByName finds an account by name
func (c *Config) GetAccountByName(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}

// RequireAccounts fails when no IMAP account is configured
func (c *Config) RequireAccounts() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("no email accounts configured: set IMAP_HOST or ACCOUNT_1_NAME")
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}

	if c.SearchResultLimit < 1 || c.SearchResultLimit > 1000 {
		return fmt.Errorf("SEARCH_RESULT_LIMIT must be between 1 and 1000")
	}
	if c.IngestWorkers < 1 {
		return fmt.Errorf("INGEST_WORKERS must be at least 1")
	}
	if c.IngestRatePerSec < 0 {
		return fmt.Errorf("INGEST_RATE_PER_SEC must not be negative")
	}
	if c.AssignMaxAttempts < 1 {
		return fmt.Errorf("ASSIGN_MAX_ATTEMPTS must be at least 1")
	}
	if c.IMAPFetchLimit < 1 {
		return fmt.Errorf("IMAP_FETCH_LIMIT must be at least 1")
	}

	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: IMAP_HOST is required", acc.Name)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid IMAP_PORT", acc.Name)
		}
	}
	return nil
}
