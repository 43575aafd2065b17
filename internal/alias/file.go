package alias

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk layout shared by the YAML and TOML formats:
//
//	dot_insensitive_domains = ["gmail.com", "googlemail.com"]
//	[domains]
//	"googlemail.com" = "gmail.com"
type fileConfig struct {
	DotInsensitiveDomains []string          `yaml:"dot_insensitive_domains" toml:"dot_insensitive_domains"`
	Domains               map[string]string `yaml:"domains" toml:"domains"`
}

// LoadTable reads an alias table from a .yaml, .yml or .toml file. When the
// file does not list dot-insensitive domains the defaults apply.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alias file: %w", err)
	}

	var cfg fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse alias file %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse alias file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported alias file format: %s", path)
	}

	dots := cfg.DotInsensitiveDomains
	if dots == nil {
		dots = DefaultDotInsensitiveDomains
	}
	return NewTable(cfg.Domains, dots), nil
}
