// Package cli implements the trellis command line interface: login, logout,
// whoami, favorites, browse, and watch subcommands over one assembled client.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "trellis.yaml"
	homeConfigName    = "config.yaml"
)

// StoreConfig selects the credential store backing.
type StoreConfig struct {
	// Kind is "file" or "sqlite" (default: "file").
	Kind string `yaml:"kind"`

	// Path is the store location: a directory for file stores, a database
	// file for sqlite (default: ~/.trellis).
	Path string `yaml:"path"`
}

// Config is the optional trellis.yaml configuration. Flags override it.
type Config struct {
	// BaseURL is the storefront backend root.
	BaseURL string `yaml:"base_url"`

	// Store selects where credentials persist.
	Store StoreConfig `yaml:"store"`

	// Refresh is the background re-sync schedule for the watch command,
	// e.g. "@every 5m".
	Refresh string `yaml:"refresh"`

	// OTLPEndpoint is the collector address for trace export in the watch
	// command, e.g. "localhost:4318". Empty disables export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// DiscoverConfigPath resolves the config file: the explicit path when given,
// otherwise trellis.yaml in the working directory, then
// ~/.trellis/config.yaml. The explicit path must exist; the fallbacks are
// optional.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 3)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, ".trellis", homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// If explicit path is set, not found is an error.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadConfig reads and parses a config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from user CLI flag
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}

	if cfg.Store.Kind != "" && cfg.Store.Kind != "file" && cfg.Store.Kind != "sqlite" {
		return Config{}, fmt.Errorf("config %q: store kind must be \"file\" or \"sqlite\", got %q", path, cfg.Store.Kind)
	}
	return cfg, nil
}
