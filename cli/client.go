package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/trellis"
	"github.com/petal-labs/trellis/core"
	"github.com/petal-labs/trellis/credstore"
)

// Exit codes.
const (
	exitSuccess = 0
	exitUsage   = 1
	exitAuth    = 2
	exitNetwork = 3
	exitServer  = 4
	exitConfig  = 5
)

// resolveConfig merges the discovered config file with command flags. Flags
// win.
func resolveConfig(cmd *cobra.Command) (Config, error) {
	explicitPath, _ := cmd.Flags().GetString("config")

	var cfg Config
	path, found, err := DiscoverConfigPath(explicitPath)
	if err != nil {
		return Config{}, exitError(exitConfig, "%v", err)
	}
	if found {
		cfg, err = LoadConfig(path)
		if err != nil {
			return Config{}, exitError(exitConfig, "%v", err)
		}
	}

	if baseURL, _ := cmd.Flags().GetString("base-url"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = strings.TrimSpace(os.Getenv("TRELLIS_BASE_URL"))
	}
	if storeKind, _ := cmd.Flags().GetString("store"); storeKind != "" {
		cfg.Store.Kind = storeKind
	}
	if storePath, _ := cmd.Flags().GetString("store-path"); storePath != "" {
		cfg.Store.Path = storePath
	}

	if cfg.BaseURL == "" {
		return Config{}, exitError(exitConfig, "base URL is required (--base-url, TRELLIS_BASE_URL, or config file)")
	}
	return cfg, nil
}

// openStore builds the credential store the config selects.
func openStore(cfg Config) (credstore.Store, error) {
	path := strings.TrimSpace(cfg.Store.Path)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, exitError(exitConfig, "resolving home dir: %v", err)
		}
		path = filepath.Join(home, ".trellis")
	}

	switch cfg.Store.Kind {
	case "", "file":
		store, err := credstore.NewFileStore(path)
		if err != nil {
			return nil, exitError(exitConfig, "opening credential store: %v", err)
		}
		return store, nil
	case "sqlite":
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "trellis.db")
		}
		store, err := credstore.NewSQLiteStore(path)
		if err != nil {
			return nil, exitError(exitConfig, "opening credential store: %v", err)
		}
		return store, nil
	default:
		return nil, exitError(exitConfig, "unknown store kind %q", cfg.Store.Kind)
	}
}

// termNavigator satisfies the expiry redirect by telling the terminal user
// to log in again. A CLI has no login page to be on.
type termNavigator struct {
	w io.Writer
}

func (n *termNavigator) CurrentPath() string { return "" }

func (n *termNavigator) NavigateToLogin() {
	fmt.Fprintln(n.w, "Session expired. Run `trellis login` to sign in again.")
}

// buildClient assembles a trellis client from the command's flags and the
// discovered config. Callers own the returned client and must Close it.
func buildClient(cmd *cobra.Command) (*trellis.Client, Config, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, Config{}, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, Config{}, err
	}

	client, err := trellis.New(trellis.Options{
		BaseURL:   cfg.BaseURL,
		Store:     store,
		Navigator: &termNavigator{w: cmd.ErrOrStderr()},
	})
	if err != nil {
		return nil, Config{}, exitError(exitConfig, "%v", err)
	}
	return client, cfg, nil
}

// classifyExit maps a client error to an ExitError with the right code.
func classifyExit(err error) error {
	switch {
	case errors.Is(err, core.ErrInvalidCredentials):
		return exitError(exitAuth, "%v", core.UserMessage(err))
	case errors.Is(err, core.ErrNotAuthenticated):
		return exitError(exitAuth, "not signed in; run `trellis login` first")
	case errors.Is(err, core.ErrUnauthorized):
		return exitError(exitAuth, "session expired; run `trellis login` to sign in again")
	case errors.Is(err, core.ErrNetworkUnavailable):
		return exitError(exitNetwork, "%v", core.UserMessage(err))
	case errors.Is(err, core.ErrServerDegraded):
		return exitError(exitServer, "%v", core.UserMessage(err))
	default:
		return exitError(exitUsage, "%v", err)
	}
}

// parseFavoriteType validates a favorite type argument.
func parseFavoriteType(arg string) (core.FavoriteType, error) {
	ftype := core.FavoriteType(strings.ToLower(strings.TrimSpace(arg)))
	if !ftype.Valid() {
		return "", exitError(exitUsage, "unknown favorite type %q (use blog, product, or service)", arg)
	}
	return ftype, nil
}
