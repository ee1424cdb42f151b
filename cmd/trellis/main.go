package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/trellis/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trellis",
	Short: "Petal storefront client CLI",
	Long:  "Trellis — a CLI for the Petal storefront: sessions, favorites, and catalog browsing.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("base-url", "", "Storefront backend root URL")
	rootCmd.PersistentFlags().String("config", "", "Path to trellis.yaml config")
	rootCmd.PersistentFlags().String("store", "", "Credential store kind: file | sqlite")
	rootCmd.PersistentFlags().String("store-path", "", "Credential store location (default: ~/.trellis)")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("trellis version %s\n", version))

	rootCmd.AddCommand(cli.NewLoginCmd())
	rootCmd.AddCommand(cli.NewLogoutCmd())
	rootCmd.AddCommand(cli.NewWhoamiCmd())
	rootCmd.AddCommand(cli.NewFavoritesCmd())
	rootCmd.AddCommand(cli.NewBrowseCmd())
	rootCmd.AddCommand(cli.NewWatchCmd())
}
