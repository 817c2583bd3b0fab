// Package main is the entry point for the profile server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (environment, then command-line flags on top)
// 2. Create the logger
// 3. Hand off to internal/server
//
// COMMANDS (spf13/cobra):
//
//	profile-server              same as `serve`
//	profile-server serve        run the HTTP server
//	profile-server show         print the stored profile and exit
//	profile-server hash-key     print the bcrypt hash of a key read from stdin
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// storageFlags are shared by every command that opens the backend.
type storageFlags struct {
	port    int
	data    string
	backend string
}

func newRootCmd() *cobra.Command {
	var flags storageFlags

	serve := newServeCmd(&flags)

	root := &cobra.Command{
		Use:           "profile-server",
		Short:         "Single-profile JSON store with an API key gate",
		SilenceUsage:  true,
		SilenceErrors: true,
		// No subcommand means serve.
		RunE: serve.RunE,
	}

	root.PersistentFlags().IntVar(&flags.port, "port", 0, "listen port (overrides PORT)")
	root.PersistentFlags().StringVar(&flags.data, "data", "", "profile file or database path (overrides PROFILE_PATH)")
	root.PersistentFlags().StringVar(&flags.backend, "backend", "", "storage backend: file or sqlite (overrides PROFILE_BACKEND)")

	root.AddCommand(serve, newShowCmd(&flags), newHashKeyCmd())
	return root
}
