package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/sakif/profile-server/internal/auth"
	"github.com/sakif/profile-server/internal/config"
	"github.com/sakif/profile-server/internal/server"
)

// loadConfig reads the environment and applies any flags that were set.
func loadConfig(flags *storageFlags) (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, err
	}
	if flags.port != 0 {
		cfg.Port = flags.port
	}
	// Backend before data: an explicit --data must win over the backend's default.
	if flags.backend != "" {
		cfg.SetBackend(flags.backend)
	}
	if flags.data != "" {
		cfg.DataPath = flags.data
	}
	return cfg, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newServeCmd(flags *storageFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			// Refuse to start without an API key rather than serve open writes.
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := newLogger(cmd.OutOrStdout(), cfg.LogLevel)

			srv, err := server.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}

			// Start blocks until SIGINT/SIGTERM.
			return srv.Start()
		},
	}
}

func newShowCmd(flags *storageFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored profile as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := cfg.ValidateStorage(); err != nil {
				return err
			}

			persister, err := server.OpenPersister(cfg, newLogger(cmd.ErrOrStderr(), cfg.LogLevel))
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := persister.Close(); closeErr != nil {
					err = multierror.Append(err, closeErr).ErrorOrNil()
				}
			}()

			profile, err := persister.Load(context.Background())
			if err != nil {
				return fmt.Errorf("reading %s: %w", cfg.DataPath, err)
			}
			if profile == nil {
				return fmt.Errorf("no profile stored in %s", cfg.DataPath)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(profile)
		},
	}
}

func newHashKeyCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-key",
		Short: "Read an API key from stdin and print its bcrypt hash for API_KEY_HASH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading key: %w", err)
			}

			hash, err := auth.HashKey(strings.TrimRight(line, "\r\n"), cost)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}

	cmd.Flags().IntVar(&cost, "cost", auth.DefaultCost, "bcrypt cost")
	return cmd
}
