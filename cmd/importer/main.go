package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/woonkaart/importer/internal/config"
	"github.com/woonkaart/importer/internal/logging"
)

// options are the command-line overrides on top of the environment.
type options struct {
	envFile    string
	debug      bool
	dryRun     bool
	source     string
	city       string
	statusAddr string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&options{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "importer",
		Short: "Import mirror listings and price history into the property catalog",
		Long: `Matches scraped listings and price history from the mirror databases
against the canonical property catalog (exact address key first, nearest
property within a radius second) and bulk-loads the matched rows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runImport(cmd.Context(), cfg)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.envFile, "config", "", "path to a .env file (default: search ., .., ../..)")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&opts.source, "source", config.Both, "source to process: sourceA, sourceB or both")

	rootCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "match and count without writing to the destination (overrides DRY_RUN)")
	rootCmd.Flags().StringVar(&opts.city, "city", "", "only import records whose address is in this city (overrides IMPORT_CITY)")
	rootCmd.Flags().StringVar(&opts.statusAddr, "status-addr", "", "serve live status on this address, e.g. :9090 (overrides STATUS_ADDR)")

	rootCmd.AddCommand(createPingCmd(opts))
	rootCmd.AddCommand(createSetupDBCmd(opts))

	return rootCmd
}

// loadConfig reads .env and the environment, applies flags that were set
// explicitly and configures logging.
func loadConfig(cmd *cobra.Command, opts *options) (*config.ImportConfig, error) {
	if err := config.LoadEnv(opts.envFile); err != nil {
		return nil, err
	}

	cfg := config.Load()
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun = opts.dryRun
	}
	if cmd.Flags().Changed("city") {
		cfg.City = opts.city
	}
	if cmd.Flags().Changed("status-addr") {
		cfg.StatusAddr = opts.statusAddr
	}
	if opts.debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.SelectSources(opts.source); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stdout})
	return cfg, nil
}
