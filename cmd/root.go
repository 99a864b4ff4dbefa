package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/do"
	"github.com/spf13/cobra"
	"github.com/yz4230/deployhost/internal/config"
	"github.com/yz4230/deployhost/internal/inject"
)

const shutdownTimeout = 30 * time.Second

var rootFlags struct {
	verbose bool
	config  string
	dataDir string
}

var rootCmd = &cobra.Command{
	Use:           "deployhost",
	Short:         "Provision, verify and tear down cloud deployments with terraform",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var w io.Writer = os.Stderr
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
		}
		// pipeline progress already reaches the terminal as events
		level := zerolog.WarnLevel
		if cmd.Name() == "serve" {
			level = zerolog.InfoLevel
		}
		if rootFlags.verbose {
			level = zerolog.DebugLevel
		}
		log.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Send()
		os.Exit(1)
	}
}

// loadConfig reads --config and applies the flags that override it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(rootFlags.config)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = rootFlags.dataDir
	}
	return cfg, nil
}

// withInjector runs fn against a fully wired injector and releases it
// afterwards. The context passed to fn is cancelled on SIGINT or SIGTERM.
func withInjector(cmd *cobra.Command, fn func(ctx context.Context, injector *do.Injector) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	injector := inject.New(cfg, log.Logger)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := inject.Shutdown(sctx, injector); err != nil {
			log.Error().Err(err).Msg("error during shutdown")
		}
	}()
	return fn(ctx, injector)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&rootFlags.config, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&rootFlags.dataDir, "data-dir", "d", "./data", "Directory holding the database and workspaces")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(outputsCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(listCmd)
}
