package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dkeye/Beacon/internal/adapters/sqlite"
	"github.com/dkeye/Beacon/internal/config"
)

type cli struct {
	v   *viper.Viper
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "beacon",
		Short:         "Live broadcast translation server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.v)
			if err != nil {
				return err
			}
			c.cfg = cfg
			setupLogger(cfg)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context())
		},
	}

	// Early logger so config loading can report.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	c.v = config.New()

	pf := root.PersistentFlags()
	pf.Int("port", 8080, "HTTP listen port")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("database", "beacon.db", "sqlite database path")
	pf.String("engines", "live", "live or stub")
	for key, flag := range map[string]string{
		"port":          "port",
		"log_level":     "log-level",
		"database_path": "database",
		"engines":       "engines",
	} {
		_ = c.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP and websocket server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.serve(cmd.Context())
			},
		},
		c.roomsCmd(),
		c.plansCmd(),
	)
	return root
}

func setupLogger(cfg *config.Config) {
	if cfg.Mode == "debug" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func (c *cli) openStore(cmd *cobra.Command) (*sqlite.Store, error) {
	store, err := sqlite.Open(cmd.Context(), c.cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}
