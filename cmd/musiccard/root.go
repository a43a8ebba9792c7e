package main

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/iskarmel/musiccard/internal/config"
	"github.com/iskarmel/musiccard/internal/logging"
)

type commandContext struct {
	configFlag *string
	logLevel   *string

	once   sync.Once
	config *config.Config
	logger *slog.Logger
	err    error
}

func (c *commandContext) ensureConfig() (*config.Config, *slog.Logger, error) {
	c.once.Do(func() {
		cfg, err := config.LoadFile(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.err = err
			return
		}
		if lvl := strings.TrimSpace(*c.logLevel); lvl != "" {
			cfg.LogLevel = lvl
		}
		log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})
		if err != nil {
			c.err = err
			return
		}
		slog.SetDefault(log)
		c.config, c.logger = &cfg, log
	})
	return c.config, c.logger, c.err
}

func newRootCommand() *cobra.Command {
	var configFlag, logLevel string
	ctx := &commandContext{configFlag: &configFlag, logLevel: &logLevel}

	rootCmd := &cobra.Command{
		Use:           "musiccard",
		Short:         "Music greeting cards: narrated songs with a live spectrum",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (default $"+config.PathEnv+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newPlayCommand(ctx))
	for _, cmd := range newCardCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	return rootCmd
}
