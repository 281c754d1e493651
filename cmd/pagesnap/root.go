package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/root4loot/pagesnap/internal/config"
	"github.com/root4loot/pagesnap/pkg/screener"
	"github.com/root4loot/pagesnap/pkg/tool"
)

// app is the state shared by all subcommands.
type app struct {
	configPath string
	debug      bool
	silence    bool
	logLevel   string

	cfg *config.Config

	// driver replaces the configured browser driver when set.
	driver screener.Driver
}

func newRootCmd() *cobra.Command {
	return newRootCmdFor(&app{})
}

func newRootCmdFor(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pagesnap",
		Short: "Full-page screenshots through a Chrome DevTools endpoint",
		Long: `pagesnap captures full-page PNG screenshots of web pages by driving a
Chromium browser over the DevTools protocol. It can run one-off captures
or serve the screenshot tool over HTTP.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg

			level := cfg.LogLevel
			if cmd.Flags().Changed("log-level") {
				level = a.logLevel
			}
			if err := screener.ParseLogLevel(level); err != nil {
				return fmt.Errorf("invalid log level %q: %w", level, err)
			}
			if a.debug || a.silence {
				screener.SetLogLevel(a.debug, a.silence)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "pagesnap.yaml", "path to the YAML config file")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&a.silence, "silence", "s", false, "only log fatal errors")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newCaptureCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)

	return cmd
}

// newTool builds the screenshot tool from the loaded configuration.
func (a *app) newTool() (*tool.Tool, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	t := tool.New(a.cfg.CaptureOptions(), a.cfg.ToolDefaults())
	t.Driver = a.driver
	return t, nil
}
