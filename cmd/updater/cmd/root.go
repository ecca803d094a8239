package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	updater "github.com/snider/plugin-updater"
	"github.com/snider/plugin-updater/internal/config"
	"github.com/snider/plugin-updater/internal/logging"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	output     string
	logLevel   string

	source *config.Source
	cfg    *config.Config
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "updater",
		Short: "Keep plugins up to date from GitHub releases",
		Long: `Checks GitHub releases of the configured plugin repositories, reports
available updates with their compatibility requirements and downloads
release packages, authenticating against private repositories.`,
		Version:       updater.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the config file (default: ./plugin-updater.yaml)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", outputText, "Output format: text, json or yaml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	root.AddCommand(
		newCheckCmd(opts),
		newInfoCmd(opts),
		newDownloadCmd(opts),
		newCredentialCmd(opts),
		newServeCmd(opts),
	)
	return root
}

func (o *globalOptions) load(cmd *cobra.Command) error {
	switch o.output {
	case outputText, outputJSON, outputYAML:
	default:
		return fmt.Errorf("unknown output format %q", o.output)
	}

	source, err := config.Open(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		source.Set(config.KeyLogLevel, o.logLevel)
	}
	cfg, err := source.Config()
	if err != nil {
		return err
	}
	logging.Init(cfg.LogLevel, cmd.ErrOrStderr())

	o.source = source
	o.cfg = cfg
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
