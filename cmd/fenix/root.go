package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aluiziolira/go-fenix-files/config"
	"github.com/aluiziolira/go-fenix-files/logging"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fenix",
		Short: "Download and organize course files from the Fenix portal",
		Long: `fenix logs into the Fenix academic portal, walks the configured courses
and downloads every linked file into a staging directory. The organize
command files staged downloads into <root>/<course>/<section>/<name>.

Without --config the first of ./fenix.yaml, ./config.toml,
$XDG_CONFIG_HOME/fenix-files/config.yaml and
$XDG_CONFIG_HOME/fenix-files/config.toml is used. An existing config.toml
keeps working as is; its [courses], [directories] and [options] tables
map onto the same keys as the YAML file.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewOrganizeCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the configuration file, the environment and
// the persistent flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	explicit, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if path := config.FindConfigFile(explicit); path != "" {
		file, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if err := file.Apply(cfg); err != nil {
			return nil, fmt.Errorf("apply %s: %w", path, err)
		}
	} else if explicit != "" {
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, explicit)
	}

	if err := config.ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	logger, _ := logging.New(w, cfg.Verbose)
	slog.SetDefault(logger)
	return logger
}

func stringFlag(cmd *cobra.Command, name string, dst *string) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return err
	}
	*dst = config.ExpandHome(value)
	return nil
}

func boolFlag(cmd *cobra.Command, name string, dst *bool) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	value, err := cmd.Flags().GetBool(name)
	if err != nil {
		return err
	}
	*dst = value
	return nil
}

var errNoCourses = errors.New("no courses configured: set courses.list in the config file or pass --course")
