package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aluiziolira/go-fenix-files/config"
	"github.com/aluiziolira/go-fenix-files/models"
	"github.com/aluiziolira/go-fenix-files/organizer"
	"github.com/aluiziolira/go-fenix-files/report"
	"github.com/spf13/cobra"
)

// NewOrganizeCmd creates the organize command.
func NewOrganizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "organize",
		Short: "File staged downloads into the organized tree",
		Long: `Organize reads every staged file named <course>.<section>.<name> and
moves it to <root>/<course>/<section>/<name>. Files already present in the
tree are left alone, so the command is safe to run repeatedly.`,
		Args: cobra.NoArgs,
		RunE: runOrganizeCmd,
	}

	addDirectoryFlags(cmd)
	cmd.Flags().Bool("keep-copy", false, "Copy instead of move, leaving staged files in place")
	cmd.Flags().String("report", "", "Write a markdown run report to this path")

	return cmd
}

func addDirectoryFlags(cmd *cobra.Command) {
	cmd.Flags().String("staging-dir", "", "Staging directory for downloads")
	cmd.Flags().String("organized-dir", "", "Root of the organized tree")
}

func applyDirectoryFlags(cmd *cobra.Command, cfg *config.Config) error {
	if err := stringFlag(cmd, "staging-dir", &cfg.StagingDir); err != nil {
		return err
	}
	if err := stringFlag(cmd, "organized-dir", &cfg.OrganizedDir); err != nil {
		return err
	}
	if err := boolFlag(cmd, "keep-copy", &cfg.KeepCopy); err != nil {
		return err
	}
	return stringFlag(cmd, "report", &cfg.ReportFile)
}

func runOrganizeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyDirectoryFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg)
	rep, err := organize(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return err
	}

	if cfg.ReportFile != "" {
		if err := writeReport(cfg.ReportFile, report.Run{Organize: rep}); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "filed %d, duplicates %d, failed %d\n", rep.Filed, rep.Duplicates, rep.Failed)
	return nil
}

func organize(ctx context.Context, cfg *config.Config, logger *slog.Logger, recorder organizer.Recorder) (*models.OrganizeReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	opts := []organizer.Option{organizer.WithLogger(logger)}
	if recorder != nil {
		opts = append(opts, organizer.WithRecorder(recorder))
	}

	logger.Info("organizing staged files",
		slog.String("staging_dir", cfg.StagingDir),
		slog.String("organized_dir", cfg.OrganizedDir),
		slog.Bool("keep_copy", cfg.KeepCopy),
	)
	rep, err := organizer.New(opts...).Organize(ctx, cfg.StagingDir, cfg.OrganizedDir, cfg.KeepCopy)
	if err != nil {
		return rep, fmt.Errorf("organize: %w", err)
	}
	return rep, nil
}

func writeReport(path string, run report.Run) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close report: %w", cerr)
		}
	}()
	if err := report.Write(f, run); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
