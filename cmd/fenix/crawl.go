package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-fenix-files/config"
	"github.com/aluiziolira/go-fenix-files/logging"
	"github.com/aluiziolira/go-fenix-files/pipeline"
	"github.com/aluiziolira/go-fenix-files/report"
	"github.com/aluiziolira/go-fenix-files/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Log in and download course files into staging",
		Long: `Crawl logs into the portal, visits the sidebar of every configured course
and downloads each linked file into the staging directory as
<course>.<section>.<name>. A failed login aborts the run with a non-zero
exit status; individual download failures are only counted.

Examples:
  FENIX_USERNAME=ist1100000 FENIX_PASSWORD=... fenix crawl
  fenix crawl --course SO1 --course IA --organize --keep-copy`,
		Args: cobra.NoArgs,
		RunE: runCrawlCmd,
	}

	addDirectoryFlags(cmd)
	cmd.Flags().StringSlice("course", nil, "Course identifier to crawl (repeatable, replaces the configured list)")
	cmd.Flags().IntP("parallel", "p", 0, "Number of concurrent requests")
	cmd.Flags().Duration("timeout", 0, "Timeout for each page request")
	cmd.Flags().Duration("download-timeout", 0, "Timeout for each file download")
	cmd.Flags().Duration("delay", 0, "Delay between requests to the same host")
	cmd.Flags().Bool("organize", false, "Organize staged files after the crawl")
	cmd.Flags().Bool("keep-copy", false, "With --organize, copy instead of move")
	cmd.Flags().String("report", "", "Write a markdown run report to this path")
	cmd.Flags().String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")

	return cmd
}

func applyCrawlFlags(cmd *cobra.Command, cfg *config.Config) error {
	if err := applyDirectoryFlags(cmd, cfg); err != nil {
		return err
	}
	if cmd.Flags().Changed("course") {
		courses, err := cmd.Flags().GetStringSlice("course")
		if err != nil {
			return err
		}
		cfg.Courses = courses
	}
	if cmd.Flags().Changed("parallel") {
		n, err := cmd.Flags().GetInt("parallel")
		if err != nil {
			return err
		}
		cfg.Parallelism = n
	}
	for name, dst := range map[string]*time.Duration{
		"timeout":          &cfg.Timeout,
		"download-timeout": &cfg.DownloadTimeout,
		"delay":            &cfg.Delay,
	} {
		if !cmd.Flags().Changed(name) {
			continue
		}
		d, err := cmd.Flags().GetDuration(name)
		if err != nil {
			return err
		}
		*dst = d
	}
	if cmd.Flags().Changed("metrics-addr") {
		addr, err := cmd.Flags().GetString("metrics-addr")
		if err != nil {
			return err
		}
		cfg.MetricsAddr = addr
	}
	return nil
}

func runCrawlCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyCrawlFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(cfg.Courses) == 0 {
		return errNoCourses
	}
	organizeAfter, err := cmd.Flags().GetBool("organize")
	if err != nil {
		return err
	}

	creds, err := config.CredentialsFromEnv()
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg)
	logger.Info("starting crawl",
		slog.String("portal", cfg.PortalURL),
		slog.Any("courses", cfg.Courses),
		slog.Int("workers", cfg.Parallelism),
		slog.Any("user", creds),
	)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := scraper.NewMetrics()
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, metrics, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	session, err := scraper.NewSession(cfg, scraper.WithSessionLogger(logger), scraper.WithSessionMetrics(metrics))
	if err != nil {
		return fmt.Errorf("initialising session: %w", err)
	}
	downloader, err := pipeline.NewFileDownloader(session.HTTPClient(), cfg.StagingDir, cfg.UserAgent)
	if err != nil {
		return err
	}
	crawler, err := scraper.NewCrawler(cfg, session, scraper.WithLogger(logger), scraper.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("initialising crawler: %w", err)
	}

	p := pipeline.NewPipeline(ctx, downloader, cfg, pipeline.WithLogger(logger), pipeline.WithRecorder(metrics))
	p.Start(cfg.Parallelism)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	result, runErr := crawler.Run(ctx, creds, p)
	closeErr := p.Close()

	stats := p.Stats()
	run := report.Run{Crawl: result, Downloads: &stats}
	logging.Stats(ctx, logger, "Number of files downloaded",
		slog.Int64("downloaded", stats.Downloaded),
		slog.Int64("already_staged", stats.AlreadyStaged),
		slog.Int64("failed", stats.Failed),
		slog.Int64("bytes", stats.Bytes),
	)

	if runErr == nil && closeErr == nil && organizeAfter {
		rep, err := organize(ctx, cfg, logger, metrics)
		if err != nil {
			return err
		}
		run.Organize = rep
	}

	if cfg.ReportFile != "" {
		if err := writeReport(cfg.ReportFile, run); err != nil {
			logger.Error("report failed", slog.Any("error", err))
		}
	}

	if runErr != nil {
		var authErr *scraper.AuthError
		if errors.As(runErr, &authErr) {
			return fmt.Errorf("login failed: %w", runErr)
		}
		return fmt.Errorf("crawl: %w", runErr)
	}
	if closeErr != nil {
		return fmt.Errorf("download shutdown: %w", closeErr)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "downloaded %d, already staged %d, failed %d\n", stats.Downloaded, stats.AlreadyStaged, stats.Failed)
	return nil
}

func serveMetrics(addr string, metrics *scraper.Metrics, logger *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	logger.Info("metrics server enabled", slog.String("addr", addr))
	return srv
}
