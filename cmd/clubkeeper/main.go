package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dugoutlabs/clubkeeper/internal/config"
	"github.com/dugoutlabs/clubkeeper/internal/notify"
	"github.com/dugoutlabs/clubkeeper/internal/platform"
	"github.com/dugoutlabs/clubkeeper/internal/retention"
	"github.com/dugoutlabs/clubkeeper/internal/scheduler"
	"github.com/dugoutlabs/clubkeeper/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "clubkeeper",
	Short: "clubkeeper - event channel lifecycle daemon",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon (scheduler + admin API)",
	RunE:  runServe,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one retention sweep and exit",
	RunE:  runCleanup,
}

var enforceCmd = &cobra.Command{
	Use:   "enforce",
	Short: "Enforce the category capacity ceiling and exit",
	RunE:  runEnforce,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stats of a running daemon",
	RunE:  runStatus,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Write a default config file",
	RunE:  runOnboard,
}

var (
	categoryFlag   string
	daysFlag       int
	dryRunFlag     bool
	keepActiveFlag bool
	keepPinnedFlag bool
	priorityFlag   bool
)

func init() {
	for _, cmd := range []*cobra.Command{cleanupCmd, enforceCmd} {
		cmd.Flags().StringVarP(&categoryFlag, "category", "c", "", "Category to sweep (default: the only tracked one)")
		cmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Compute decisions without deleting")
	}
	cleanupCmd.Flags().IntVar(&daysFlag, "days", 0, "Retention window in days (default: configured)")
	cleanupCmd.Flags().BoolVar(&keepActiveFlag, "preserve-active", true, "Preserve recently active channels")
	cleanupCmd.Flags().BoolVar(&keepPinnedFlag, "preserve-pinned", true, "Preserve channels with pinned content")
	enforceCmd.Flags().BoolVar(&priorityFlag, "priority-retention", true, "Never evict preserve-scored channels")

	rootCmd.AddCommand(serveCmd, cleanupCmd, enforceCmd, statusCmd, onboardCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildStack(cfg *config.Config) (*platform.Client, *retention.Service, error) {
	if cfg.Platform.BaseURL == "" {
		return nil, nil, fmt.Errorf("platform baseUrl not set. Run 'clubkeeper onboard' or set CLUBKEEPER_BASE_URL")
	}

	client := platform.New(cfg.Platform.BaseURL, cfg.Platform.Token, platform.Options{
		RequestTimeout: time.Duration(cfg.Platform.RequestTimeout) * time.Second,
	})

	var extra []notify.Notifier
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegramNotifier(cfg.Notify.Telegram)
		if err != nil {
			return nil, nil, fmt.Errorf("init telegram notifier: %w", err)
		}
		extra = append(extra, tg)
	}
	reporter := notify.NewReporter(client, cfg.Notify, cfg.Retention.Categories, extra...)

	svc := retention.NewService(client, cfg.Retention, reporter)
	return client, svc, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	client, svc, err := buildStack(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(svc, time.Duration(cfg.Scheduler.IntervalHours)*time.Hour)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	srv := server.New(svc, cfg, client, client.BreakerState)
	return srv.Start(ctx)
}

func resolveCategory(cfg *config.Config) (string, error) {
	if categoryFlag != "" {
		return categoryFlag, nil
	}
	if len(cfg.Retention.Categories) == 1 {
		return cfg.Retention.Categories[0], nil
	}
	return "", fmt.Errorf("multiple categories tracked, pass --category")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	_, svc, err := buildStack(cfg)
	if err != nil {
		return err
	}
	category, err := resolveCategory(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := svc.Cleanup(ctx, category, retention.CleanupParams{
		DaysOld:        daysFlag,
		PreserveActive: keepActiveFlag,
		PreservePinned: keepPinnedFlag,
		DryRun:         dryRunFlag,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), stats)
}

func runEnforce(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	_, svc, err := buildStack(cfg)
	if err != nil {
		return err
	}
	category, err := resolveCategory(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := svc.EnforceCapacity(ctx, category, priorityFlag, dryRunFlag)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), stats)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s:%d/api/stats", cfg.Server.Host, cfg.Server.Port)
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(body))
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	path := config.ConfigPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "config already exists at %s\n", path)
		return nil
	}

	if err := config.SaveConfig(config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "set platform.baseUrl and platform.token, then run 'clubkeeper serve'")
	return nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}
