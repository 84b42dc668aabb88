// Command mbackup is the backup client: it runs one backup pass, or keeps
// running in watch or scheduled mode, against the directories and server
// named in its configuration file.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/spf13/cobra"

	"mbackup/internal/backup"
	"mbackup/internal/cache"
	"mbackup/internal/clientconfig"
	"mbackup/internal/logging"
	"mbackup/internal/remote"
	"mbackup/internal/schedule"
	"mbackup/internal/secrets"
	"mbackup/internal/watch"
)

// cliProgress renders backup.Progress updates as a single overwritten
// stderr line. A fresh instance is used per run since total/done both
// reset at the start of each scan pass.
type cliProgress struct {
	total uint64
	done  atomic.Uint64
}

func (p *cliProgress) SetTotal(total uint64) {
	p.total = total
	fmt.Fprintf(os.Stderr, "backup: 0 / %d bytes\r", total)
}

func (p *cliProgress) Add(n uint64) {
	done := p.done.Add(n)
	fmt.Fprintf(os.Stderr, "backup: %d / %d bytes\r", done, p.total)
}

func (p *cliProgress) finish() {
	fmt.Fprintln(os.Stderr)
}

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "mbackup",
		Short: "Content-addressed incremental backup client",
	}
	rootCmd.PersistentFlags().String("config", "mbackup.json", "path to the client configuration file")
	rootCmd.PersistentFlags().Bool("recheck", false, "re-read and re-hash every file, ignoring the local cache")
	rootCmd.PersistentFlags().String("host", "", "host name to register roots under (default: config file, then $HOSTNAME, then a generated name)")

	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Run a single backup pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			configPath, _ := cmd.Flags().GetString("config")
			recheck, _ := cmd.Flags().GetBool("recheck")
			hostFlag, _ := cmd.Flags().GetString("host")
			return runOnce(ctx, logger, configPath, recheck, hostFlag)
		},
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run a backup whenever a configured root changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			configPath, _ := cmd.Flags().GetString("config")
			recheck, _ := cmd.Flags().GetBool("recheck")
			hostFlag, _ := cmd.Flags().GetString("host")
			return runWatch(ctx, logger, configPath, recheck, hostFlag)
		},
	}

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run backups on the configured cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			configPath, _ := cmd.Flags().GetString("config")
			recheck, _ := cmd.Flags().GetBool("recheck")
			hostFlag, _ := cmd.Flags().GetString("host")
			return runSchedule(ctx, logger, configPath, recheck, hostFlag)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(backupCmd, watchCmd, scheduleCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var version = "dev"

// env bundles everything a backup run needs, built once from the config file.
type env struct {
	cfg     clientconfig.Config
	secrets secrets.Secrets
	cache   *cache.Cache
	remote  *remote.Client
	host    string
}

func buildEnv(logger *slog.Logger, configPath, hostFlag string) (*env, error) {
	cfg, err := clientconfig.Load(configPath)
	if err != nil {
		return nil, err
	}

	sec, err := secrets.Load(cfg.SecretsFile)
	if err != nil {
		return nil, err
	}

	c, err := cache.Open(cfg.CacheFile)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	httpClient := &http.Client{Timeout: 5 * time.Minute}
	rc := remote.New(httpClient, cfg.ServerURL, cfg.User, cfg.Password, sec.BucketHex())

	host := resolveHost(logger, hostFlag, cfg.Host)

	return &env{cfg: cfg, secrets: sec, cache: c, remote: rc, host: host}, nil
}

// resolveHost implements spec §4.14's fallback chain: an explicit --host
// flag wins, then the config file's host, then $HOSTNAME, then
// os.Hostname(), then a generated petname as a last resort so a root is
// never registered under an empty host string.
func resolveHost(logger *slog.Logger, hostFlag, configHost string) string {
	if hostFlag != "" {
		return hostFlag
	}
	if configHost != "" {
		return configHost
	}
	if h := os.Getenv("HOSTNAME"); h != "" {
		return h
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	name := petname.Generate(2, "-")
	logger.Warn("no host configured and os.Hostname failed, using a generated name", "host", name)
	return name
}

func runOnce(ctx context.Context, logger *slog.Logger, configPath string, recheck bool, hostFlag string) error {
	e, err := buildEnv(logger, configPath, hostFlag)
	if err != nil {
		return err
	}
	defer e.cache.Close()

	progress := &cliProgress{}
	hash, err := backup.Run(ctx, backup.Options{
		Roots:       e.cfg.Roots,
		Host:        e.host,
		Excludes:    e.cfg.Excludes,
		Secrets:     e.secrets,
		Cache:       e.cache,
		Remote:      e.remote,
		Recheck:     recheck,
		Parallelism: e.cfg.Parallelism,
		Logger:      logger,
		Progress:    progress,
	})
	progress.finish()
	if err != nil {
		return err
	}
	logger.Info("backup run complete", "root_hash", hash)
	return nil
}

func runWatch(ctx context.Context, logger *slog.Logger, configPath string, recheck bool, hostFlag string) error {
	e, err := buildEnv(logger, configPath, hostFlag)
	if err != nil {
		return err
	}
	defer e.cache.Close()

	return watch.Run(ctx, watch.Options{
		Roots:    e.cfg.Roots,
		Debounce: e.cfg.WatchDebounce(),
		Logger:   logger,
		RunBackup: func(ctx context.Context) error {
			progress := &cliProgress{}
			_, err := backup.Run(ctx, backup.Options{
				Roots:       e.cfg.Roots,
				Host:        e.host,
				Excludes:    e.cfg.Excludes,
				Secrets:     e.secrets,
				Cache:       e.cache,
				Remote:      e.remote,
				Recheck:     recheck,
				Parallelism: e.cfg.Parallelism,
				Logger:      logger,
				Progress:    progress,
			})
			progress.finish()
			return err
		},
	})
}

func runSchedule(ctx context.Context, logger *slog.Logger, configPath string, recheck bool, hostFlag string) error {
	e, err := buildEnv(logger, configPath, hostFlag)
	if err != nil {
		return err
	}
	defer e.cache.Close()

	return schedule.Run(ctx, schedule.Options{
		CronExpr: e.cfg.ScheduleCron,
		Logger:   logger,
		RunBackup: func(ctx context.Context) error {
			progress := &cliProgress{}
			_, err := backup.Run(ctx, backup.Options{
				Roots:       e.cfg.Roots,
				Host:        e.host,
				Excludes:    e.cfg.Excludes,
				Secrets:     e.secrets,
				Cache:       e.cache,
				Remote:      e.remote,
				Recheck:     recheck,
				Parallelism: e.cfg.Parallelism,
				Logger:      logger,
				Progress:    progress,
			})
			progress.finish()
			return err
		},
	})
}
