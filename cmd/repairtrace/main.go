package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/osvlab/repairtrace/internal/cache"
	"github.com/osvlab/repairtrace/internal/config"
	"github.com/osvlab/repairtrace/internal/gh"
	"github.com/osvlab/repairtrace/internal/logging"
	"github.com/osvlab/repairtrace/internal/registry"
	"github.com/osvlab/repairtrace/internal/repair"
	"github.com/osvlab/repairtrace/internal/report"
)

var rootCmd = &cobra.Command{
	Use:   "repairtrace",
	Short: "Resolve and classify downstream dependency-repair pull requests",
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve repair PRs for hop=1 events and classify them",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.New(logging.DefaultLogger(config.LogLevel()))

		input := config.Input()
		if input == "" {
			return errors.New("an input CSV is required (--input)")
		}
		token := config.GitHubToken()
		if token == "" {
			return errors.New("a GitHub token is required (--github_token or GITHUB_TOKEN)")
		}

		events, err := repair.LoadEvents(input)
		if err != nil {
			return err
		}
		logger.Info("input loaded", "events", len(events))

		store := cache.New(cache.NewFSStore(config.CacheDir()), config.RefreshCache())
		ghClient := gh.New(token, store, gh.Options{
			CoreInterval:   time.Duration(config.CoreIntervalMS()) * time.Millisecond,
			SearchInterval: time.Duration(config.SearchIntervalMS()) * time.Millisecond,
		}, logger)
		crates := registry.New(store, time.Duration(config.RegistryIntervalMS())*time.Millisecond, logger)

		bots := repair.DefaultBotLogins()
		if path := config.BotsFile(); path != "" {
			extra, err := repair.LoadBotLogins(path)
			if err != nil {
				return err
			}
			bots = append(bots, extra...)
		}

		resolver := repair.NewRepoResolver(crates, config.DefaultRepoURL(), logger)
		processor := repair.NewProcessor(ghClient, resolver, repair.NewClassifier(bots), repair.ProcessorConfig{
			OutputPath:  config.Output(),
			SnapshotDir: filepath.Join(config.CacheDir(), "snapshots"),
			Limit:       config.Limit(),
			Force:       config.Force(),
		}, logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		go func() { <-sigs; cancel() }()

		return processor.Run(ctx, events)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize a finished run from its output table",
	RunE: func(cmd *cobra.Command, args []string) error {
		agg, err := report.Load(config.Output())
		if err != nil {
			return err
		}
		return report.Render(os.Stdout, agg, config.ReportTop())
	},
}

func main() {
	flags := rootCmd.PersistentFlags()
	flags.String(config.KeyInput, "", "input CSV of hop=1 repair events")
	flags.String(config.KeyOutput, "", "output CSV path")
	flags.String(config.KeyCacheDir, "", "cache directory for remote responses and snapshots")
	flags.String(config.KeyGitHubToken, "", "GitHub token (defaults to GITHUB_TOKEN)")
	flags.String(config.KeyLogLevel, "", "log level (info or debug)")
	flags.String(config.KeyBotsFile, "", "YAML file with additional bot logins")
	flags.String(config.KeyDefaultRepoURL, "", "repository URL used when an event has none")
	flags.Int(config.KeyLimit, 0, "process at most N pending events (0 = all)")
	flags.Bool(config.KeyForce, false, "ignore prior output and rewrite it")
	flags.Bool(config.KeyRefreshCache, false, "refetch remote data even when cached")
	flags.Int(config.KeyReportTop, 0, "advisories shown in the report")

	config.Init(rootCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(reportCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("repairtrace: %v", err)
	}
}
