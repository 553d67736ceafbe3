package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/critward/internal/channels/discord"
	"github.com/nextlevelbuilder/critward/internal/classifier"
	"github.com/nextlevelbuilder/critward/internal/config"
	"github.com/nextlevelbuilder/critward/internal/evaluation"
	"github.com/nextlevelbuilder/critward/internal/moderation"
	"github.com/nextlevelbuilder/critward/internal/store"
	"github.com/nextlevelbuilder/critward/internal/store/sqlite"
	"github.com/nextlevelbuilder/critward/internal/telemetry"
)

func runBot() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	// Secrets come from the environment; a local .env is a convenience, not
	// a requirement.
	_ = godotenv.Load()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, cfg.Telemetry, slog.Default())
		if err != nil {
			slog.Error("failed to init telemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	kv, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		slog.Error("failed to open store", "path", cfg.Store.Path, "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	evalStore := store.NewEvalStore(kv)
	flagStore := store.NewFlagStore(kv)
	checkpoints := store.NewCheckpointStore(kv)

	gateway := classifier.NewGateway(cfg.Classifier)
	engine := moderation.NewEngine(cfg.Moderation.ConfidenceThreshold, evalStore, flagStore)

	channel, err := discord.New(cfg.Discord)
	if err != nil {
		slog.Error("failed to create discord channel", "error", err)
		os.Exit(1)
	}

	dispatcher := moderation.NewDispatcher(channel, gateway, flagStore, moderation.DispatcherConfig{
		LogOnly:         cfg.Discord.LogOnly,
		ReactWhenSilent: cfg.Discord.ReactWhenSilent,
		ReactionEmoji:   cfg.Discord.ReactionEmoji,
		Guidelines:      cfg.Moderation.Guidelines,
	})
	assembler := moderation.NewAssembler(channel, cfg.Moderation.ContextLimit)

	sched := moderation.NewScheduler(moderation.SchedulerConfig{
		CountThreshold: cfg.Moderation.CountThreshold,
		TimeThreshold:  cfg.Moderation.TimeThreshold(),
		SweepInterval:  cfg.Moderation.SweepInterval(),
		ContextLimit:   cfg.Moderation.ContextLimit,
	}, assembler, gateway, engine, dispatcher, moderation.NewWaiverSet(), checkpoints)

	runner := evaluation.NewRunner(gateway, evalStore, engine.Threshold)
	channel.Attach(sched, runner)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return sched.Run(groupCtx)
	})
	group.Go(func() error {
		if err := channel.Start(groupCtx); err != nil {
			return err
		}
		<-groupCtx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return channel.Stop(stopCtx)
	})

	slog.Info("critward running", "channels", len(cfg.Discord.AllowChannels))
	if err := group.Wait(); err != nil && err != context.Canceled {
		slog.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	slog.Info("critward stopped")
}
