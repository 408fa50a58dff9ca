package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/guildtools/herald/internal/cache"
	"github.com/guildtools/herald/internal/chat"
	"github.com/guildtools/herald/internal/config"
	"github.com/guildtools/herald/internal/events"
	"github.com/guildtools/herald/internal/i18n"
	"github.com/guildtools/herald/internal/loader"
	"github.com/guildtools/herald/internal/logging"
	"github.com/guildtools/herald/internal/resilience"
	"github.com/guildtools/herald/internal/roster"
	"github.com/guildtools/herald/internal/sched"
	"github.com/guildtools/herald/internal/store"
	"github.com/guildtools/herald/internal/telemetry"
)

const version = "0.1.0"

// drainWindow bounds how long shutdown waits for in-flight work after
// the background tasks are cancelled.
const drainWindow = 10 * time.Second

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "herald",
		Short:         "Guild management bot core",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	})

	var backupDir string
	backupCmd := &cobra.Command{
		Use:   "backup <guild-id>",
		Short: "Dump one guild's rows to a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGateway(configPath, func(ctx context.Context, gw *store.Gateway, log *zap.Logger) error {
				path, err := resilience.NewBackupManager(gw, backupDir, log).Backup(ctx, args[0])
				if err != nil {
					return err
				}
				cmd.Println(path)
				return nil
			})
		},
	}
	backupCmd.Flags().StringVar(&backupDir, "dir", "backups", "backup output directory")
	root.AddCommand(backupCmd)

	root.AddCommand(&cobra.Command{
		Use:   "restore <backup.json>",
		Short: "Replay a guild backup into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGateway(configPath, func(ctx context.Context, gw *store.Gateway, log *zap.Logger) error {
				return resilience.NewBackupManager(gw, "", log).Restore(ctx, args[0])
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.Load(configPath); err != nil {
				return err
			}
			cmd.Println("configuration OK")
			return nil
		},
	})

	return root
}

// withGateway runs fn against a short-lived store connection for the
// one-shot maintenance commands.
func withGateway(configPath string, fn func(context.Context, *store.Gateway, *zap.Logger) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Debug, cfg.Production)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	gw, err := store.Open(cfg.DSN(), store.Options{
		PoolSize:         cfg.DBPoolSize,
		QueryTimeout:     cfg.DBTimeout(),
		BreakerThreshold: cfg.DBCircuitBreakerThreshold,
	}, log)
	if err != nil {
		return err
	}
	defer gw.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	return fn(ctx, gw, log)
}

func run(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, err := logging.New(cfg.Debug, cfg.Production)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := telemetry.Init(ctx, "herald", version); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(sctx)
	}()

	bundle, err := i18n.Load(cfg.TranslationFile, log)
	if err != nil {
		return err
	}

	gw, err := store.Open(cfg.DSN(), store.Options{
		PoolSize:         cfg.DBPoolSize,
		QueryTimeout:     cfg.DBTimeout(),
		BreakerThreshold: cfg.DBCircuitBreakerThreshold,
	}, log)
	if err != nil {
		return err
	}
	defer gw.Close()

	c := cache.New(log)
	ld := loader.New(gw, c, log)
	if err := ld.LoadAll(ctx); err != nil {
		// Partial hydration is survivable; categories retry on demand.
		log.Warn("initial cache hydration incomplete", zap.Error(err))
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return fmt.Errorf("platform session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions

	api := chat.NewDiscord(session)
	limiter := chat.NewLimiter(cfg.RateLimitPerMinute)

	reconciler := roster.New(gw, c, log)
	lifecycle := events.New(gw, c, ld, api, bundle, log)
	lifecycle.SetFormer(groupFormer{})

	retrier := resilience.NewRetrier(log)
	degrader := resilience.NewDegrader(log)
	// With the store circuit open the sweeps skip the period instead of
	// hammering the breaker; the next tick retries.
	degrader.Register("store", func() (any, error) { return nil, nil })

	if err := telemetry.ObserveCache(c); err != nil {
		return err
	}
	if err := telemetry.ObserveStore(gw); err != nil {
		return err
	}

	// Reaction ingress: the only platform events the core consumes.
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		if r.UserID == session.State.User.ID {
			return
		}
		if err := lifecycle.HandleReactionAdd(ctx, r.GuildID, r.ChannelID, r.MessageID, r.UserID, r.Emoji.Name); err != nil {
			log.Error("reaction add", zap.String("event", r.MessageID), zap.Error(err))
		}
	})
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
		if err := lifecycle.HandleReactionRemove(ctx, r.GuildID, r.ChannelID, r.MessageID, r.UserID, r.Emoji.Name); err != nil {
			log.Error("reaction remove", zap.String("event", r.MessageID), zap.Error(err))
		}
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("opening platform gateway: %w", err)
	}
	defer session.Close()

	// Background driver. Jobs log their own failures; the scheduler
	// loop never sees them.
	storeGuarded := func(fn func(context.Context) error) sched.JobFunc {
		return func(ctx context.Context) error {
			_, err := degrader.ExecuteWithFallback("store", func() (any, error) {
				return nil, fn(ctx)
			})
			return err
		}
	}

	scheduler := sched.New(log)
	scheduler.Register(sched.JobClose, sched.EveryMinutes(1), storeGuarded(lifecycle.CloseDue))
	scheduler.Register(sched.JobRemind, sched.DailyAt(9, 0), storeGuarded(lifecycle.RemindDue))
	scheduler.Register(sched.JobDelete, sched.EveryMinutes(5), storeGuarded(lifecycle.DeleteExpired))
	scheduler.Register(sched.JobRosterMaintenance, sched.EveryMinutes(60), func(ctx context.Context) error {
		return retrier.Do(ctx, "roster", func() error {
			return reconcileAll(ctx, gw, ld, api, reconciler)
		})
	})
	scheduler.Register(sched.JobCacheMaintenance, sched.EveryMinutes(5), func(ctx context.Context) error {
		c.RunMaintenance(ctx)
		limiter.Prune()
		return nil
	})
	scheduler.Register(sched.JobCreateDaily, sched.DailyAt(0, 5), lifecycle.CreateDailyEvents)

	schedDone := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(schedDone)
	}()

	log.Info("herald running", zap.String("version", version))
	<-ctx.Done()
	log.Info("shutdown requested")

	// Background tasks first, then a bounded drain, then the pool.
	select {
	case <-schedDone:
	case <-time.After(drainWindow):
		log.Warn("drain window elapsed with jobs still running")
	}
	return nil
}
