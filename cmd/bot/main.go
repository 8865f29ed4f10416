package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/chatrank/internal/bot"
	"github.com/robalyx/chatrank/internal/discord/guild"
	"github.com/robalyx/chatrank/internal/discord/rate"
	"github.com/robalyx/chatrank/internal/dispatch"
	"github.com/robalyx/chatrank/internal/history"
	"github.com/robalyx/chatrank/internal/redis"
	"github.com/robalyx/chatrank/internal/rest"
	"github.com/robalyx/chatrank/internal/rest/handler"
	"github.com/robalyx/chatrank/internal/roles"
	"github.com/robalyx/chatrank/internal/schedule"
	"github.com/robalyx/chatrank/internal/setup"
	"github.com/robalyx/chatrank/internal/tracker"
	"github.com/robalyx/chatrank/internal/worker/rank"
	"github.com/sourcegraph/conc"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const (
	// BotLogDir specifies where bot log files are stored.
	BotLogDir = "logs/bot_logs"

	// historyPageDelay is the pause between history pages.
	historyPageDelay = time.Second

	// shutdownTimeout bounds the final flush and gateway close.
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "bot",
		Usage: "Start the chatrank Discord bot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-dir",
				Value: BotLogDir,
				Usage: "Directory for log sessions",
			},
			&cli.BoolFlag{
				Name:  "skip-history",
				Usage: "Do not import message history on an empty ledger",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runBot(ctx, c.String("log-dir"), c.Bool("skip-history"))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, os.Args)
}

// runBot wires every component and blocks until ctx is cancelled.
func runBot(ctx context.Context, logDir string, skipHistory bool) error {
	app, err := setup.InitializeApp(ctx, logDir)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup()

	cfg := app.Config
	logger := app.Logger
	clock := quartz.NewReal()
	repo := app.DB.Model()
	guildID := snowflake.ID(cfg.Discord.GuildID)

	// Core counting and scheduling
	tr := tracker.New(repo.Ledger(), clock, app.Location, app.Metrics, logger)
	queue := dispatch.NewQueue(logger)
	coordinator := schedule.NewCoordinator(repo.TaskRun(), clock, app.Location, app.Metrics, logger)

	// Discord client and guild adapter
	commands := bot.NewHandler(guildID, cfg.Discord.IsDevelopment(), tr, queue, coordinator, logger.Named("commands"))

	discordBot, err := bot.New(&cfg.Discord, commands, logger)
	if err != nil {
		return err
	}

	guildClient := guild.New(discordBot.Rest(), guildID, logger)

	worker := rank.New(
		tr, repo.Ledger(), roles.NewReconciler(guildClient, logger),
		roleSlots(cfg.Discord.RankRoleIDs), app.Location, logger,
	)
	if err := worker.Register(coordinator); err != nil {
		return err
	}

	// The queue outlives ctx so pending increments are drained on shutdown
	var wg conc.WaitGroup
	wg.Go(func() { queue.Run(context.Background()) })

	if err := discordBot.Start(ctx); err != nil {
		queue.Close()
		wg.Wait()

		return fmt.Errorf("failed to start bot: %w", err)
	}

	// The import overwrites this month's rows, so it finishes before anything can flush
	if cfg.Discord.HistoryImport && !skipHistory {
		importer := history.NewImporter(
			guildClient, rate.New(clock, historyPageDelay, 0), repo.Ledger(), clock, app.Location, logger,
		)
		importHistoryIfEmpty(ctx, tr, repo.Ledger(), importer, logger)
	}

	wg.Go(func() {
		if err := coordinator.Start(ctx); err != nil {
			logger.Error("Failed to start scheduler", zap.Error(err))
		}
	})

	wg.Go(func() {
		interval := time.Duration(cfg.Schedule.FlushInterval) * time.Minute
		if err := tr.RunAutoFlush(ctx, interval); err != nil {
			logger.Error("Auto flush stopped", zap.Error(err))
		}
	})

	if cfg.API.Enabled {
		server := newRESTServer(app, tr, clock)
		wg.Go(func() {
			if err := server.ListenAndServe(ctx, &cfg.API); err != nil {
				logger.Error("REST API server stopped", zap.Error(err))
			}
		})
	}

	log.Println("Bot has been started. Waiting for interrupt signal to gracefully shutdown...")
	<-ctx.Done()

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	coordinator.Stop()
	discordBot.Close(shutdownCtx)
	queue.Close()
	wg.Wait()

	// Counts still in memory are saved before exiting
	if _, err := tr.Flush(shutdownCtx); err != nil {
		logger.Error("Final flush failed", zap.Error(err))
	}

	return nil
}

// countingLedger reports whether the ledger holds any rows.
type countingLedger interface {
	Count(ctx context.Context) (int, error)
}

// historyImporter rebuilds the current month from channel history.
type historyImporter interface {
	Import(ctx context.Context) (history.Report, error)
}

// flushHolder suspends flushing while a function runs.
type flushHolder interface {
	Hold(fn func())
}

// importHistoryIfEmpty rebuilds the current month from channel history on a cold start.
// Flushes requested during the import wait for it and then add on top of the imported counts.
func importHistoryIfEmpty(
	ctx context.Context, holder flushHolder, ledger countingLedger, importer historyImporter, logger *zap.Logger,
) {
	holder.Hold(func() {
		count, err := ledger.Count(ctx)
		if err != nil {
			logger.Error("Failed to check ledger for history import", zap.Error(err))
			return
		}

		if count > 0 {
			logger.Debug("Ledger has data, skipping history import", zap.Int("rows", count))
			return
		}

		report, err := importer.Import(ctx)
		if err != nil {
			logger.Error("History import failed", zap.Error(err))
			return
		}

		logger.Info("History import finished",
			zap.String("period", report.Period.Key()),
			zap.Int("channels", report.Channels),
			zap.Int("failed_channels", report.FailedChannels),
			zap.Int("messages", report.Messages),
			zap.Int("users", report.Result.Imported))
	})
}

// newRESTServer builds the HTTP API, reading rankings through Redis when it is enabled.
func newRESTServer(app *setup.App, tr *tracker.Tracker, clock quartz.Clock) *rest.Server {
	cfg := app.Config
	var ranker handler.Ranker = app.DB.Model().Ledger()

	if app.RedisManager.Enabled() {
		client, err := app.RedisManager.GetClient(redis.CacheDBIndex)
		if err != nil {
			app.Logger.Warn("Redis unavailable, serving rankings from the database", zap.Error(err))
		} else {
			ttl := time.Duration(cfg.API.CacheTTL) * time.Second
			ranker = redis.NewRankingCache(client, ranker, ttl, app.Logger)
		}
	}

	return rest.NewServer(
		handler.NewRankingHandler(ranker, clock, app.Location, cfg.API.DefaultLimit, cfg.API.MaxLimit, app.Logger),
		handler.NewUserHandler(tr, app.Logger),
		app.Metrics.Handler(),
		app.Logger,
	)
}

// roleSlots converts the configured rank role IDs.
func roleSlots(ids []uint64) []snowflake.ID {
	slots := make([]snowflake.ID, len(ids))
	for i, id := range ids {
		slots[i] = snowflake.ID(id)
	}

	return slots
}
