package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"autopost_bot/internal/api"
	"autopost_bot/internal/bot"
	"autopost_bot/internal/config"
	"autopost_bot/internal/delivery"
	"autopost_bot/internal/dispatch"
	"autopost_bot/internal/fetcher"
	"autopost_bot/internal/metrics"
	"autopost_bot/internal/prefs"
	"autopost_bot/internal/scheduler"
	"autopost_bot/internal/session"
	"autopost_bot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	db, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	log.Info("database ready", "path", cfg.DatabasePath, "schema_version", db.SchemaVersion())

	store := prefs.New(prefs.Defaults{Categories: cfg.DefaultCategories, Tags: cfg.DefaultTags})
	if list, err := db.LoadPreferences(context.Background()); err != nil {
		log.Warn("load preferences snapshot, starting empty", "error", err)
	} else {
		store.Restore(list)
		log.Info("preferences restored", "destinations", len(list))
	}

	source, terms := newSource(cfg, &http.Client{Timeout: 60 * time.Second})

	tg, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create bot api", "error", err)
		os.Exit(1)
	}
	log.Info("authorized", "username", tg.Self.UserName)

	sender := bot.NewSender(tg, cfg.SendRate, log.With("component", "sender"))
	pipeline := delivery.NewPipeline(sender, store, log.With("component", "delivery"))

	sched := scheduler.New(store, source, pipeline, scheduler.Config{
		Interval:      cfg.CheckInterval,
		ItemDelay:     cfg.ItemDelay,
		FetchLimit:    cfg.FetchLimit,
		MaxRejections: cfg.MaxRejections,
	}, log.With("component", "scheduler"))
	disp := dispatch.New(store, source, sched, log.With("component", "dispatch"))
	sessions := session.New(store, cfg.SessionTTL)
	prometheus.MustRegister(metrics.SelectionSessions(sessions.Len))

	b := bot.New(tg, cfg, bot.Deps{
		Prefs:      store,
		Scheduler:  sched,
		Dispatcher: disp,
		Sessions:   sessions,
		Terms:      terms,
	}, log.With("component", "bot"))

	snap, err := storage.NewSnapshotter(db, store, cfg.SnapshotSchedule, log.With("component", "snapshot"))
	if err != nil {
		log.Error("create snapshotter", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sched.Restore(); err != nil {
		log.Error("restore schedules", "error", err)
	}
	snap.Start()

	var wg sync.WaitGroup
	if cfg.HTTPAddr != "" {
		srv := api.NewServer(store, sched, disp, prometheus.DefaultGatherer, log.With("component", "api"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
				log.Error("http server", "error", err)
			}
		}()
	}

	log.Info("starting bot", "source", cfg.SourceKind, "interval", cfg.CheckInterval)

	b.Run(ctx)

	graceCtx, graceCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer graceCancel()
	if err := sched.Shutdown(graceCtx); err != nil {
		log.Warn("scheduler shutdown", "error", err)
	}

	saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer saveCancel()
	if err := snap.Stop(saveCtx); err != nil {
		log.Error("stop snapshotter", "error", err)
	}

	wg.Wait()
	log.Info("bot stopped")
}

func newSource(cfg *config.Config, client fetcher.HTTPClient) (fetcher.Source, fetcher.TermLister) {
	if cfg.SourceKind == config.SourceRSS {
		return fetcher.NewFeed(client, cfg.SourceURL), nil
	}
	wp := fetcher.NewWordPress(client, cfg.SourceURL)
	return wp, wp
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
