package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"presencecal/internal/capture"
	"presencecal/internal/config"
	"presencecal/internal/ha"
	"presencecal/internal/history"
	appLog "presencecal/internal/log"
	"presencecal/internal/session"
	"presencecal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	debug      bool
	once       bool
	snapshot   bool
	logLevel   string
}

func main() {
	appLog.Info("presencecal starting", "version", "0.3.0")

	flags := parseFlags()
	appLog.SetLevel(appLog.ParseLevel(flags.logLevel))

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if conf.HomeAssistant.Token == "" {
		appLog.Warn("no Home Assistant token configured; feed requests will be rejected upstream",
			"config_path", flags.configPath)
	}

	loc := resolveLocationOrLocal(conf.Timezone)

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"ha_url", conf.HomeAssistant.URL,
		"refresh", conf.RefreshCron,
		"work_start", conf.WorkStart,
		"work_end", conf.WorkEnd,
		"top_locations", conf.TopLocations,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	client := ha.NewClient(conf.HomeAssistant.URL, conf.HomeAssistant.Token)
	feed := history.NewFeed(client, history.Config{
		WorkStart: conf.WorkStart,
		WorkEnd:   conf.WorkEnd,
		Workweek:  conf.Workweek,
		Location:  loc,
	})

	sess := session.New(feed, session.Options{
		Location:      loc,
		Overrides:     conf.Overrides,
		DefaultPerson: conf.DefaultPerson,
		TopLocations:  conf.TopLocations,
	})

	if err := sess.Init(ctx); err != nil {
		appLog.Error("session init failed", err)
		os.Exit(1)
	}

	server := web.NewServer(conf, sess, feed, loc, flags.debug)

	if flags.once {
		runOnce(ctx, conf, sess, server, flags)
		return
	}

	// Periodic refresh: catalogs + the currently displayed month, and
	// optionally a fresh PNG snapshot.
	scheduler := cron.New()
	_, err = scheduler.AddFunc(conf.RefreshCron, func() {
		refresh(ctx, conf, sess, flags)
	})
	if err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	if err := server.Serve(ctx); err != nil {
		appLog.Error("HTTP server stopped", err)
		os.Exit(1)
	}

	// Give outstanding log lines a moment to flush.
	time.Sleep(100 * time.Millisecond)
	appLog.Info("presencecal exiting")
}

// refresh is the cron body: reload catalogs, rebuild the current month,
// and re-snapshot when enabled.
func refresh(ctx context.Context, conf *config.Config, sess *session.Session, flags flagConfig) {
	if err := sess.ReloadCatalogs(ctx); err != nil {
		appLog.Error("catalog refresh failed", err)
		// Stale catalogs still render; keep going with the month.
	}
	if err := sess.LoadMonth(ctx); err != nil {
		appLog.Error("month refresh failed", err)
		return
	}
	if flags.snapshot {
		snapshot(ctx, conf, flags)
	}
}

// runOnce serves just long enough to take one snapshot, then exits.
func runOnce(ctx context.Context, conf *config.Config, sess *session.Session, server *web.Server, flags flagConfig) {
	srvCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		if err := server.Serve(srvCtx); err != nil {
			appLog.Error("HTTP server stopped", err)
		}
	}()

	// Let the listener come up before pointing Chromium at it.
	time.Sleep(300 * time.Millisecond)
	snapshot(ctx, conf, flags)
}

func snapshot(ctx context.Context, conf *config.Config, flags flagConfig) {
	out := conf.SnapshotPath
	if flags.debug {
		out = "./cache/preview.png"
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		appLog.Error("snapshot dir create failed", err, "path", out)
		return
	}

	err := capture.CalendarPNG(ctx, capture.Options{
		URL:        "http://" + conf.Listen + "/",
		OutputPath: out,
	})
	if err != nil {
		appLog.Error("snapshot failed", err, "path", out)
		return
	}
	appLog.Info("snapshot written", "path", out)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/presencecal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Use local cache paths and debug behavior")
	flag.BoolVar(&cfg.once, "once", false, "Serve once, write a snapshot, and exit")
	flag.BoolVar(&cfg.snapshot, "snapshot", false, "Also write a PNG snapshot on every refresh")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	return cfg
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}
