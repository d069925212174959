package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pagelens/audit_agent/internal/api"
	"github.com/pagelens/audit_agent/internal/browser"
	"github.com/pagelens/audit_agent/internal/browsertab"
	"github.com/pagelens/audit_agent/internal/config"
	"github.com/pagelens/audit_agent/internal/coordinator"
	"github.com/pagelens/audit_agent/internal/netutil"
	"github.com/pagelens/audit_agent/internal/notify"
	"github.com/pagelens/audit_agent/internal/pipeline"
	"github.com/pagelens/audit_agent/internal/relay"
	"github.com/pagelens/audit_agent/internal/session"
	"github.com/pagelens/audit_agent/internal/store"
	"github.com/pagelens/audit_agent/internal/tabstate"
	"github.com/pagelens/audit_agent/internal/tabwatch"
)

// watchRelay forwards navigation events to the coordinator service. The
// watcher needs a handler before the service exists, so the target is
// filled in after construction.
type watchRelay struct {
	svc *coordinator.Service
}

func (r *watchRelay) OnTabNavigated(tabID, url string) {
	if r.svc != nil {
		r.svc.OnTabNavigated(tabID, url)
	}
}

func (r *watchRelay) OnTabClosed(tabID string) {
	if r.svc != nil {
		r.svc.OnTabClosed(tabID)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("coordinator config loaded",
		"cdp_url", cfg.CDPURL(),
		"bind_addr", cfg.BindAddr,
		"port_candidates", cfg.PortCandidates,
		"db_path", cfg.DBPath,
		"tab_url_filter", cfg.TabURLFilter,
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"launch_browser", cfg.LaunchBrowser,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates)
	if err != nil {
		slog.Error("failed to select bind address", "host", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
		})
		if err := launcher.Launch(context.Background()); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Debug("store close failed", "error", err)
		}
	}()

	bridge := browsertab.NewClient(cfg.CDPURL(), cfg.TabURLFilter, time.Duration(cfg.EvalTimeoutMS)*time.Millisecond)
	if err := bridge.Connect(context.Background()); err != nil {
		slog.Warn("browser not reachable at startup, will retry on demand",
			"cdp_url", cfg.CDPURL(), "error", err)
	}
	defer func() {
		if err := bridge.Close(); err != nil {
			slog.Debug("browser client close failed", "error", err)
		}
	}()

	tabs := tabstate.NewRegistry(st)
	sessions := session.NewManager(st, tabs, bridge)

	shots := pipeline.New(bridge, st)
	shots.SetEncoding(cfg.BlobMaxDimension, cfg.BlobJPEGQuality)

	broker := relay.NewBroker()

	var notifier *notify.Notifier
	if cfg.NotifyURL != "" {
		notifier = notify.New(cfg.NotifyURL, nil)
	}

	wr := &watchRelay{}
	watcher := tabwatch.NewWatcher(cfg.CDPURL(), wr)
	defer func() {
		if err := watcher.Close(); err != nil {
			slog.Debug("watcher close failed", "error", err)
		}
	}()

	svc := coordinator.NewService(st, tabs, sessions, bridge, shots, broker, notifier, watcher)
	wr.svc = svc

	h := api.NewServer(svc, broker)
	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("coordinator listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("coordinator server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("coordinator shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
