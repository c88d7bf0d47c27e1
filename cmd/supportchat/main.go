package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rollupim/supportchat/internal/chat"
	"github.com/rollupim/supportchat/internal/config"
	"github.com/rollupim/supportchat/internal/content"
	"github.com/rollupim/supportchat/internal/escalate"
	"github.com/rollupim/supportchat/internal/httpapi"
	"github.com/rollupim/supportchat/internal/llm"
	"github.com/rollupim/supportchat/internal/notify"
	"github.com/rollupim/supportchat/internal/observability"
	"github.com/rollupim/supportchat/internal/orders"
	"github.com/rollupim/supportchat/internal/session"
	"github.com/rollupim/supportchat/internal/turnlog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, closeLog := config.SetupLogger(cfg.AppLogFile, slog.LevelInfo)
	defer closeLog()
	slog.SetDefault(logger)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()

	contents := content.NewStore(cfg.ContentDir, logger)
	if err := contents.Load(); err != nil {
		logger.Warn("initial content load failed, starting with empty content", "error", err)
	}

	logStore, err := turnlog.NewStore(ctx, cfg.DatabaseURL, cfg.TurnLogDir)
	if err != nil {
		log.Fatalf("turn log init failed: %v", err)
	}
	defer logStore.Close()
	turnLogger := turnlog.NewLogger(logStore, cfg.TurnLogRetention, logger)

	sessions := session.NewManager(cfg.SessionTTL, cfg.HistoryMaxTurns)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	model, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIFallbackModel)
	if err != nil {
		log.Fatalf("model client init failed: %v", err)
	}

	gateway := orders.NewGateway(cfg)
	notifier := notify.NewNotifier(cfg.EscalationWebhookURL, cfg.EscalationRecipient)
	machine := escalate.NewMachine(notifier, escalate.DefaultExtractors(), logger)

	orchestrator := chat.NewOrchestrator(chat.Options{
		Sessions:    sessions,
		Content:     contents,
		Orders:      gateway,
		LLM:         model,
		Machine:     machine,
		Recorder:    turnLogger,
		Metrics:     metrics,
		Logger:      logger,
		CallTimeout: cfg.ExternalCallTimeout,
	})

	api := httpapi.New(cfg, orchestrator, notifier, contents, turnLogger, sessions, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, time.Minute)
	contents.StartRefresher(runCtx, cfg.ContentReloadInterval)
	turnLogger.StartPurger(runCtx, time.Hour)

	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}
