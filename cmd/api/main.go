package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/hikkinomore/buddy-server/internal/config"
	"github.com/hikkinomore/buddy-server/internal/handler"
	"github.com/hikkinomore/buddy-server/internal/logger"
	"github.com/hikkinomore/buddy-server/internal/model/skill"
	"github.com/hikkinomore/buddy-server/internal/service/ai"
	chatservice "github.com/hikkinomore/buddy-server/internal/service/chat"
	"github.com/hikkinomore/buddy-server/internal/service/judge"
	"github.com/hikkinomore/buddy-server/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New()

	if err := godotenv.Load(); err != nil {
		log.WithError(err).Warn("no .env file loaded, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	st, err := store.NewSQLiteStore(cfg.Store.Path, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}
	defer st.Close()
	log.WithField("path", cfg.Store.Path).Info("conversation store opened")

	if !cfg.AI.Enabled() {
		log.Fatal("ark credentials missing: the chat backend cannot start without a generation model")
	}
	aiSvc, err := ai.NewService(ctx, cfg.AI, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize generation service")
	}

	var judgeSvc *judge.Service
	var judgeWorker *judge.Worker
	var scheduler chatservice.JudgeScheduler
	if cfg.Judge.Enabled {
		judgeSvc, err = judge.NewService(ctx, aiSvc.GetChatModel(), skill.Default(), st, log)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize judge service")
		}

		judgeWorker = judge.NewWorker(log, judgeSvc, cfg.Judge.Workers, cfg.Judge.QueueSize)
		judgeWorker.Start(ctx)
		defer judgeWorker.Stop()
		scheduler = judgeWorker
		log.WithField("workers", cfg.Judge.Workers).Info("skill judge enabled")
	} else {
		log.Info("skill judge disabled by configuration")
	}

	chatSvc := chatservice.NewService(log, st, aiSvc, scheduler)
	router := handler.NewRouter(log, chatSvc, judgeSvc)

	startServer(ctx, log, cfg.Server, router)
}

func startServer(ctx context.Context, log *logrus.Logger, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.WithField("addr", serverCfg.Addr).Info("buddy backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.WithError(err).Fatal("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
