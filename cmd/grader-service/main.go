package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coursegrader/platform/pkg/common/config"
	"github.com/coursegrader/platform/pkg/common/database"
	"github.com/coursegrader/platform/pkg/common/kafka"
	"github.com/coursegrader/platform/pkg/common/logger"
	"github.com/coursegrader/platform/pkg/feedback"
	"github.com/coursegrader/platform/pkg/grading"
	"github.com/coursegrader/platform/pkg/mail"
	"github.com/coursegrader/platform/pkg/orchestrator"
	"github.com/coursegrader/platform/pkg/resolver"
	"github.com/coursegrader/platform/pkg/roster"
	"github.com/coursegrader/platform/pkg/submission"
	"github.com/gorilla/mux"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	rosterRepo := roster.NewRepository(db)
	if err := rosterRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate roster tables")
	}
	subRepo := submission.NewRepository(db)
	if err := subRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate submission tables")
	}

	dedupCache := submission.NewDedupCache(database.GetRedis(), cfg.DedupCacheTTL)

	producer := kafka.NewProducer(cfg.KafkaAuditTopic)
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exchanger := mail.NewGmailExchanger(ctx, mail.GmailConfig{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		RefreshToken: cfg.GmailRefreshToken,
		FetchLabel:   cfg.FetchLabel,
		SenderName:   cfg.SenderName,
		SenderEmail:  cfg.SenderEmail,
		DownloadDir:  cfg.DownloadDir,
	})
	if err := exchanger.Connect(ctx); err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to gmail")
	}

	templates, err := feedback.LoadTemplates(cfg.FeedbackTemplate)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load feedback templates")
	}
	composer := feedback.NewComposer(cfg.CourseName, cfg.FetchKeyword, cfg.OperatorEmail, templates)

	res := resolver.New(rosterRepo, cfg.FetchKeyword, cfg.AcceptedFormats)
	invoker := grading.NewInvoker(cfg.GraderCommand, cfg.GraderArgs, cfg.InvokeTimeout)

	orch := orchestrator.New(subRepo, rosterRepo, res, invoker, composer,
		exchanger, producer, dedupCache, orchestrator.Options{
			PollInterval: cfg.PollInterval,
			MaxAttempts:  cfg.MaxAttempts,
			GradeWorkers: cfg.GradeWorkers,
			RequeueAfter: 2 * cfg.InvokeTimeout,
		})

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	submission.NewHTTPHandler(subRepo).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Grader service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	go orch.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down grader service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Grader service stopped")
}
