package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldscope/collect/pkg/common/config"
	"github.com/fieldscope/collect/pkg/common/database"
	"github.com/fieldscope/collect/pkg/common/kafka"
	"github.com/fieldscope/collect/pkg/common/logger"
	"github.com/fieldscope/collect/pkg/entity"
	"github.com/fieldscope/collect/pkg/form"
	"github.com/fieldscope/collect/pkg/ledger"
	"github.com/fieldscope/collect/pkg/location"
	"github.com/fieldscope/collect/pkg/submission"
	"github.com/fieldscope/collect/pkg/validation"
	"github.com/fieldscope/collect/pkg/workflow"
	"github.com/gorilla/mux"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	formRepo := form.NewRepository(db)
	entityRepo := entity.NewRepository(db)
	areaIndex := location.NewIndex(db)
	ledgerRepo := ledger.NewRepository(db)
	recordRepo := submission.NewRecordRepository(db)
	for name, migrate := range map[string]func() error{
		"forms":    formRepo.AutoMigrate,
		"entities": entityRepo.AutoMigrate,
		"areas":    areaIndex.AutoMigrate,
		"ledger":   ledgerRepo.AutoMigrate,
		"records":  recordRepo.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			logger.Log.WithError(err).WithField("tables", name).Fatal("failed to migrate")
		}
	}

	formCache := form.NewCache(database.GetRedis(), cfg.PostgresDB, cfg.FormCacheTTL)
	forms := form.NewService(formRepo, formCache)

	producer := kafka.NewProducer(cfg.SubmissionTopic).WithDLQ(cfg.SubmissionDLQTopic)
	defer producer.Close()

	orchestrator := submission.NewOrchestrator(submission.OrchestratorDeps{
		Forms:        forms,
		Pipeline:     validation.NewPipeline(entityRepo, cfg.ReporterEntityType),
		Codes:        workflow.NewShortCodeGenerator(entityRepo),
		Locations:    workflow.NewLocationResolver(areaIndex),
		Entities:     entity.NewResolver(entityRepo, cfg.ReporterEntityType),
		Records:      recordRepo,
		Ledger:       ledgerRepo,
		Events:       producer,
		ReporterType: cfg.ReporterEntityType,
		PollFormCode: cfg.PollFormCode,
		CSRFTokenKey: cfg.CSRFTokenKey,
		CodeRetries:  cfg.ShortCodeRetries,
	})

	handler := submission.NewHTTPHandler(orchestrator, ledgerRepo, cfg.MaxRequestBody)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Submission Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	smsConsumer := kafka.NewConsumer(cfg.SMSInboundTopic, cfg.KafkaGroupID)
	defer smsConsumer.Close()
	smsHandler := submission.NewSMSHandler(orchestrator)
	go func() {
		if err := smsConsumer.Consume(ctx, smsHandler.Handle); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Error("sms consumer stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Submission Service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Submission Service stopped")
}
