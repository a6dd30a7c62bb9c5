package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/learnstack/tutord/internal/ai"
	"github.com/learnstack/tutord/internal/chunker"
	"github.com/learnstack/tutord/internal/config"
	"github.com/learnstack/tutord/internal/embedding"
	"github.com/learnstack/tutord/internal/handler"
	"github.com/learnstack/tutord/internal/job"
	"github.com/learnstack/tutord/internal/middleware"
	"github.com/learnstack/tutord/internal/queue"
	"github.com/learnstack/tutord/internal/repo"
	"github.com/learnstack/tutord/internal/schedule"
	"github.com/learnstack/tutord/internal/service"
	"github.com/learnstack/tutord/internal/vectorindex"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "tutord",
		Short: "tutord backend server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run tutord server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			db, err := repo.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := repo.ApplyMigrations(db); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, db)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, db *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("db_name", cfg.Database.DBName),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("embedding_provider", cfg.Embedding.Provider),
	)

	sourceRepo := repo.NewSourceRepo(db)
	ingestionRepo := repo.NewIngestionRepo(db)
	conversationRepo := repo.NewConversationRepo(db)
	messageRepo := repo.NewMessageRepo(db)

	genProvider, err := ai.NewGenProvider(cfg.AI.Provider, cfg.AI.Data)
	if err != nil {
		return fmt.Errorf("init generation provider: %w", err)
	}
	genClient := ai.NewClient(genProvider, ai.ClientConfig{
		Model:   cfg.AI.Model,
		Timeout: cfg.AI.Timeout,
	})
	embedProvider, err := ai.NewEmbedProvider(cfg.Embedding.Provider, cfg.Embedding.Data)
	if err != nil {
		return fmt.Errorf("init embedding provider: %w", err)
	}
	embedder := embedding.NewGenerator(embedProvider, embedding.Config{
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout,
	})

	index := vectorindex.New(db, cfg.Embedding.Dimension)
	splitter := chunker.New(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)

	workQueue := queue.New(queue.Config{
		Workers:     cfg.Ingest.Workers,
		Buffer:      cfg.Ingest.QueueBuffer,
		MaxAttempts: cfg.Ingest.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Ingest.RetryDelaySeconds) * time.Second,
	})
	workQueue.Start(context.Background())
	defer workQueue.Stop()

	ingestService := service.NewIngestService(ingestionRepo, sourceRepo, splitter, embedder, index, workQueue)
	retrievalService := service.NewRetrievalService(embedder, index, ingestionRepo, sourceRepo, cfg.Retrieval.TopN)
	chatService := service.NewChatService(conversationRepo, messageRepo, retrievalService, genClient, cfg.Retrieval.HistoryLimit)

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewRequeueJob(ingestService), cfg.Ingest.RequeueCron); err != nil {
		return fmt.Errorf("schedule requeue job: %w", err)
	}
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	deps := handler.RouterDeps{
		Chat:     handler.NewChatHandler(chatService),
		Retrieve: handler.NewRetrieveHandler(retrievalService),
		Sources:  handler.NewSourceHandler(ingestService),
		Classes:  handler.NewClassHandler(ingestService),
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.CORSOrigin),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
