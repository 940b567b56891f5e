package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gokkuu100/wakiliweb-sub003/internal/api"
	"github.com/gokkuu100/wakiliweb-sub003/internal/auth"
	"github.com/gokkuu100/wakiliweb-sub003/internal/chat"
	"github.com/gokkuu100/wakiliweb-sub003/internal/config"
	"github.com/gokkuu100/wakiliweb-sub003/internal/generation"
	"github.com/gokkuu100/wakiliweb-sub003/internal/knowledge"
	"github.com/gokkuu100/wakiliweb-sub003/internal/redis"
	"github.com/gokkuu100/wakiliweb-sub003/internal/retrieval"
	"github.com/gokkuu100/wakiliweb-sub003/internal/storage"
	"github.com/gokkuu100/wakiliweb-sub003/internal/store"
	"github.com/gokkuu100/wakiliweb-sub003/internal/usage"
	"github.com/gokkuu100/wakiliweb-sub003/internal/worker"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	cfgPath := os.Getenv("WAKILI_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	dbType := os.Getenv("WAKILI_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Info("opening database", zap.String("driver", dbType))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	// The vector index is a sqlite extension, so the knowledge store always
	// lives in sqlite even when conversational state runs on mysql.
	knowledgeDB := db
	if dbType != "sqlite3" && dbType != "sqlite" {
		knowledgeDB, err = storage.Open("sqlite3", cfg)
		if err != nil {
			logger.Fatal("open knowledge database", zap.Error(err))
		}
		defer knowledgeDB.Close()
		if err := storage.Migrate(knowledgeDB, "sqlite3"); err != nil {
			logger.Fatal("migrate knowledge database", zap.Error(err))
		}
	}

	rdb, err := redis.NewClient(cfg)
	if err != nil {
		logger.Fatal("create redis client", zap.Error(err))
	}
	defer rdb.Close()

	ctx := context.Background()

	limitSvc, err := usage.NewRedisLimitService(rdb, cfg.Usage)
	if err != nil {
		logger.Fatal("init limit service", zap.Error(err))
	}
	guard := usage.NewGuard(limitSvc, logger)

	geminiCfg, ok := cfg.Providers["gemini"]
	if !ok {
		logger.Fatal("gemini provider must be configured for embeddings")
	}
	embedder, err := knowledge.NewGenAIEmbedder(ctx, geminiCfg.APIKey, cfg.Retrieval.EmbeddingModel)
	if err != nil {
		logger.Fatal("init embedder", zap.Error(err))
	}
	knowledgeStore, err := knowledge.NewStore(knowledgeDB, embedder, logger)
	if err != nil {
		logger.Fatal("init knowledge store", zap.Error(err))
	}
	retriever := retrieval.New(
		knowledgeStore,
		cfg.Retrieval.RelevanceThreshold,
		cfg.Retrieval.MaxResults,
		time.Duration(cfg.Retrieval.TimeoutSeconds)*time.Second,
		cfg.Retrieval.Jurisdiction,
		logger,
	)

	genClient, err := generation.NewEinoClient(ctx, cfg)
	if err != nil {
		logger.Fatal("init generation client", zap.Error(err))
	}
	gateway := generation.NewGateway(genClient, time.Duration(cfg.Generation.TimeoutSeconds)*time.Second, logger)

	conversations := store.New(db)
	orchestrator := chat.NewOrchestrator(conversations, retriever, gateway, guard, limitSvc, logger)

	dispatcher := worker.NewDispatcher(cfg.BasicConfig.Workers, cfg.BasicConfig.QueueSize)
	defer dispatcher.Stop()

	authService := auth.NewService(db, 24*time.Hour)
	handlers := api.NewHandler(orchestrator, conversations, authService, dispatcher, logger)
	handlers.SetKnowledgeIndexer(knowledgeStore)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	logger.Info("server listening", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
