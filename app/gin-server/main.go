package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/kelvana/presetsmith/config"
	"github.com/kelvana/presetsmith/internal/api/handlers"
	"github.com/kelvana/presetsmith/internal/api/middleware"
	"github.com/kelvana/presetsmith/internal/api/routes"
	"github.com/kelvana/presetsmith/internal/cache"
	"github.com/kelvana/presetsmith/internal/logger"
	mongorepo "github.com/kelvana/presetsmith/internal/repositories/mongo"
	pgrepo "github.com/kelvana/presetsmith/internal/repositories/postgres"
	"github.com/kelvana/presetsmith/internal/services"
	"github.com/kelvana/presetsmith/internal/statushub"
	"github.com/kelvana/presetsmith/internal/worker"
)

func main() {
	_ = godotenv.Load()

	l := logger.New()

	// Init MongoDB
	if err := config.InitMongo(); err != nil {
		log.Fatalf("MongoDB init error: %v", err)
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.Fatalf("MongoDB index error: %v", err)
	}
	l.Info("MongoDB connected")

	// Init PostgreSQL
	if err := config.InitPostgres(); err != nil {
		log.Fatalf("PostgreSQL init error: %v", err)
	}
	l.Info("PostgreSQL connected")

	// Init Redis
	if err := config.InitRedis(); err != nil {
		log.Fatalf("Redis init error: %v", err)
	}
	l.Info("Redis connected")

	mongoDB := config.MongoClient.Database(config.MongoDBName())

	ledger := pgrepo.NewRequestRepo(config.PostgresDB)
	artifacts := mongorepo.NewArtifactRepo(mongoDB)
	records := cache.NewRedisRecordCache(config.RedisClient)
	hub := statushub.New(envDuration("HUB_TEARDOWN_GRACE", 500*time.Millisecond), l)

	workerTimeout := envDuration("WORKER_TIMEOUT", 5*time.Minute)
	modelServerURL := envString("MODEL_SERVER_URL", "http://localhost:3000")
	predictor := worker.NewClient(modelServerURL, workerTimeout, l)

	svc := services.NewInferenceService(ledger, artifacts, hub, predictor, records, l, services.Config{
		WorkerTimeout:        workerTimeout,
		TerminalWriteRetries: envInt("TERMINAL_WRITE_RETRIES", 0),
		DispatchWorkers:      envInt("DISPATCH_WORKERS", 4),
	})
	if err := svc.Start(context.Background()); err != nil {
		log.Fatalf("dispatch pool start error: %v", err)
	}

	// Start Gin server
	r := gin.New()
	r.Use(middleware.RequestLogger(l), gin.Recovery())

	routes.RegisterRoutes(r, routes.Deps{
		Inference: handlers.NewInferenceHandler(svc),
		Stream:    handlers.NewStreamHandler(svc),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
