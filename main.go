package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/fadelink/fadelink/handlers"
	"github.com/fadelink/fadelink/initializers"
	"github.com/fadelink/fadelink/jobs"
	"github.com/fadelink/fadelink/links"
	"github.com/fadelink/fadelink/routes"
	"github.com/fadelink/fadelink/store"
)

const defaultPort = "8080"

func main() {
	logger := log.Default()
	logger.SetTimeFormat("2006-01-02 15:04:05")

	initializers.LoadEnv(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s3Client, bucket, err := initializers.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("aws setup failed", "err", err)
	}
	rdb, err := initializers.NewRedisClient(ctx)
	if err != nil {
		logger.Fatal("redis setup failed", "err", err)
	}
	defer rdb.Close()
	conn, ch, err := initializers.NewRabbitChannel()
	if err != nil {
		logger.Fatal("rabbitmq setup failed", "err", err)
	}
	defer conn.Close()

	objects := store.NewS3Store(s3Client, bucket)
	meta := store.NewRedisStore(rdb)
	queue, err := store.NewRabbitQueue(ch)
	if err != nil {
		logger.Fatal("queue setup failed", "err", err)
	}

	tokens, err := links.NewTokenGenerator()
	if err != nil {
		logger.Fatal("token generator setup failed", "err", err)
	}
	svc := links.NewService(objects, meta, queue, tokens, logger.With("component", "links"))

	worker := jobs.NewWorker(svc, queue, logger.With("component", "cleanup_worker"))
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("cleanup worker stopped", "err", err)
		}
	}()

	sweeper := jobs.NewSweeper(objects, queue, logger.With("component", "sweeper"))
	c := cron.New()
	if err := sweeper.Register(c); err != nil {
		logger.Fatal("sweep registration failed", "err", err)
	}
	c.Start()
	defer c.Stop()

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + port
	}
	frontend := os.Getenv("FRONTEND_ORIGIN")
	if frontend == "" {
		frontend = "http://localhost:3000"
	}

	h := handlers.NewHandler(svc, baseURL)
	health := handlers.NewHealthHandler(rdb, conn)

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{frontend},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	routes.RegisterRoutes(router, h, health)

	logger.Info("listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		logger.Fatal("server stopped", "err", err)
	}
}
