package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dolphdive/internal/adapters/kafka"
	"dolphdive/internal/api/routes"
	"dolphdive/internal/config"
	"dolphdive/internal/database"
	mongorepo "dolphdive/internal/repositories/mongo"
	pgrepo "dolphdive/internal/repositories/postgres"
	"dolphdive/internal/services"
	"dolphdive/internal/websocket"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting DolphDive messaging server")

	redisClient, err := database.NewRedisConnection(&cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	db, err := database.NewPostgresConnection(&cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := database.NewMongoConnection(&cfg.Mongo)
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}

	storage, err := database.NewMinIOClient(&cfg.MinIO)
	if err != nil {
		slog.Error("Failed to connect to MinIO", "error", err)
		os.Exit(1)
	}

	// Kafka is optional; the publisher degrades to a no-op without it.
	var publisher *kafka.EventPublisher
	if producer, err := kafka.InitKafkaProducer(cfg.Kafka.Brokers); err != nil {
		slog.Warn("Kafka unavailable, message events disabled", "error", err)
		publisher = kafka.NewEventPublisher(nil, cfg.Kafka.Topic)
	} else {
		publisher = kafka.NewEventPublisher(producer, cfg.Kafka.Topic)
	}
	defer publisher.Close()

	redisService := services.NewRedisService(redisClient)
	userRepo := pgrepo.NewUserRepository(db)
	messageRepo := mongorepo.NewMessageRepository(mongoDB)

	registry := websocket.NewRegistry()
	tracker := websocket.NewDeliveryTracker()
	presence := websocket.NewPresence(registry, redisService, cfg.WebSocket.OfflineGrace)
	dispatcher := websocket.NewDispatcher(registry, tracker, presence, messageRepo, websocket.Options{
		RetryDelay: cfg.WebSocket.RetryDelay,
	})

	heartbeat := websocket.NewHeartbeatMonitor(registry, presence,
		cfg.WebSocket.HeartbeatInterval, cfg.WebSocket.InactivityThreshold)
	go heartbeat.Run()

	userService := services.NewUserService(userRepo, cfg.JWT.Secret, cfg.JWT.ExpirationTime)
	messageService := services.NewMessageService(messageRepo, dispatcher, publisher)

	router := routes.NewRouter(dispatcher, userService, messageService, redisService, storage, cfg.JWT.Secret)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	heartbeat.Stop()
	dispatcher.Stop()
	presence.Stop()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := mongoDB.Close(ctx); err != nil {
		slog.Error("Failed to close MongoDB connection", "error", err)
	}

	slog.Info("Server stopped")
}
