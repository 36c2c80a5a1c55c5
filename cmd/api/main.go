package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"worm-backend/cmd"
	"worm-backend/internal/api"
	"worm-backend/internal/core"
	"worm-backend/internal/database"
	"worm-backend/internal/messaging"
	"worm-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type APIConfig struct {
	DatabaseURL      string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL      string `env:"RABBITMQ_URL,notEmpty,required"`
	ModelPath        string `env:"MODEL_PATH" envDefault:"models/worm_classifier.onnx"`
	OnnxRuntimeDylib string `env:"ONNX_RUNTIME_DYLIB"`
	UploadDir        string `env:"UPLOAD_DIR"`
	APIPort          string `env:"API_PORT" envDefault:"8000"`
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// The classifier must be ready before the first request; a missing model
	// is a startup failure, not a per-request error.
	classifier, err := core.LoadOnnxClassifier(cfg.ModelPath, cfg.OnnxRuntimeDylib)
	if err != nil {
		log.Fatalf("Failed to load classifier: %v", err)
	}
	defer classifier.Close()

	uploads, err := storage.NewUploadStore(cfg.UploadDir)
	if err != nil {
		log.Fatalf("Failed to create upload store: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, classifier, uploads, publisher)

	r.Route("/api", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
