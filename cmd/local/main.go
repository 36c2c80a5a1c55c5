package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"worm-backend/cmd"
	"worm-backend/internal/api"
	"worm-backend/internal/core"
	"worm-backend/internal/database"
	"worm-backend/internal/messaging"
	"worm-backend/internal/notify"
	"worm-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

// All-in-one deployment: sqlite database, in-memory alert queue, and the mail
// consumer running in-process. Mirrors the original single-binary behavior.
type Config struct {
	Root             string `env:"ROOT" envDefault:"./worm-detector"`
	Port             string `env:"PORT" envDefault:"8000"`
	ModelPath        string `env:"MODEL_PATH" envDefault:"models/worm_classifier.onnx"`
	OnnxRuntimeDylib string `env:"ONNX_RUNTIME_DYLIB"`

	SMTPHost     string        `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort     int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string        `env:"SMTP_USERNAME"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	FromEmail    string        `env:"DEFAULT_FROM_EMAIL" envDefault:"alerts@worm-detector.local"`
	MailTimeout  time.Duration `env:"MAIL_TIMEOUT" envDefault:"15s"`
}

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "worm-detector.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := database.NewDatabase(path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	return db
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db := createDatabase(cfg.Root)

	classifier, err := core.LoadOnnxClassifier(cfg.ModelPath, cfg.OnnxRuntimeDylib)
	if err != nil {
		log.Fatalf("Failed to load classifier: %v", err)
	}
	defer classifier.Close()

	uploads, err := storage.NewUploadStore(filepath.Join(cfg.Root, "uploads"))
	if err != nil {
		log.Fatalf("Failed to create upload store: %v", err)
	}

	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	mailer, err := notify.NewMailer(db, notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.FromEmail,
		Timeout:  cfg.MailTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to create mailer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go notify.RunAlertConsumer(ctx, queue, mailer)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, classifier, uploads, queue)
	r.Route("/api", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("Server listening on port %s", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.Port, err)
	}

	log.Println("Server stopped.")
}
