package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"worm-backend/cmd"
	"worm-backend/internal/database"
	"worm-backend/internal/messaging"
	"worm-backend/internal/notify"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	DatabaseURL string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL string `env:"RABBITMQ_URL,notEmpty,required"`

	SMTPHost     string        `env:"SMTP_HOST,notEmpty,required"`
	SMTPPort     int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string        `env:"SMTP_USERNAME"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	FromEmail    string        `env:"DEFAULT_FROM_EMAIL,notEmpty,required"`
	MailTimeout  time.Duration `env:"MAIL_TIMEOUT" envDefault:"15s"`
}

func main() {
	log.Println("Starting alert worker...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer receiver.Close()

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

	notify.RunAlertConsumer(ctx, receiver, mailer)

	log.Println("Worker stopped.")
}
