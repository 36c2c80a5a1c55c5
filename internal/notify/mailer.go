package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"worm-backend/internal/database"

	"github.com/wneessen/go-mail"
	"gorm.io/gorm"
)

const alertSubject = "⚠️ Flatworm Detected!"

const alertBodyTemplate = `Hello %s,

Our system detected a *flatworm* in your submitted image.

Confidence: %.2f
Time: %s

Please review this immediately.

Regards,
Worm Detection System 🪱`

type OutcomeStatus int

const (
	StatusSent OutcomeStatus = iota
	StatusSkipped
	StatusFailed
)

// Outcome reports what happened to an alert without using errors for control
// flow: a skipped alert is an expected no-op, not a failure.
type Outcome struct {
	Status OutcomeStatus
	Reason string
	Err    error
}

func Sent() Outcome {
	return Outcome{Status: StatusSent}
}

func Skipped(reason string) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason}
}

func Failed(err error) Outcome {
	return Outcome{Status: StatusFailed, Err: err}
}

// Transport dispatches a composed message. Abstracted from the SMTP client so
// tests can observe or fail dispatches.
type Transport interface {
	Send(ctx context.Context, msg *mail.Msg) error
}

type smtpTransport struct {
	client *mail.Client
}

func (t *smtpTransport) Send(ctx context.Context, msg *mail.Msg) error {
	return t.client.DialAndSendWithContext(ctx, msg)
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Mailer routes flatworm alerts: it resolves the submitting username to an
// account email and dispatches a fixed-template message over SMTP.
type Mailer struct {
	db        *gorm.DB
	transport Transport
	from      string
	timeout   time.Duration
}

func NewMailer(db *gorm.DB, cfg SMTPConfig) (*Mailer, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return &Mailer{
		db:        db,
		transport: &smtpTransport{client: client},
		from:      cfg.From,
		timeout:   cfg.Timeout,
	}, nil
}

// NewMailerWithTransport is used by tests and by callers that already have a
// dispatch mechanism.
func NewMailerWithTransport(db *gorm.DB, transport Transport, from string, timeout time.Duration) *Mailer {
	return &Mailer{db: db, transport: transport, from: from, timeout: timeout}
}

// Notify sends a flatworm alert to the account matching username, if one
// exists and has an email address. It never returns an error: every failure
// mode is captured in the Outcome for the caller to log.
func (m *Mailer) Notify(ctx context.Context, username string, confidence float32, timestamp string) Outcome {
	if username == "" {
		return Skipped("prediction has no username")
	}

	user, err := database.GetUserByUsername(ctx, m.db, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Skipped(fmt.Sprintf("no account with username %q", username))
		}
		return Failed(fmt.Errorf("error looking up account: %w", err))
	}

	if user.Email == "" {
		return Skipped(fmt.Sprintf("account %q has no email", username))
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return Failed(fmt.Errorf("invalid sender address %q: %w", m.from, err))
	}
	if err := msg.To(user.Email); err != nil {
		return Failed(fmt.Errorf("invalid recipient address %q: %w", user.Email, err))
	}
	msg.Subject(alertSubject)
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(alertBodyTemplate, username, confidence, timestamp))

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	if err := m.transport.Send(ctx, msg); err != nil {
		return Failed(fmt.Errorf("error sending alert email: %w", err))
	}

	return Sent()
}
