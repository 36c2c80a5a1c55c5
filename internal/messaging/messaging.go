package messaging

import (
	"context"
	"time"
)

const (
	AlertQueue      = "alert_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// AlertTaskPayload carries everything the mail worker needs to route and
// compose a flatworm alert. It is published only after the prediction record
// has been persisted.
type AlertTaskPayload struct {
	Username   string
	Confidence float32
	Timestamp  string
}

type Publisher interface {
	PublishAlertTask(ctx context.Context, payload AlertTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task
}
