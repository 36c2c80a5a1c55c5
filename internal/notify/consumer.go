package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"worm-backend/internal/messaging"
)

// RunAlertConsumer drains alert tasks from the receiver until the context is
// canceled. Every task is acked regardless of outcome: an alert is best
// effort, and redelivering one that failed to send would not make the original
// prediction any more or less valid.
func RunAlertConsumer(ctx context.Context, receiver messaging.Receiver, mailer *Mailer) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("alert consumer stopping")
			return
		case task, ok := <-receiver.Tasks():
			if !ok {
				slog.Info("alert task channel closed, consumer stopping")
				return
			}
			handleAlertTask(ctx, task, mailer)
		}
	}
}

func handleAlertTask(ctx context.Context, task messaging.Task, mailer *Mailer) {
	defer func() {
		if err := task.Ack(); err != nil {
			slog.Error("error acking alert task", "error", err)
		}
	}()

	var payload messaging.AlertTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		slog.Error("error unmarshalling alert task payload", "error", err)
		return
	}

	outcome := mailer.Notify(ctx, payload.Username, payload.Confidence, payload.Timestamp)
	switch outcome.Status {
	case StatusSent:
		slog.Info("flatworm alert sent", "username", payload.Username)
	case StatusSkipped:
		slog.Info("flatworm alert skipped", "username", payload.Username, "reason", outcome.Reason)
	case StatusFailed:
		slog.Error("flatworm alert failed", "username", payload.Username, "error", outcome.Err)
	}
}
