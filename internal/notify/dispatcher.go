// Package notify records in-app notifications inside the caller's transaction
// and delivers optional emails once that transaction has committed.
package notify

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

// Notification is an in-app message for a user. Rows are never edited; they
// are only removed by a per-user bulk clear.
type Notification struct {
	ID      uuid.UUID `json:"id"`
	UserID  uuid.UUID `json:"user_id"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// Recorder persists notifications. Scheduling transactions implement it so a
// notification is only visible if the transition it describes commits.
type Recorder interface {
	InsertNotification(ctx context.Context, n Notification) error
}

// Notice is one notification request.
type Notice struct {
	UserID  uuid.UUID
	Message string
	Email   *EmailMessage
}

// Batch collects emails produced during one unit of work.
type Batch struct {
	emails []EmailMessage
}

func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.emails)
}

// Dispatcher is the Notification Dispatcher.
type Dispatcher struct {
	sender    EmailSender
	logger    *logging.Logger
	now       func() time.Time
	onFailure func(error)
}

func NewDispatcher(sender EmailSender, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{sender: sender, logger: logger, now: time.Now}
}

// OnEmailFailure registers fn to run for every email that could not be sent.
func (d *Dispatcher) OnEmailFailure(fn func(error)) {
	d.onFailure = fn
}

// Notify writes the notification row through rec and queues its email on batch.
func (d *Dispatcher) Notify(ctx context.Context, rec Recorder, batch *Batch, n Notice) error {
	if n.UserID == uuid.Nil {
		return fmt.Errorf("notify: user id required")
	}
	row := Notification{
		ID:      uuid.New(),
		UserID:  n.UserID,
		Message: n.Message,
		SentAt:  d.now().UTC(),
	}
	if err := rec.InsertNotification(ctx, row); err != nil {
		return fmt.Errorf("notify: insert notification: %w", err)
	}
	if n.Email != nil && n.Email.To != "" && batch != nil {
		batch.emails = append(batch.emails, *n.Email)
	}
	return nil
}

// Flush sends the batch's emails. Failures are logged and dropped.
func (d *Dispatcher) Flush(ctx context.Context, batch *Batch) {
	if batch == nil || d.sender == nil {
		return
	}
	for _, msg := range batch.emails {
		if err := d.sender.Send(ctx, msg); err != nil {
			d.logger.Warn("notification email not delivered", "to", msg.To, "subject", msg.Subject, "error", err)
			if d.onFailure != nil {
				d.onFailure(err)
			}
		}
	}
	batch.emails = nil
}

// Email builds a simple message whose HTML body mirrors the text.
func Email(to, toName, subject, body string) *EmailMessage {
	if to == "" {
		return nil
	}
	return &EmailMessage{
		To:      to,
		ToName:  toName,
		Subject: subject,
		Body:    body,
		HTML:    "<p>" + html.EscapeString(body) + "</p>",
	}
}
