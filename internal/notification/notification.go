package notification

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

const (
	// KindRegistrationComplete tells the user to sign in with the new account.
	KindRegistrationComplete = "registration_complete"
	// KindMFARequired asks the user for an authenticator code.
	KindMFARequired = "mfa_required"
	// KindSignedIn confirms a new session.
	KindSignedIn = "signed_in"
)

// Message describes a user-facing notice.
type Message struct {
	Kind string
	Body string
}

// Notifier shows notices to the user.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notices to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "body", message.Body)
	return nil
}

// WriterNotifier prints notices as plain lines, for the terminal front-end.
type WriterNotifier struct {
	w io.Writer
}

// NewWriterNotifier constructs a notifier printing to w.
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

// Send prints the message body.
func (n *WriterNotifier) Send(_ context.Context, message Message) error {
	_, err := fmt.Fprintln(n.w, message.Body)
	return err
}
