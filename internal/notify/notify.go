package notify

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Message is one notification. To is the recipient address for channels that
// deliver to a person; operator channels ignore it.
type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Multi delivers to every member and combines their errors. A failing member
// does not stop delivery to the rest.
type Multi []Sender

func (m Multi) Send(ctx context.Context, msg Message) error {
	var err error
	for _, s := range m {
		if s == nil {
			continue
		}
		err = multierr.Append(err, s.Send(ctx, msg))
	}
	return err
}

// LogSender writes messages to the log instead of delivering them. Used when
// no mail relay is configured.
type LogSender struct {
	Log *zap.Logger
}

func (l LogSender) Send(_ context.Context, m Message) error {
	l.Log.Info("notification",
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.String("body", m.Body),
	)
	return nil
}
