package narration

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Sink receives narrated messages in arrival order. Implementations must
// return quickly; speech synthesis belongs on the far side of the sink.
type Sink interface {
	Narrate(ctx context.Context, m Message) error
}

type SinkFunc func(ctx context.Context, m Message) error

func (f SinkFunc) Narrate(ctx context.Context, m Message) error { return f(ctx, m) }

// LogSink writes every narrated message to the log. It is the default when
// no relay client is attached.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Narrate(_ context.Context, m Message) error {
	s.Logger.Info("narration",
		zap.String("channel", string(m.Channel)),
		zap.String("sender", m.SenderID),
		zap.String("text", m.Text))
	return nil
}

// MultiSink calls every sink in order and joins their errors.
type MultiSink []Sink

func (ms MultiSink) Narrate(ctx context.Context, m Message) error {
	var errs []error
	for _, s := range ms {
		if err := s.Narrate(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
