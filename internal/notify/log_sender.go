package notify

import (
	"context"

	"github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
)

// LogSender logs pushes instead of delivering them. It is used when push
// delivery is disabled.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, push *Push) error {
	l := log.Ctx(ctx)
	l.Info().
		Str("kind", push.Data["kind"]).
		Str("title", push.Title).
		Bool("high_priority", push.HighPriority).
		Msg("push delivery disabled, notification logged")
	return nil
}

var _ Sender = LogSender{}
