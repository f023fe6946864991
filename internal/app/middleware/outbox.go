package middleware

import (
	"context"
	"log/slog"

	"lettz/internal/app/commands"
	"lettz/internal/app/outbox"
)

// OutboxFlush flushes recorded events once a command has succeeded. The
// command's writes are already committed at that point, so a flush failure is
// logged and the result still returned; the relay picks the records up later.
func OutboxFlush(box outbox.Outbox, logger *slog.Logger) CommandMiddleware {
	if box == nil {
		panic("middleware: outbox required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next commands.Bus) commands.Bus {
		return CommandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			res, err := next.Dispatch(ctx, cmd)
			if err != nil {
				return nil, err
			}
			if err := box.Flush(ctx); err != nil {
				logger.WarnContext(ctx, "outbox flush failed", "command", cmd.Key(), "error", err)
			}
			return res, nil
		})
	}
}
