package pipeline

import (
	"context"
	"errors"

	"github.com/shiranui/newsdigest/internal/apperr"
	"github.com/shiranui/newsdigest/internal/logger"
	"github.com/shiranui/newsdigest/internal/queue"
)

// Consume drains the queue, running one pipeline per message, until the
// queue closes or the context is done. Malformed messages and failed runs
// are logged and skipped; delivery is at-least-once, so a failed item is
// simply re-discovered on the next dispatch round.
func Consume(ctx context.Context, consumer queue.Consumer, worker *Worker) error {
	for {
		body, err := consumer.Receive(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}

		pc, err := ParseRequest(body)
		if err != nil {
			logger.Warn("skipping malformed queue message", "error", err)
			continue
		}

		if _, err := worker.Process(ctx, pc); err != nil {
			if errors.Is(err, apperr.ErrDuplicateItem) {
				logger.Info("skipping duplicate item", "source", pc.Source.ID, "item", pc.Item.ID)
				continue
			}
			logger.Error("pipeline run failed", "source", pc.Source.ID, "item", pc.Item.ID, "error", err)
		}
	}
}
