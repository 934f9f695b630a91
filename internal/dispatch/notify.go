package dispatch

import (
	"context"
	"fmt"

	"restorebot/internal/transport"
	logx "restorebot/pkg/logx"
)

// The helpers below bound every notifier call by NotifyTimeout and drop
// its error after logging; a failed notification never changes a job's
// outcome.

func (c *Controller) notifyCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.runCtx, c.cfg.NotifyTimeout)
}

func (c *Controller) edit(ref transport.MessageRef, text string) {
	if ref.MessageID == 0 {
		return
	}
	ctx, cancel := c.notifyCtx()
	defer cancel()
	if err := c.notifier.EditStatus(ctx, ref, text); err != nil {
		c.notifyFailed("edit", err, ref.ChatID)
	}
}

func (c *Controller) send(to transport.ChatTarget, text string) transport.MessageRef {
	ctx, cancel := c.notifyCtx()
	defer cancel()
	ref, err := c.notifier.SendStatus(ctx, to, text)
	if err != nil {
		c.notifyFailed("send", err, to.ChatID)
	}
	return ref
}

func (c *Controller) sendFinal(to transport.ChatTarget, text, photo string) {
	ctx, cancel := c.notifyCtx()
	defer cancel()
	if err := c.notifier.SendFinal(ctx, to, text, photo); err != nil {
		c.notifyFailed("final", err, to.ChatID)
	}
}

func (c *Controller) remove(ref transport.MessageRef) {
	if ref.MessageID == 0 {
		return
	}
	ctx, cancel := c.notifyCtx()
	defer cancel()
	if err := c.notifier.Delete(ctx, ref); err != nil {
		c.notifyFailed("delete", err, ref.ChatID)
	}
}

func (c *Controller) notifyFailed(op string, err error, chatID int64) {
	c.log.Warn("notification dropped",
		logx.String("op", op),
		logx.Int64("chat_id", chatID),
		logx.Err(fmt.Errorf("%w: %w", ErrNotification, err)),
	)
}
