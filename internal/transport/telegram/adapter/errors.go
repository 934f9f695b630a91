package adapter

import (
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "restorebot/internal/transport"
)

var (
	notModifiedErrs = []error{tele.ErrSameMessageContent}
	notFoundErrs    = []error{tele.ErrNotFoundToDelete, tele.ErrNoRightsToDelete, tele.ErrCantEditMessage}
	blockedErrs     = []error{tele.ErrBlockedByUser, tele.ErrUserIsDeactivated, tele.ErrChatNotFound, tele.ErrNotStartedByUser}
)

// mapError wraps Bot API errors the callers act on into transport
// sentinels. telebot's typed errors are matched first; descriptions it
// has no variable for fall back to a text match.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isAny(err, notModifiedErrs):
		return fmt.Errorf("%w: %w", kit.ErrNotModified, err)
	case isAny(err, notFoundErrs):
		return fmt.Errorf("%w: %w", kit.ErrMessageNotFound, err)
	case isAny(err, blockedErrs):
		return fmt.Errorf("%w: %w", kit.ErrBlocked, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "message is not modified"):
		return fmt.Errorf("%w: %w", kit.ErrNotModified, err)
	case strings.Contains(msg, "message to edit not found"),
		strings.Contains(msg, "message to delete not found"),
		strings.Contains(msg, "message can't be deleted"),
		strings.Contains(msg, "message can't be edited"):
		return fmt.Errorf("%w: %w", kit.ErrMessageNotFound, err)
	case strings.Contains(msg, "bot was blocked by the user"),
		strings.Contains(msg, "user is deactivated"),
		strings.Contains(msg, "chat not found"),
		strings.Contains(msg, "bot can't initiate conversation"):
		return fmt.Errorf("%w: %w", kit.ErrBlocked, err)
	}
	return err
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
