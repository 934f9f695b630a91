package adapter

import (
	"context"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "restorebot/internal/transport"
)

// chatRecipient addresses a chat by "@username" or numeric id.
type chatRecipient string

func (r chatRecipient) Recipient() string { return string(r) }

func sendOptions(opt *kit.SendOptions, threadID int) *tele.SendOptions {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              threadID,
	}
	so.ReplyMarkup = markup(opt)
	return so
}

func markup(opt *kit.SendOptions) *tele.ReplyMarkup {
	if opt == nil || (len(opt.Keyboard) == 0 && !opt.ForceReply) {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	if opt.ForceReply {
		rm.ForceReply = true
		rm.Selective = true
		rm.Placeholder = opt.Placeholder
		return rm
	}
	for _, row := range opt.Keyboard {
		btns := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, tele.InlineButton{Text: b.Text, Data: b.Data, URL: b.URL})
		}
		rm.InlineKeyboard = append(rm.InlineKeyboard, btns)
	}
	return rm
}

func alive(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

// SendText sends text, split into several messages when it exceeds the
// platform limit. The keyboard goes on the first part; the returned ref is
// the first part's.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range splitText(text, textLimit, parseMode) {
		if err := alive(ctx); err != nil {
			return first, err
		}
		so := sendOptions(opt, to.ThreadID)
		if i > 0 {
			so.ReplyMarkup = nil
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, mapError(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendPhoto sends a photo by file id or URL with an optional caption.
func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, photo, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := alive(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	file := tele.File{FileID: photo}
	if strings.HasPrefix(photo, "http://") || strings.HasPrefix(photo, "https://") {
		file = tele.FromURL(photo)
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, &tele.Photo{File: file, Caption: caption}, sendOptions(opt, to.ThreadID))
	if err != nil {
		return kit.MessageRef{}, mapError(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// EditText replaces a message's text. Overflow beyond the limit is sent as
// follow-up messages.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := alive(ctx); err != nil {
		return err
	}
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitText(text, textLimit, parseMode)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(m, chunks[0], sendOptions(opt, 0)); err != nil {
		return mapError(err)
	}
	if len(chunks) > 1 {
		rest := strings.Join(chunks[1:], "\n")
		plain := &kit.SendOptions{ParseMode: parseMode}
		if opt != nil {
			plain.DisablePreview = opt.DisablePreview
		}
		if _, err := a.SendText(ctx, ref.Chat(), rest, plain); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	if err := alive(ctx); err != nil {
		return err
	}
	return mapError(a.bot.Delete(&tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}))
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := alive(ctx); err != nil {
		return err
	}
	return mapError(a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text, ShowAlert: alert}))
}

func (a *Adapter) MemberStatus(ctx context.Context, chat string, userID int64) (string, error) {
	if err := alive(ctx); err != nil {
		return "", err
	}
	chat = strings.TrimSpace(chat)
	if _, err := strconv.ParseInt(chat, 10, 64); err != nil && !strings.HasPrefix(chat, "@") {
		chat = "@" + chat
	}
	m, err := a.bot.ChatMemberOf(chatRecipient(chat), &tele.User{ID: userID})
	if err != nil {
		return "", mapError(err)
	}
	return string(m.Role), nil
}
