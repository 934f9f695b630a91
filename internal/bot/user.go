package bot

import (
	"context"
	"errors"
	"strings"

	"restorebot/internal/dispatch"
	"restorebot/internal/messages"
	"restorebot/internal/restore"
	kit "restorebot/internal/transport"
	"restorebot/internal/transport/telegram/router"
	logx "restorebot/pkg/logx"
	"restorebot/pkg/tgui"
)

// Callback prefixes.
const (
	cbInput   = "menu_input"
	cbJoined  = "check_joined"
	cbUpgrade = "upg"
)

// labelRunes bounds the display name carried in upgrade callback data.
const labelRunes = 30

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	if b.turnAwayPrivate(ctx, req) {
		return nil
	}
	name := req.Message.FromFirstName
	if name == "" {
		name = req.Message.FromUsername
	}
	_, err := b.replyWith(ctx, req, messages.Welcome(name, b.ctl.Quota().Limit()), b.mainMenu())
	return err
}

func (b *Bot) cmdHelp(ctx context.Context, req *router.Request) error {
	_, err := b.reply(ctx, req, messages.Help(b.IsAdmin(req.FromID)))
	return err
}

// turnAwayPrivate answers private chats from ordinary users in group-only
// mode and reports whether it did.
func (b *Bot) turnAwayPrivate(ctx context.Context, req *router.Request) bool {
	if !b.cfg.GroupOnly || req.Message == nil || !req.Message.Private {
		return false
	}
	if b.privileged(ctx, req.FromID) {
		return false
	}
	if _, err := b.reply(ctx, req, messages.GroupOnly(b.cfg.GroupLink)); err != nil {
		req.Logger.Debug("group-only notice failed", logx.Err(err))
	}
	return true
}

func (b *Bot) cbJoined(ctx context.Context, req *router.Request) error {
	if missing := b.gate.Missing(ctx, req.FromID); len(missing) > 0 {
		b.answer(ctx, req, messages.CallbackNotJoined, true)
		return nil
	}
	b.answer(ctx, req, messages.CallbackJoinedOK, false)
	return b.msg.Edit(ctx, callbackRef(req), messages.MsgMenu, b.mainMenu())
}

func (b *Bot) cbInput(ctx context.Context, req *router.Request) error {
	privileged := b.privileged(ctx, req.FromID)
	if !privileged && !b.ctl.Enabled() {
		b.answer(ctx, req, messages.MsgMaintenance, true)
		return nil
	}
	if !privileged {
		if missing := b.gate.Missing(ctx, req.FromID); len(missing) > 0 {
			b.answer(ctx, req, "", false)
			return b.msg.Edit(ctx, callbackRef(req), messages.JoinRequired(channelRefs(missing)), b.joinKeyboard(missing))
		}
	}
	b.answer(ctx, req, "", false)
	_, err := b.replyWith(ctx, req, messages.Prompt(), &kit.SendOptions{ForceReply: true, Placeholder: messages.PromptPlaceholder})
	return err
}

// onText handles plain messages: a pending /addtoken dump from the owner,
// otherwise a username sent as a reply to one of the bot's messages.
func (b *Bot) onText(ctx context.Context, req *router.Request) error {
	m := req.Message
	if m == nil {
		return nil
	}
	if b.IsAdmin(req.FromID) {
		if name, ok := b.takePending(req.FromID); ok {
			return b.addToken(ctx, req, name, m.Text)
		}
	}
	if !m.ReplyToBot || strings.TrimSpace(m.Text) == "" {
		return nil
	}
	if b.turnAwayPrivate(ctx, req) {
		return nil
	}
	privileged := b.privileged(ctx, req.FromID)
	if !privileged && !b.ctl.Enabled() {
		_, err := b.reply(ctx, req, messages.MsgMaintenance)
		return err
	}
	return b.lookup(ctx, req, privileged, m.Text)
}

// lookup resolves the account and shows its card with the upgrade button.
func (b *Bot) lookup(ctx context.Context, req *router.Request, privileged bool, input string) error {
	status, err := b.reply(ctx, req, messages.MsgResolving)
	if err != nil {
		return err
	}
	edit := func(text string, opt *kit.SendOptions) error {
		return b.msg.Edit(ctx, status, text, opt)
	}

	acc, err := b.res.Resolve(ctx, input)
	switch {
	case errors.Is(err, restore.ErrUserNotFound):
		return edit(messages.NotFound(restore.NormalizeUsername(input)), nil)
	case err != nil:
		req.Logger.Warn("resolve failed", logx.Err(err))
		return edit(messages.Failure("Lookup failed", err), nil)
	}

	if !privileged {
		ok, err := b.ctl.Quota().CanRequest(ctx, req.FromID)
		if err != nil {
			return edit(messages.Failure("Quota check failed", err), nil)
		}
		if !ok {
			return edit(messages.LimitReached(b.ctl.Quota().Limit()), nil)
		}
	}

	if err := edit(messages.MsgCheckingStatus, nil); err != nil {
		req.Logger.Debug("status edit failed", logx.Err(err))
	}
	ent, err := b.res.Status(ctx, acc.UID)
	if err != nil {
		req.Logger.Debug("status lookup failed", logx.String("uid", acc.UID), logx.Err(err))
	}

	data, err := tgui.Data(cbUpgrade, acc.UID, tgui.TruncRunes(acc.Username, labelRunes))
	if err != nil {
		return edit(messages.Failure("Account id too long", err), nil)
	}
	kb := tgui.NewKeyboard().Row(tgui.Btn(messages.BtnUpgrade, data)).Options()
	return edit(messages.AccountCard(acc.UID, acc.Username, ent.Active, ent.Expires), kb)
}

// cbUpgrade submits the confirmed account. The status message is the one
// carrying the button; the engine rewrites it from here on.
func (b *Bot) cbUpgrade(ctx context.Context, req *router.Request) error {
	_, fields := tgui.Split(cbUpgrade + "|" + req.Payload)
	if len(fields) == 0 || fields[0] == "" {
		b.answer(ctx, req, messages.CallbackExpired, true)
		return nil
	}
	uid := fields[0]
	label := uid
	if len(fields) > 1 && fields[1] != "" {
		label = fields[1]
	}

	_, _, err := b.ctl.Submit(ctx, dispatch.Request{
		UserID: req.FromID,
		Target: uid,
		Label:  label,
		Locale: req.Callback.FromLocale,
		Reply:  callbackRef(req),
	})
	if err == nil {
		b.answer(ctx, req, messages.CallbackQueued, false)
		return nil
	}

	reason, denied := dispatch.DenyReasonOf(err)
	switch {
	case errors.Is(err, dispatch.ErrStopped):
		b.answer(ctx, req, messages.MsgStopping, true)
	case denied && reason == dispatch.DenyMaintenance:
		b.answer(ctx, req, messages.MsgMaintenance, true)
	case denied && reason == dispatch.DenyQuota:
		b.answer(ctx, req, messages.LimitReachedShort(b.ctl.Quota().Limit()), true)
	case denied && reason == dispatch.DenyMembership:
		b.answer(ctx, req, "", false)
		missing := b.gate.Missing(ctx, req.FromID)
		return b.msg.Edit(ctx, callbackRef(req), messages.JoinRequired(channelRefs(missing)), b.joinKeyboard(missing))
	default:
		b.answer(ctx, req, "", false)
		return err
	}
	return nil
}
