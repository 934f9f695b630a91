package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"restorebot/internal/credential"
	"restorebot/internal/dispatch"
	"restorebot/internal/messages"
	"restorebot/internal/notifier/broadcast"
	"restorebot/internal/storage"
	kit "restorebot/internal/transport"
	"restorebot/internal/transport/telegram/router"
	logx "restorebot/pkg/logx"
)

func (b *Bot) cmdStats(ctx context.Context, req *router.Request) error {
	st, err := b.store.AggregateStats(ctx)
	if err != nil {
		_, _ = b.reply(ctx, req, messages.Failure("Stats unavailable", err))
		return err
	}
	_, err = b.reply(ctx, req, messages.Stats(st, b.ctl.Snapshot()))
	return err
}

func (b *Bot) cmdOn(ctx context.Context, req *router.Request) error  { return b.setEnabled(ctx, req, true) }
func (b *Bot) cmdOff(ctx context.Context, req *router.Request) error { return b.setEnabled(ctx, req, false) }

func (b *Bot) setEnabled(ctx context.Context, req *router.Request, on bool) error {
	if err := b.ctl.SetEnabled(ctx, on); err != nil {
		_, _ = b.reply(ctx, req, messages.Failure("Could not save", err))
		return err
	}
	text := messages.MsgBotOff
	if on {
		text = messages.MsgBotOn
	}
	_, err := b.reply(ctx, req, text)
	return err
}

func (b *Bot) cmdSetLimit(ctx context.Context, req *router.Request) error {
	n, ok := intArg(req)
	if !ok || n < 1 {
		_, err := b.reply(ctx, req, messages.Usage("/setlimit N"))
		return err
	}
	if err := b.ctl.SetDailyLimit(ctx, int(n)); err != nil {
		_, _ = b.reply(ctx, req, messages.Failure("Could not save", err))
		return err
	}
	_, err := b.reply(ctx, req, messages.LimitSet(int(n)))
	return err
}

func (b *Bot) cmdReset(ctx context.Context, req *router.Request) error {
	uid, ok := intArg(req)
	if !ok {
		_, err := b.reply(ctx, req, messages.Usage("/rs USER_ID"))
		return err
	}
	if err := b.ctl.Quota().Reset(ctx, uid); err != nil {
		_, _ = b.reply(ctx, req, messages.Failure("Reset failed", err))
		return err
	}
	_, err := b.reply(ctx, req, messages.UsageReset(uid))
	return err
}

// cmdSetDonate stores the photo the command came with as the final photo.
func (b *Bot) cmdSetDonate(ctx context.Context, req *router.Request) error {
	photo := req.Message.PhotoID
	if photo == "" {
		_, err := b.reply(ctx, req, messages.MsgDonateUsage)
		return err
	}
	if err := b.store.SetConfig(ctx, storage.KeyDonatePhoto, photo); err != nil {
		_, _ = b.reply(ctx, req, messages.Failure("Could not save", err))
		return err
	}
	_, err := b.reply(ctx, req, messages.MsgDonateSet)
	return err
}

func (b *Bot) cmdAddVIP(ctx context.Context, req *router.Request) error {
	uid, ok := intArg(req)
	if !ok {
		_, err := b.reply(ctx, req, messages.Usage("/addvip USER_ID"))
		return err
	}
	if err := b.store.AddPrivileged(ctx, uid); err != nil {
		_, _ = b.reply(ctx, req, messages.Failure("Could not save", err))
		return err
	}
	_, err := b.reply(ctx, req, messages.VIPAdded(uid))
	return err
}

func (b *Bot) cmdDelVIP(ctx context.Context, req *router.Request) error {
	uid, ok := intArg(req)
	if !ok {
		_, err := b.reply(ctx, req, messages.Usage("/delvip USER_ID"))
		return err
	}
	removed, err := b.store.RemovePrivileged(ctx, uid)
	if err != nil {
		_, _ = b.reply(ctx, req, messages.Failure("Could not save", err))
		return err
	}
	text := messages.VIPRemoved(uid)
	if !removed {
		text = messages.VIPNotFound(uid)
	}
	_, err = b.reply(ctx, req, text)
	return err
}

func (b *Bot) cmdVIPs(ctx context.Context, req *router.Request) error {
	users, err := b.store.ListPrivileged(ctx)
	if err != nil {
		_, _ = b.reply(ctx, req, messages.Failure("VIP list unavailable", err))
		return err
	}
	_, err = b.reply(ctx, req, messages.VIPs(users))
	return err
}

// cmdNoti queues an announcement to every known user and keeps a
// progress message up to date.
func (b *Bot) cmdNoti(ctx context.Context, req *router.Request) error {
	text := strings.TrimSpace(req.Rest)
	if text == "" {
		_, err := b.reply(ctx, req, messages.Usage("/noti TEXT"))
		return err
	}
	if b.bc == nil {
		_, err := b.reply(ctx, req, messages.Failure("Broadcast", errors.New("not configured")))
		return err
	}
	users, err := b.store.ListUsers(ctx)
	if err != nil {
		_, _ = b.reply(ctx, req, messages.Failure("User list unavailable", err))
		return err
	}
	if len(users) == 0 {
		_, err := b.reply(ctx, req, messages.MsgNoUsers)
		return err
	}

	status, err := b.reply(ctx, req, messages.BroadcastStarted(len(users)))
	if err != nil {
		return err
	}
	progress := func(st broadcast.JobStatus) {
		// the handler context is gone by the time later reports arrive
		pctx, cancel := context.WithTimeout(context.Background(), b.ctl.Config().NotifyTimeout)
		defer cancel()
		if err := b.msg.Edit(pctx, status, messages.BroadcastProgress(st), nil); err != nil {
			b.log.Debug("broadcast progress edit failed", logx.Err(err))
		}
	}
	id, err := b.bc.NewJob("noti", users, messages.Announcement(text), nil, progress)
	if err != nil {
		return b.msg.Edit(ctx, status, messages.Failure("Broadcast", err), nil)
	}
	req.Logger.Info("broadcast queued", logx.String("job", id), logx.Int("users", len(users)))
	return nil
}

// cmdAddToken asks for a request dump; the next plain message from the
// owner is taken as the answer.
func (b *Bot) cmdAddToken(ctx context.Context, req *router.Request) error {
	name := strings.TrimSpace(req.Rest)
	if name == "" {
		name = "Token " + strconv.Itoa(b.ctl.Pool().Len()+1)
	}
	b.setPending(req.FromID, name)
	_, err := b.replyWith(ctx, req, messages.TokenPrompt(name), &kit.SendOptions{ForceReply: true, Placeholder: "Paste the request..."})
	return err
}

func (b *Bot) addToken(ctx context.Context, req *router.Request, name, raw string) error {
	cred, err := b.ctl.AddCredential(ctx, req.FromID, name, raw)
	switch {
	case err == nil:
		_, err = b.reply(ctx, req, messages.TokenAdded(cred.Name, b.ctl.Pool().Len()))
		return err
	case errors.Is(err, storage.ErrDuplicate):
		_, err = b.reply(ctx, req, messages.MsgTokenDuplicate)
		return err
	case errors.Is(err, dispatch.ErrForbidden):
		_, err = b.reply(ctx, req, messages.MsgForbidden)
		return err
	}
	if credential.IsParseError(err) {
		_, err = b.reply(ctx, req, messages.MsgTokenParseError)
		return err
	}
	_, _ = b.reply(ctx, req, messages.Failure("Could not save", err))
	return err
}

func (b *Bot) cmdTokens(ctx context.Context, req *router.Request) error {
	_, err := b.reply(ctx, req, messages.Tokens(b.ctl.Credentials()))
	return err
}

func (b *Bot) cmdDelToken(ctx context.Context, req *router.Request) error {
	n, ok := intArg(req)
	if !ok {
		_, err := b.reply(ctx, req, messages.Usage("/deltoken N"))
		return err
	}
	removed, err := b.ctl.RemoveCredential(ctx, req.FromID, int(n))
	switch {
	case errors.Is(err, dispatch.ErrIndexOutOfRange):
		_, err = b.reply(ctx, req, messages.TokenNotFound(int(n)))
		return err
	case errors.Is(err, dispatch.ErrForbidden):
		_, err = b.reply(ctx, req, messages.MsgForbidden)
		return err
	case err != nil && removed.Name == "":
		_, _ = b.reply(ctx, req, messages.Failure("Delete failed", err))
		return err
	case err != nil:
		// dropped from the pool but still stored
		_, _ = b.reply(ctx, req, messages.Failure("Removed from pool, store delete failed", err))
		return err
	}
	_, err = b.reply(ctx, req, messages.TokenDeleted(removed.Name))
	return err
}

func (b *Bot) cmdRefresh(ctx context.Context, req *router.Request) error {
	n, err := b.ctl.RefreshCredentials(ctx)
	if err != nil && n == 0 {
		_, _ = b.reply(ctx, req, messages.Failure("Refresh failed", err))
		return err
	}
	_, err = b.reply(ctx, req, messages.RefreshDone(n))
	return err
}

func (b *Bot) setPending(userID int64, name string) {
	b.pmu.Lock()
	b.pending[userID] = pendingToken{name: name, until: b.now().Add(b.cfg.PendingTTL)}
	b.pmu.Unlock()
}

// takePending consumes a live /addtoken request.
func (b *Bot) takePending(userID int64) (string, bool) {
	b.pmu.Lock()
	defer b.pmu.Unlock()
	p, ok := b.pending[userID]
	if !ok {
		return "", false
	}
	delete(b.pending, userID)
	if b.now().After(p.until) {
		return "", false
	}
	return p.name, true
}

func intArg(req *router.Request) (int64, bool) {
	if len(req.Args) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(req.Args[0], 10, 64)
	return n, err == nil
}
