// Package bot is the chat front end: it turns commands, replies and
// button presses into dispatch submissions and admin actions.
package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"restorebot/internal/dispatch"
	"restorebot/internal/messages"
	"restorebot/internal/notifier/broadcast"
	"restorebot/internal/restore"
	"restorebot/internal/storage"
	kit "restorebot/internal/transport"
	"restorebot/internal/transport/telegram/router"
	logx "restorebot/pkg/logx"
	"restorebot/pkg/tgui"
)

// Messenger sends and edits messages. notifier.Service satisfies it.
type Messenger interface {
	Send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	Edit(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
}

// Resolver looks accounts up. restore.Client satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, input string) (restore.Account, error)
	Status(ctx context.Context, uid string) (restore.Entitlement, error)
}

// Broadcaster queues a message for many users. broadcast.Service
// satisfies it.
type Broadcaster interface {
	NewJob(name string, targets []int64, text string, opt *kit.SendOptions, progress broadcast.ProgressFunc) (string, error)
}

// CallbackAnswerer acknowledges button presses.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

type Config struct {
	// GroupOnly turns away private chats from users who are neither the
	// owner nor VIP.
	GroupOnly bool
	GroupLink string
	// PendingTTL bounds how long /addtoken waits for the dump; default 10m.
	PendingTTL time.Duration
}

type Deps struct {
	Controller  *dispatch.Controller
	Store       storage.Store
	Messenger   Messenger
	Callbacks   CallbackAnswerer
	Resolver    Resolver
	Broadcaster Broadcaster // optional; /noti is unavailable without it
	Gate        *ChannelGate
	Log         logx.Logger
}

type Bot struct {
	cfg   Config
	ctl   *dispatch.Controller
	store storage.Store
	msg   Messenger
	cb    CallbackAnswerer
	res   Resolver
	bc    Broadcaster
	gate  *ChannelGate
	log   logx.Logger

	pmu     sync.Mutex
	pending map[int64]pendingToken
	now     func() time.Time
}

type pendingToken struct {
	name  string
	until time.Time
}

func New(cfg Config, d Deps) (*Bot, error) {
	switch {
	case d.Controller == nil:
		return nil, errors.New("bot: controller is required")
	case d.Store == nil:
		return nil, errors.New("bot: store is required")
	case d.Messenger == nil:
		return nil, errors.New("bot: messenger is required")
	case d.Callbacks == nil:
		return nil, errors.New("bot: callback answerer is required")
	case d.Resolver == nil:
		return nil, errors.New("bot: resolver is required")
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 10 * time.Minute
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Bot{
		cfg:     cfg,
		ctl:     d.Controller,
		store:   d.Store,
		msg:     d.Messenger,
		cb:      d.Callbacks,
		res:     d.Resolver,
		bc:      d.Broadcaster,
		gate:    d.Gate,
		log:     d.Log.With(logx.String("comp", "bot")),
		pending: map[int64]pendingToken{},
		now:     time.Now,
	}, nil
}

// Register installs every handler on r.
func (b *Bot) Register(r *router.Router) {
	r.Use(b.touchUser)

	r.Handle(router.Command{Name: "start", Description: "Start the bot", Handle: b.cmdStart})
	r.Handle(router.Command{Name: "help", Description: "How to use the bot", Handle: b.cmdHelp})

	admin := []router.Command{
		{Name: "stats", Description: "Usage and queue", Handle: b.cmdStats},
		{Name: "on", Description: "Leave maintenance", Handle: b.cmdOn},
		{Name: "off", Description: "Enter maintenance", Handle: b.cmdOff},
		{Name: "setlimit", Description: "Set the daily limit", Handle: b.cmdSetLimit},
		{Name: "rs", Description: "Reset a user's usage", Handle: b.cmdReset},
		{Name: "setdonate", Description: "Set the final photo", Handle: b.cmdSetDonate},
		{Name: "addvip", Description: "Add a VIP", Handle: b.cmdAddVIP},
		{Name: "delvip", Description: "Remove a VIP", Handle: b.cmdDelVIP},
		{Name: "vips", Description: "List VIPs", Handle: b.cmdVIPs},
		{Name: "noti", Description: "Message every user", Handle: b.cmdNoti},
		{Name: "addtoken", Description: "Add a token", Handle: b.cmdAddToken},
		{Name: "tokens", Description: "List tokens", Handle: b.cmdTokens},
		{Name: "deltoken", Description: "Delete a token", Handle: b.cmdDelToken},
		{Name: "refresh", Description: "Refresh every token", Handle: b.cmdRefresh},
	}
	for _, c := range admin {
		c.Access = router.AccessAdmin
		c.Hidden = true
		r.Handle(c)
	}

	r.OnCallback(cbInput, b.cbInput)
	r.OnCallback(cbJoined, b.cbJoined)
	r.OnCallback(cbUpgrade, b.cbUpgrade)
	r.OnMessage(b.onText)
}

// IsAdmin reports owner rights; the router uses it for admin commands.
func (b *Bot) IsAdmin(userID int64) bool { return b.ctl.IsSuperAdmin(userID) }

// touchUser records everyone who talks to the bot as a broadcast target.
func (b *Bot) touchUser(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if req.FromID != 0 {
			if err := b.store.TouchUser(ctx, req.FromID); err != nil {
				req.Logger.Debug("touch user failed", logx.Err(err))
			}
		}
		return next(ctx, req)
	}
}

func (b *Bot) privileged(ctx context.Context, userID int64) bool {
	ok, err := b.ctl.Quota().IsPrivileged(ctx, userID)
	if err != nil {
		b.log.Warn("privilege lookup failed", logx.Int64("user_id", userID), logx.Err(err))
		return false
	}
	return ok
}

func (b *Bot) reply(ctx context.Context, req *router.Request, text string) (kit.MessageRef, error) {
	return b.msg.Send(ctx, req.Chat, text, nil)
}

func (b *Bot) replyWith(ctx context.Context, req *router.Request, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return b.msg.Send(ctx, req.Chat, text, opt)
}

func (b *Bot) answer(ctx context.Context, req *router.Request, text string, alert bool) {
	if req.Callback == nil {
		return
	}
	if err := b.cb.AnswerCallback(ctx, req.Callback.ID, text, alert); err != nil {
		req.Logger.Debug("answer callback failed", logx.Err(err))
	}
}

func callbackRef(req *router.Request) kit.MessageRef {
	return kit.MessageRef{ChatID: req.Callback.ChatID, ThreadID: req.Callback.ThreadID, MessageID: req.Callback.MessageID}
}

func (b *Bot) mainMenu() *kit.SendOptions {
	return tgui.NewKeyboard().
		Row(tgui.Btn(messages.BtnInput, cbInput)).
		Options()
}

func (b *Bot) joinKeyboard(missing []Channel) *kit.SendOptions {
	k := tgui.NewKeyboard()
	for _, ch := range missing {
		if ch.Link != "" {
			k.Row(tgui.URLBtn("📢 Join "+ch.Name, ch.Link))
		}
	}
	return k.Row(tgui.Btn(messages.BtnJoined, cbJoined)).Options()
}

func channelRefs(chs []Channel) []messages.ChannelRef {
	out := make([]messages.ChannelRef, 0, len(chs))
	for _, ch := range chs {
		name := ch.Name
		if name == "" {
			name = ch.ID
		}
		out = append(out, messages.ChannelRef{Name: name, Link: ch.Link})
	}
	return out
}
