package router

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	rtsup "restorebot/internal/runtime/supervisor"
	kit "restorebot/internal/transport"
	logx "restorebot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

type Command struct {
	Name        string // without the leading slash
	Description string
	Access      Access
	Hidden      bool // left out of the menu
	Handle      HandlerFunc
}

// Request is one routed update.
type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	Message  *kit.Message  // message updates
	Callback *kit.Callback // callback updates

	Command string   // matched command, or callback prefix
	Args    []string // tokenized arguments
	Rest    string   // raw text after the command word
	Payload string   // callback data after "prefix|"
	ReqID   string

	Logger logx.Logger
}

type Options struct {
	Adapter kit.Adapter
	Log     logx.Logger
	IsAdmin func(userID int64) bool
	// Workers is the number of dispatch shards (default 4). Updates of one
	// chat always land on the same shard, so they are handled in order.
	Workers   int
	QueueSize int           // per shard, default 64
	Timeout   time.Duration // per update, default 30s
}

// Router maps commands, callback prefixes and plain messages to handlers.
type Router struct {
	opt Options
	log logx.Logger

	mu        sync.RWMutex
	cmds      map[string]Command
	callbacks map[string]HandlerFunc
	fallback  HandlerFunc
	mws       []Middleware
}

func New(opt Options) *Router {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.IsAdmin == nil {
		opt.IsAdmin = func(int64) bool { return false }
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 64
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 30 * time.Second
	}
	log := opt.Log.With(logx.String("comp", "router"))
	r := &Router{
		opt:       opt,
		log:       log,
		cmds:      map[string]Command{},
		callbacks: map[string]HandlerFunc{},
	}
	r.mws = []Middleware{Recover(log), AccessLog(log), Deadline(opt.Timeout)}
	return r
}

// Use appends middleware; it runs inside the built-in ones.
func (r *Router) Use(m ...Middleware) {
	r.mu.Lock()
	r.mws = append(r.mws, m...)
	r.mu.Unlock()
}

func (r *Router) Handle(c Command) {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Name), "/"))
	if name == "" || c.Handle == nil {
		return
	}
	c.Name = name
	r.mu.Lock()
	r.cmds[name] = c
	r.mu.Unlock()
}

// OnCallback routes callback data "prefix" or "prefix|payload".
func (r *Router) OnCallback(prefix string, h HandlerFunc) {
	r.mu.Lock()
	r.callbacks[prefix] = h
	r.mu.Unlock()
}

// OnMessage handles every message that is not a registered command.
func (r *Router) OnMessage(h HandlerFunc) {
	r.mu.Lock()
	r.fallback = h
	r.mu.Unlock()
}

// Commands returns the registered commands sorted by name. admin selects
// whether admin-only commands are included.
func (r *Router) Commands(admin bool) []Command {
	r.mu.RLock()
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		if c.Access == AccessAdmin && !admin {
			continue
		}
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PublishMenu pushes the public commands to the platform menu when the
// adapter supports it.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.opt.Adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	var menu []kit.BotCommand
	for _, c := range r.Commands(false) {
		if !c.Hidden {
			menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
		}
	}
	return up.UpdateMenuCommands(ctx, menu)
}

// Run consumes updates until ctx ends or the channel closes.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	shards := make([]chan kit.Update, r.opt.Workers)
	for i := range shards {
		ch := make(chan kit.Update, r.opt.QueueSize)
		shards[i] = ch
		sup.GoRestart("router.shard."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case up, ok := <-ch:
					if !ok {
						return nil
					}
					_ = r.Dispatch(c, up)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("router started", logx.Int("shards", len(shards)))

	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		r.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			chat := chatOf(up)
			idx := int(uint64(chat) % uint64(len(shards)))
			select {
			case shards[idx] <- up:
			default:
				r.log.Warn("update dropped (shard busy)", logx.Int64("chat_id", chat), logx.Int("shard", idx))
			}
		}
	}
}

func chatOf(up kit.Update) int64 {
	switch {
	case up.Message != nil:
		return up.Message.ChatID
	case up.Callback != nil:
		return up.Callback.ChatID
	}
	return 0
}

// Dispatch routes a single update synchronously.
func (r *Router) Dispatch(ctx context.Context, up kit.Update) error {
	req, h := r.resolve(up)
	if h == nil {
		return nil
	}
	r.mu.RLock()
	mws := append([]Middleware(nil), r.mws...)
	r.mu.RUnlock()
	return Chain(h, mws...)(ctx, req)
}

func (r *Router) resolve(up kit.Update) (*Request, HandlerFunc) {
	req := &Request{Update: up, ReqID: uuid.NewString()[:8]}
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch {
	case up.Kind == kit.UpdateCallback && up.Callback != nil:
		cb := up.Callback
		req.Callback = cb
		req.Chat = kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
		req.FromID = cb.FromID
		prefix, payload, _ := strings.Cut(cb.Data, "|")
		req.Command, req.Payload = prefix, payload
		req.Logger = r.log.With(logx.String("req", req.ReqID), logx.String("cb", prefix))
		return req, r.callbacks[prefix]

	case up.Kind == kit.UpdateMessage && up.Message != nil:
		m := up.Message
		req.Message = m
		req.Chat = kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
		req.FromID = m.FromID
		req.Logger = r.log.With(logx.String("req", req.ReqID))

		text := strings.TrimSpace(m.Text)
		if strings.HasPrefix(text, "/") {
			word, rest := text, ""
			if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
				word, rest = text[:i], text[i+1:]
			}
			word = strings.ToLower(strings.TrimPrefix(word, "/"))
			if at := strings.IndexByte(word, '@'); at >= 0 {
				word = word[:at]
			}
			if c, ok := r.cmds[word]; ok {
				if c.Access == AccessAdmin && !r.opt.IsAdmin(m.FromID) {
					return req, nil
				}
				req.Command = word
				req.Rest = strings.TrimSpace(rest)
				req.Args = tokenize(req.Rest)
				return req, c.Handle
			}
		}
		req.Rest = text
		return req, r.fallback
	}
	return req, nil
}
