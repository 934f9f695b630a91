package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	logx "restorebot/pkg/logx"
)

type Middleware func(next HandlerFunc) HandlerFunc

// ErrHandlerTimeout is returned when a handler outlives its per-update budget.
var ErrHandlerTimeout = errors.New("router: handler timed out")

// slowHandler is the duration above which a successful update is logged at info.
const slowHandler = 750 * time.Millisecond

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func loggerFor(req *Request, fallback logx.Logger) logx.Logger {
	if !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

// Deadline bounds one update. A handler still running when d passes gets a
// cancelled ctx and the error is reported as ErrHandlerTimeout.
func Deadline(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			err := next(cctx, req)
			if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("%w after %s: %w", ErrHandlerTimeout, d, err)
			}
			return err
		}
	}
}

// Recover turns a handler panic into an error so one bad update cannot take
// its shard down.
func Recover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					loggerFor(req, log).Error("handler panicked",
						logx.String("route", route(req)),
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())),
					)
					err = fmt.Errorf("panic in %s: %v", route(req), r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// AccessLog records every update: failures at warn, slow ones at info,
// the rest at debug.
func AccessLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := loggerFor(req, log)
			fields := []logx.Field{
				logx.String("route", route(req)),
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.Duration("took", took),
			}
			switch {
			case err != nil:
				l.Warn("update failed", append(fields, logx.Err(err))...)
			case took >= slowHandler:
				l.Info("update slow", fields...)
			default:
				l.Debug("update handled", fields...)
			}
			return err
		}
	}
}

// route names what an update was dispatched to: "/cmd", "cb:prefix" or
// the update kind for plain messages.
func route(req *Request) string {
	if cb := req.Update.Callback; cb != nil {
		prefix, _, _ := strings.Cut(cb.Data, "|")
		return "cb:" + prefix
	}
	if req.Command != "" {
		return "/" + req.Command
	}
	return string(req.Update.Kind)
}
