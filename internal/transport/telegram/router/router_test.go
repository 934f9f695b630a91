package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "restorebot/internal/transport"
)

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, ChatID: from, FromID: from, Text: text}}
}

func newTestRouter() (*Router, *[]string) {
	var got []string
	r := New(Options{IsAdmin: func(id int64) bool { return id == 1 }})
	r.Handle(Command{Name: "start", Handle: func(_ context.Context, req *Request) error {
		got = append(got, "start:"+req.Rest)
		return nil
	}})
	r.Handle(Command{Name: "/noti", Access: AccessAdmin, Handle: func(_ context.Context, req *Request) error {
		got = append(got, "noti:"+req.Rest)
		return nil
	}})
	r.OnCallback("upg", func(_ context.Context, req *Request) error {
		got = append(got, "upg:"+req.Payload)
		return nil
	})
	r.OnMessage(func(_ context.Context, req *Request) error {
		got = append(got, "text:"+req.Rest)
		return nil
	})
	return r, &got
}

func TestDispatchRoutes(t *testing.T) {
	t.Parallel()
	r, got := newTestRouter()
	ctx := context.Background()

	require.NoError(t, r.Dispatch(ctx, msg(5, "/start@restore_bot hello")))
	require.NoError(t, r.Dispatch(ctx, msg(5, "  alice  ")))
	require.NoError(t, r.Dispatch(ctx, msg(5, "/unknown x")))
	require.NoError(t, r.Dispatch(ctx, msg(1, "/noti\nline one\nline two")))
	require.NoError(t, r.Dispatch(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{FromID: 5, ChatID: 5, Data: "upg|123|alice"}}))
	require.NoError(t, r.Dispatch(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{Data: "nobody"}}))

	assert.Equal(t, []string{
		"start:hello",
		"text:alice",
		"text:/unknown x",
		"noti:line one\nline two",
		"upg:123|alice",
	}, *got)
}

func TestAdminCommandsIgnoredForOthers(t *testing.T) {
	t.Parallel()
	r, got := newTestRouter()
	require.NoError(t, r.Dispatch(context.Background(), msg(5, "/noti hi")))
	assert.Empty(t, *got)

	names := func(cs []Command) []string {
		var out []string
		for _, c := range cs {
			out = append(out, c.Name)
		}
		return out
	}
	assert.Equal(t, []string{"start"}, names(r.Commands(false)))
	assert.Equal(t, []string{"noti", "start"}, names(r.Commands(true)))
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	r := New(Options{})
	r.Handle(Command{Name: "boom", Handle: func(context.Context, *Request) error { panic("kaboom") }})
	err := r.Dispatch(context.Background(), msg(2, "/boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestTimeoutMiddlewareBoundsHandler(t *testing.T) {
	t.Parallel()
	r := New(Options{Timeout: 20 * time.Millisecond})
	r.Handle(Command{Name: "slow", Handle: func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	err := r.Dispatch(context.Background(), msg(2, "/slow"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, errors.Is(err, ErrHandlerTimeout))
}

func TestRouteNames(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/start", route(&Request{Command: "start"}))
	assert.Equal(t, "cb:upg", route(&Request{
		Command: "upg",
		Update:  kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{Data: "upg|u-1|alice"}},
	}))
	assert.Equal(t, "message", route(&Request{Update: kit.Update{Kind: kit.UpdateMessage}}))
}

func TestRunKeepsPerChatOrder(t *testing.T) {
	t.Parallel()
	var (
		mu  sync.Mutex
		got = map[int64][]string{}
	)
	r := New(Options{Workers: 3})
	r.OnMessage(func(_ context.Context, req *Request) error {
		mu.Lock()
		got[req.Chat.ChatID] = append(got[req.Chat.ChatID], req.Rest)
		mu.Unlock()
		return nil
	})

	updates := make(chan kit.Update, 32)
	for i := range 10 {
		updates <- msg(100, string(rune('a'+i)))
		updates <- msg(200, string(rune('a'+i)))
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx, updates)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got[100]) == 10 && len(got[200]) == 10
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	want := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	assert.Equal(t, want, got[100])
	assert.Equal(t, want, got[200])
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"a", "b c", "d", ""}, tokenize(`a "b c" 'd' ""`))
	assert.Equal(t, []string{`x"y`}, tokenize(`x\"y`))
	assert.Nil(t, tokenize("   "))
}
