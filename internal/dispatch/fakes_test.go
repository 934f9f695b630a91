package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"restorebot/internal/credential"
	"restorebot/internal/storage"
	"restorebot/internal/transport"
	logx "restorebot/pkg/logx"
)

type call struct {
	op    string
	ref   transport.MessageRef
	text  string
	photo string
}

type fakeNotifier struct {
	mu    sync.Mutex
	next  int
	calls []call
}

func (n *fakeNotifier) record(c call) {
	n.mu.Lock()
	n.calls = append(n.calls, c)
	n.mu.Unlock()
}

func (n *fakeNotifier) SendStatus(_ context.Context, to transport.ChatTarget, text string) (transport.MessageRef, error) {
	n.mu.Lock()
	n.next++
	ref := transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: n.next}
	n.calls = append(n.calls, call{op: "send", ref: ref, text: text})
	n.mu.Unlock()
	return ref, nil
}

func (n *fakeNotifier) EditStatus(_ context.Context, ref transport.MessageRef, text string) error {
	n.record(call{op: "edit", ref: ref, text: text})
	return nil
}

func (n *fakeNotifier) SendFinal(_ context.Context, to transport.ChatTarget, text, photo string) error {
	n.record(call{op: "final", ref: transport.MessageRef{ChatID: to.ChatID}, text: text, photo: photo})
	return nil
}

func (n *fakeNotifier) Delete(_ context.Context, ref transport.MessageRef) error {
	n.record(call{op: "delete", ref: ref})
	return nil
}

// find returns the calls of op whose text contains substr.
func (n *fakeNotifier) find(op, substr string) []call {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []call
	for _, c := range n.calls {
		if c.op == op && strings.Contains(c.text, substr) {
			out = append(out, c)
		}
	}
	return out
}

type fakePresenter struct{}

func (fakePresenter) Queued(j *Job, pos, ahead int) string {
	return fmt.Sprintf("queued %s pos=%d ahead=%d", j.Target, pos, ahead)
}
func (fakePresenter) QueueAlmost(j *Job) string { return "almost " + j.Target }
func (fakePresenter) LimitReached(j *Job) string { return "limit " + j.Target }
func (fakePresenter) Running(j *Job, lines []string) string {
	return "running " + j.Target + "\n" + strings.Join(lines, "\n")
}
func (fakePresenter) Succeeded(j *Job, detail string, res *Resource, resErr error) string {
	s := "done " + j.Target + " " + detail
	if res != nil {
		s += " dns=" + res.ID
	}
	if resErr != nil {
		s += " dns-failed"
	}
	return s
}
func (fakePresenter) Failed(j *Job, reason string) string { return "failed " + j.Target + ": " + reason }

// execFunc adapts a function to Executor and counts calls.
type execFunc struct {
	calls atomic.Int32
	fn    func(ctx context.Context, target string, cred credential.Credential, progress Progress) (string, error)
}

func (e *execFunc) Run(ctx context.Context, target string, cred credential.Credential, progress Progress) (string, error) {
	e.calls.Add(1)
	return e.fn(ctx, target, cred, progress)
}

func succeed() *execFunc {
	return &execFunc{fn: func(_ context.Context, target string, _ credential.Credential, progress Progress) (string, error) {
		progress("restoring " + target)
		return "2027-01-01", nil
	}}
}

type refresherFunc struct {
	calls atomic.Int32
	fn    func(credential.Credential) (credential.Secret, error)
}

func (r *refresherFunc) Refresh(_ context.Context, c credential.Credential) (credential.Secret, error) {
	r.calls.Add(1)
	return r.fn(c)
}

type gateFunc func(userID int64) ([]string, error)

func (g gateFunc) Check(_ context.Context, userID int64) ([]string, error) { return g(userID) }

type companionFunc func() (Resource, error)

func (f companionFunc) Provision(_ context.Context, progress Progress) (Resource, error) {
	progress("creating profile")
	return f()
}

type harness struct {
	c      *Controller
	store  storage.Store
	notify *fakeNotifier
}

func testConfig() Config {
	return Config{
		Workers:          1,
		SuperAdminID:     1,
		DailyLimit:       5,
		ProgressInterval: 10 * time.Millisecond,
		SettleDelay:      -1,
		DonatePhoto:      "photo-id",
	}
}

func newHarness(t *testing.T, cfg Config, deps Deps, creds ...credential.Credential) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	n := &fakeNotifier{}
	deps.Store = st
	deps.Notifier = n
	deps.Presenter = fakePresenter{}
	if deps.Executor == nil {
		deps.Executor = succeed()
	}
	c, err := New(cfg, deps)
	require.NoError(t, err)
	for _, cr := range creds {
		c.Pool().Append(cr)
	}
	return &harness{c: c, store: st, notify: n}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.c.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.c.Stop(ctx)
	})
}

func (h *harness) submit(t *testing.T, userID int64, target string) *Job {
	t.Helper()
	j, _, err := h.c.Submit(context.Background(), Request{
		UserID: userID,
		Target: target,
		Reply:  transport.MessageRef{ChatID: userID},
	})
	require.NoError(t, err)
	return j
}

func (h *harness) waitFinished(t *testing.T, n int) []Record {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.c.History()) >= n }, 3*time.Second, 5*time.Millisecond)
	return h.c.History()
}

func cred(name, token string) credential.Credential {
	return credential.Credential{Name: name, Secret: credential.Secret{FetchToken: token, AppTransaction: "tx-" + token}}
}
