package messages

import (
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"restorebot/internal/credential"
	"restorebot/internal/dispatch"
	"restorebot/internal/notifier/broadcast"
	"restorebot/internal/storage"
)

func golden(t *testing.T, name, got string) {
	t.Helper()
	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, name, []byte(got))
}

func job() *dispatch.Job { return &dispatch.Job{Target: "uid-1", Label: "alice"} }

func TestPresenterGolden(t *testing.T) {
	p := Presenter{}
	res := &dispatch.Resource{ID: "abc123", Link: "https://apple.nextdns.io/?profile=abc123"}

	golden(t, "queued", p.Queued(job(), 3, 2))
	golden(t, "queued_next", p.Queued(job(), 1, 0))
	golden(t, "running", p.Running(job(), []string{"[Worker #1] Processing request...", "Sending receipt with <Token 1>"}))
	golden(t, "succeeded_dns", p.Succeeded(job(), "2027-01-01", res, nil))
	golden(t, "succeeded_dns_error", p.Succeeded(job(), "2027-01-01", nil, errors.New("forbidden")))
	golden(t, "failed", p.Failed(job(), "credential rejected again after refresh"))
}

func TestSucceededWithoutCompanion(t *testing.T) {
	got := Presenter{Product: "Gold"}.Succeeded(job(), "", nil, nil)
	assert.Equal(t, "✅ <b>Gold activated</b>\n• <b>Account</b>: <code>alice</code>", got)
}

func TestBotTextsGolden(t *testing.T) {
	golden(t, "stats", Stats(
		storage.Stats{Total: 10, Success: 7, Fail: 3, DistinctUsers: 4},
		dispatch.Snapshot{Workers: 3, Busy: 1, Queued: 2, Credentials: 2, Enabled: true, DailyLimit: 5, Counters: dispatch.Counters{Refreshes: 1}},
	))
	golden(t, "tokens", Tokens([]credential.Credential{
		{ID: 1, Name: "Token 1", Secret: credential.Secret{FetchToken: "abcdefghijklmnopqrstuvwxyz"}},
		{Name: "Static", Mode: credential.ModeSandbox, Secret: credential.Secret{FetchToken: "short"}},
	}))
	golden(t, "account_card", AccountCard("uid-1", "alice<3>", true, "2027-01-01"))
	golden(t, "help_admin", Help(true))
	golden(t, "broadcast_finished", BroadcastProgress(broadcast.JobStatus{Total: 5, Done: 5, Failed: 1, Blocked: 1, DoneAt: time.Unix(1, 0)}))
}

func TestEmptyListings(t *testing.T) {
	assert.Equal(t, MsgNoTokens, Tokens(nil))
	assert.Equal(t, MsgNoVIPs, VIPs(nil))
	assert.NotContains(t, Help(false), "Admin")
}

func TestAccountCardFree(t *testing.T) {
	assert.Contains(t, AccountCard("u", "bob", false, ""), "<b>Status</b>: Free")
}
