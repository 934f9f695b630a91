// Package messages renders every text the bot sends. All output is HTML
// parse mode.
package messages

import (
	"fmt"
	"strings"

	"restorebot/internal/dispatch"
	"restorebot/pkg/tgui"
)

// Presenter renders job status texts.
type Presenter struct {
	// Product is the display name of what a restore grants.
	Product string
}

var _ dispatch.Presenter = Presenter{}

func (p Presenter) product() string {
	if p.Product == "" {
		return "Locket Gold"
	}
	return p.Product
}

func (p Presenter) Queued(j *dispatch.Job, position, ahead int) string {
	b := tgui.New().
		Title("⏳", "Request queued").
		KV("Account", tgui.Code(j.Label)).
		KV("Position", tgui.Raw(fmt.Sprintf("#%d", position)))
	if ahead == 0 {
		b.Line("You are next.")
	} else {
		b.Line(fmt.Sprintf("%d request(s) ahead of you.", ahead))
	}
	return b.String()
}

func (p Presenter) QueueAlmost(j *dispatch.Job) string {
	return tgui.New().
		HTML(tgui.Esc("🔔 Almost your turn for "), tgui.Code(j.Label), tgui.Esc(", get ready!")).
		String()
}

func (p Presenter) LimitReached(j *dispatch.Job) string {
	return tgui.New().
		Title("🚫", "Daily limit reached").
		Line("Your request for " + j.Label + " was not run. Try again tomorrow.").
		String()
}

func (p Presenter) Running(j *dispatch.Job, lines []string) string {
	b := tgui.New().
		Title("⚙️", "Processing").
		KV("Account", tgui.Code(j.Label))
	if len(lines) > 0 {
		b.Blank().HTML(tgui.Pre(strings.Join(lines, "\n")))
	}
	return b.String()
}

func (p Presenter) Succeeded(j *dispatch.Job, detail string, res *dispatch.Resource, resErr error) string {
	b := tgui.New().
		Title("✅", p.product()+" activated").
		KV("Account", tgui.Code(j.Label))
	if detail != "" {
		b.KV("Expires", tgui.Code(detail))
	}
	switch {
	case res != nil:
		b.Blank().
			Title("🛡", "DNS profile").
			KV("Profile", tgui.Code(res.ID)).
			HTML(tgui.Link("Install profile", res.Link)).
			Line("Install it to keep the subscription active.")
	case resErr != nil:
		b.Blank().Line("⚠️ DNS profile unavailable right now. Ask an admin for one.")
	}
	return b.String()
}

func (p Presenter) Failed(j *dispatch.Job, reason string) string {
	return tgui.New().
		Title("❌", "Restore failed").
		KV("Account", tgui.Code(j.Label)).
		KV("Reason", tgui.Esc(reason)).
		String()
}
