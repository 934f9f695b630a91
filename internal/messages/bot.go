package messages

import (
	"fmt"
	"strconv"

	"restorebot/internal/credential"
	"restorebot/internal/dispatch"
	"restorebot/internal/notifier/broadcast"
	"restorebot/internal/storage"
	"restorebot/pkg/tgui"
)

// Button labels.
const (
	BtnInput   = "✍️ Enter username"
	BtnUpgrade = "🚀 Activate Gold"
	BtnJoined  = "✅ I've joined"
)

const (
	CallbackQueued     = "Queued..."
	CallbackNotJoined  = "You still need to join every channel."
	CallbackExpired    = "This button has expired."
	CallbackJoinedOK   = "Thanks! You can use the bot now."
	PromptPlaceholder  = "username or locket.cam link"
	MsgResolving       = "🔎 Looking up account..."
	MsgCheckingStatus  = "📡 Checking subscription status..."
	MsgMaintenance     = "🛠 The bot is under maintenance. Please come back later."
	MsgStopping        = "⏸ The bot is restarting. Please try again in a minute."
	MsgForbidden       = "⛔ Only the owner can do that."
	MsgTokenParseError = "❌ Could not read that request. Paste the full captured request: headers, a blank line, then the JSON body with fetch_token and app_transaction."
	MsgTokenDuplicate  = "⚠️ That token is already in the pool."
	MsgNoTokens        = "📭 No tokens loaded."
	MsgNoVIPs          = "📭 No VIP users."
	MsgBotOn           = "🟢 Bot enabled."
	MsgBotOff          = "🔴 Bot disabled. Only admins and VIPs can submit."
	MsgDonateSet       = "🖼 Final photo updated."
	MsgDonateUsage     = "Send a photo with the caption /setdonate."
	MsgNoUsers         = "📭 No users to notify."
	MsgMenu            = "🏠 What would you like to do?"
)

func Welcome(name string, limit int) string {
	return tgui.New().
		HTML(tgui.Esc("👋 Hi "), tgui.B(name), tgui.Esc("!")).
		Blank().
		Line("Send me a Locket username or a locket.cam link as a reply to this message and I will activate Gold on that account.").
		Line(fmt.Sprintf("Each user can make %d request(s) per day.", limit)).
		String()
}

func Prompt() string {
	return "✍️ Reply to this message with the Locket username or link."
}

func Help(admin bool) string {
	b := tgui.New().
		Title("📖", "How to use").
		Bullets(
			"Tap \""+BtnInput+"\" or reply to any bot message with a username.",
			"Check the account card and tap \""+BtnUpgrade+"\".",
			"Wait in the queue; the status message updates by itself.",
		)
	if admin {
		b.Blank().
			Title("🔧", "Admin").
			Bullets(
				"/stats: usage and queue",
				"/on, /off: toggle maintenance",
				"/setlimit N: daily limit per user",
				"/rs USER_ID: reset a user's usage today",
				"/setdonate: set the final photo",
				"/addvip ID, /delvip ID, /vips",
				"/noti TEXT: message every user",
				"/addtoken NAME, /tokens, /deltoken N (owner)",
			)
	}
	return b.String()
}

func GroupOnly(link string) string {
	b := tgui.New().Title("⛔", "This bot only works in the group.")
	if link != "" {
		b.HTML(tgui.Esc("👉 "), tgui.Link("Join the group", link), tgui.Esc(" to use it."))
	}
	return b.String()
}

// ChannelRef is a required channel as shown to the user.
type ChannelRef struct {
	Name string
	Link string
}

func JoinRequired(missing []ChannelRef) string {
	b := tgui.New().
		Title("📢", "Join our channels first").
		Line("Join these, then tap \"" + BtnJoined + "\":")
	for _, ch := range missing {
		if ch.Link != "" {
			b.HTML(tgui.Esc("• "), tgui.Link(ch.Name, ch.Link))
		} else {
			b.Line("• " + ch.Name)
		}
	}
	return b.String()
}

func NotFound(username string) string {
	return tgui.New().
		HTML(tgui.Esc("❌ No account named "), tgui.Code(username), tgui.Esc(".")).
		String()
}

func LimitReached(limit int) string {
	return tgui.New().
		Title("🚫", "Daily limit reached").
		Line(fmt.Sprintf("You have used all %d request(s) for today. Try again tomorrow.", limit)).
		String()
}

// LimitReachedShort fits a callback alert.
func LimitReachedShort(limit int) string {
	return fmt.Sprintf("🚫 Daily limit of %d reached. Try again tomorrow.", limit)
}

// AccountCard shows a resolved account before the user confirms.
func AccountCard(uid, username string, active bool, expires string) string {
	status := "Free"
	if active {
		status = "Gold active"
		if expires != "" {
			status += " until " + expires
		}
	}
	return tgui.New().
		Title("👤", "Account").
		KV("UID", tgui.Code(uid)).
		KV("Username", tgui.Code(username)).
		KV("Status", tgui.Esc(status)).
		Blank().
		Line("👇 Tap below to activate.").
		String()
}

// Stats renders the /stats report.
func Stats(st storage.Stats, snap dispatch.Snapshot) string {
	state := "on"
	if !snap.Enabled {
		state = "off (maintenance)"
	}
	return tgui.New().
		Title("📊", "Statistics").
		KV("Requests", tgui.Code(strconv.Itoa(st.Total))).
		KV("Success", tgui.Code(strconv.Itoa(st.Success))).
		KV("Failed", tgui.Code(strconv.Itoa(st.Fail))).
		KV("Users", tgui.Code(strconv.Itoa(st.DistinctUsers))).
		Blank().
		Title("⚙️", "Engine").
		KV("Bot", tgui.Esc(state)).
		KV("Daily limit", tgui.Code(strconv.Itoa(snap.DailyLimit))).
		KV("Workers", tgui.Code(fmt.Sprintf("%d/%d busy", snap.Busy, snap.Workers))).
		KV("Queue", tgui.Code(strconv.Itoa(snap.Queued))).
		KV("Tokens", tgui.Code(strconv.Itoa(snap.Credentials))).
		KV("Refreshes", tgui.Code(strconv.FormatUint(snap.Counters.Refreshes, 10))).
		String()
}

func TokenPrompt(name string) string {
	return tgui.New().
		HTML(tgui.Esc("🔑 Reply with the captured request for "), tgui.B(name), tgui.Esc(".")).
		String()
}

func TokenAdded(name string, total int) string {
	return tgui.New().
		HTML(tgui.Esc("✅ Added "), tgui.B(name), tgui.Esc(fmt.Sprintf(". %d token(s) in the pool.", total))).
		String()
}

func TokenDeleted(name string) string {
	return tgui.New().HTML(tgui.Esc("🗑 Removed "), tgui.B(name), tgui.Esc(".")).String()
}

func TokenNotFound(index int) string {
	return fmt.Sprintf("❌ No token #%d. See /tokens.", index)
}

// Tokens lists the pool, 1-based, without secret material beyond a
// short preview.
func Tokens(creds []credential.Credential) string {
	if len(creds) == 0 {
		return MsgNoTokens
	}
	b := tgui.New().Title("🔑", fmt.Sprintf("Tokens (%d)", len(creds)))
	for i, c := range creds {
		line := []tgui.H{tgui.Esc(fmt.Sprintf("%d. ", i+1)), tgui.B(c.Name), tgui.Esc(" "), tgui.Code(c.Secret.Preview(12))}
		if c.Sandbox() {
			line = append(line, tgui.Esc(" [sandbox]"))
		}
		if c.ID == 0 {
			line = append(line, tgui.Esc(" [config]"))
		}
		b.HTML(line...)
	}
	return b.String()
}

func VIPAdded(id int64) string {
	return tgui.New().HTML(tgui.Esc("⭐ "), tgui.Code(strconv.FormatInt(id, 10)), tgui.Esc(" is now VIP.")).String()
}

func VIPRemoved(id int64) string {
	return tgui.New().HTML(tgui.Esc("🗑 "), tgui.Code(strconv.FormatInt(id, 10)), tgui.Esc(" is no longer VIP.")).String()
}

func VIPNotFound(id int64) string {
	return tgui.New().HTML(tgui.Esc("❌ "), tgui.Code(strconv.FormatInt(id, 10)), tgui.Esc(" is not a VIP.")).String()
}

func VIPs(users []storage.PrivilegedUser) string {
	if len(users) == 0 {
		return MsgNoVIPs
	}
	b := tgui.New().Title("⭐", fmt.Sprintf("VIP users (%d)", len(users)))
	for _, u := range users {
		b.HTML(tgui.Esc("• "), tgui.Code(strconv.FormatInt(u.UserID, 10)))
	}
	return b.String()
}

func UsageReset(userID int64) string {
	return tgui.New().HTML(tgui.Esc("♻️ Usage reset for "), tgui.Code(strconv.FormatInt(userID, 10)), tgui.Esc(".")).String()
}

func LimitSet(n int) string {
	return fmt.Sprintf("✅ Daily limit set to %d.", n)
}

// Usage answers a malformed command.
func Usage(usage string) string {
	return tgui.New().HTML(tgui.Esc("Usage: "), tgui.Code(usage)).String()
}

func Failure(what string, err error) string {
	return tgui.New().HTML(tgui.Esc("❌ "+what+": "), tgui.Code(err.Error())).String()
}

// Announcement wraps an owner broadcast. text is sent as HTML unescaped.
func Announcement(text string) string {
	return tgui.New().Title("📢", "Announcement").Blank().HTML(tgui.Raw(text)).String()
}

func BroadcastStarted(total int) string {
	return fmt.Sprintf("📣 Sending to %d user(s)...", total)
}

func BroadcastProgress(st broadcast.JobStatus) string {
	title := "Broadcasting"
	emoji := "📣"
	if st.Finished() {
		title, emoji = "Broadcast finished", "✅"
	}
	return tgui.New().
		Title(emoji, title).
		KV("Sent", tgui.Code(fmt.Sprintf("%d/%d", st.Done-st.Failed, st.Total))).
		KV("Failed", tgui.Code(strconv.Itoa(st.Failed))).
		KV("Blocked", tgui.Code(strconv.Itoa(st.Blocked))).
		String()
}

func RefreshDone(n int) string {
	return fmt.Sprintf("🔄 Refreshed %d token(s).", n)
}
