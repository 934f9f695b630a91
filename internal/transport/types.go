package transport

import (
	"context"
	"errors"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID            int
	ChatID        int64
	ThreadID      int // forum topic thread id (0 if none)
	FromID        int64
	FromUsername  string
	FromFirstName string
	FromLocale    string // IETF language tag reported by the client
	Text          string // text, or the caption of a photo
	PhotoID       string // largest photo file id, if any
	Private       bool
	// ReplyToBot is set when the message replies to one of the bot's own
	// messages.
	ReplyToBot bool
}

type Callback struct {
	ID         string
	FromID     int64
	FromName   string
	FromLocale string
	ChatID     int64
	ThreadID   int
	MessageID  int
	Data       string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

func (r MessageRef) Chat() ChatTarget { return ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID} }

// Button is one inline keyboard button: either callback Data or a URL.
type Button struct {
	Text string
	Data string
	URL  string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Keyboard       [][]Button
	// ForceReply asks the client to open a reply to this message.
	ForceReply  bool
	Placeholder string
}

// Member statuses returned by MemberStatus.
const (
	MemberCreator       = "creator"
	MemberAdministrator = "administrator"
	MemberMember        = "member"
	MemberRestricted    = "restricted"
	MemberLeft          = "left"
	MemberKicked        = "kicked"
)

var (
	// ErrNotModified: an edit carried the text the message already has.
	ErrNotModified = errors.New("transport: message not modified")
	// ErrMessageNotFound: the message to edit or delete is gone.
	ErrMessageNotFound = errors.New("transport: message not found")
	// ErrBlocked: the user blocked the bot or the chat no longer exists.
	ErrBlocked = errors.New("transport: recipient unreachable")
)

// Adapter is a chat platform connection.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, photo, caption string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error

	// MemberStatus reports userID's status in chat, addressed by
	// "@username" or numeric id.
	MemberStatus(ctx context.Context, chat string, userID int64) (string, error)
}

// BotCommand is a single entry of the platform's command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters with a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
