package bot

import (
	"context"

	"restorebot/internal/dispatch"
	kit "restorebot/internal/transport"
	logx "restorebot/pkg/logx"
)

// Channel is a chat users must have joined.
type Channel struct {
	ID   string // "@username" or numeric id
	Name string
	Link string
}

// MemberChecker is the slice of the transport adapter the gate needs.
type MemberChecker interface {
	MemberStatus(ctx context.Context, chat string, userID int64) (string, error)
}

// ChannelGate requires membership in every configured channel. A lookup
// error counts as not joined.
type ChannelGate struct {
	members  MemberChecker
	channels []Channel
	log      logx.Logger
}

var _ dispatch.Gate = (*ChannelGate)(nil)

func NewChannelGate(members MemberChecker, channels []Channel, log logx.Logger) *ChannelGate {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ChannelGate{members: members, channels: channels, log: log.With(logx.String("comp", "gate"))}
}

// Missing returns the channels userID has not joined.
func (g *ChannelGate) Missing(ctx context.Context, userID int64) []Channel {
	if g == nil {
		return nil
	}
	var out []Channel
	for _, ch := range g.channels {
		st, err := g.members.MemberStatus(ctx, ch.ID, userID)
		if err != nil {
			g.log.Debug("member lookup failed", logx.String("chat", ch.ID), logx.Int64("user_id", userID), logx.Err(err))
			out = append(out, ch)
			continue
		}
		if st == kit.MemberLeft || st == kit.MemberKicked {
			out = append(out, ch)
		}
	}
	return out
}

// Check implements dispatch.Gate.
func (g *ChannelGate) Check(ctx context.Context, userID int64) ([]string, error) {
	var ids []string
	for _, ch := range g.Missing(ctx, userID) {
		ids = append(ids, ch.ID)
	}
	return ids, nil
}
