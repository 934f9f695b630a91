package adapter

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "restorebot/internal/transport"
)

func TestSplitTextShortPassesThrough(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"hello"}, splitText("hello", 10, ""))
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, splitText(s, 10, ""))
}

func TestSplitTextKeepsHTMLTagsWhole(t *testing.T) {
	t.Parallel()
	s := "abcdefg<b>bold</b>"
	chunks := splitText(s, 9, "HTML")
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, "abcdefg", chunks[0])
	assert.Equal(t, s, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 9)
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()
	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(errors.New("telegram: Bad Request: message is not modified: specified new message content")), kit.ErrNotModified)
	assert.ErrorIs(t, mapError(errors.New("telegram: Bad Request: message to edit not found (400)")), kit.ErrMessageNotFound)
	assert.ErrorIs(t, mapError(errors.New("telegram: Forbidden: bot was blocked by the user (403)")), kit.ErrBlocked)

	other := errors.New("telegram: Too Many Requests")
	assert.Same(t, other, mapError(other))
}

func TestMapErrorTypedTelebotErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want error
	}{
		{tele.ErrSameMessageContent, kit.ErrNotModified},
		{tele.ErrNotFoundToDelete, kit.ErrMessageNotFound},
		{tele.ErrCantEditMessage, kit.ErrMessageNotFound},
		{tele.ErrBlockedByUser, kit.ErrBlocked},
		{tele.ErrChatNotFound, kit.ErrBlocked},
		{tele.ErrUserIsDeactivated, kit.ErrBlocked},
	}
	for _, tc := range cases {
		got := mapError(fmt.Errorf("send: %w", tc.err))
		assert.ErrorIs(t, got, tc.want, tc.err.Error())
		assert.ErrorIs(t, got, tc.err, "original error stays in the chain")
	}
}

func TestMarkup(t *testing.T) {
	t.Parallel()
	assert.Nil(t, markup(nil))
	assert.Nil(t, markup(&kit.SendOptions{ParseMode: "HTML"}))

	rm := markup(&kit.SendOptions{Keyboard: [][]kit.Button{
		{{Text: "Upgrade", Data: "upg|1|bob"}},
		{{Text: "Join", URL: "https://t.me/news"}},
	}})
	require.NotNil(t, rm)
	require.Len(t, rm.InlineKeyboard, 2)
	assert.Equal(t, "upg|1|bob", rm.InlineKeyboard[0][0].Data)
	assert.Equal(t, "https://t.me/news", rm.InlineKeyboard[1][0].URL)

	fr := markup(&kit.SendOptions{ForceReply: true, Placeholder: "Username..."})
	require.NotNil(t, fr)
	assert.True(t, fr.ForceReply)
	assert.Equal(t, "Username...", fr.Placeholder)
}
