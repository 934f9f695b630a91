package tgui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderEscapesPlainText(t *testing.T) {
	got := New().
		Title("✅", "Done <now>").
		KV("User", Code("a&b")).
		Line("1 < 2").
		Blank().
		String()
	assert.Equal(t, "✅ <b>Done &lt;now&gt;</b>\n• <b>User</b>: <code>a&amp;b</code>\n1 &lt; 2", got)
}

func TestTruncRunes(t *testing.T) {
	assert.Equal(t, "héll…", TruncRunes("héllo world", 4))
	assert.Equal(t, "hi", TruncRunes("hi", 4))
	assert.Equal(t, "", TruncRunes("hi", 0))
}

func TestTruncBytesKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "h", TruncBytes("hé", 2))
	assert.Equal(t, "hé", TruncBytes("hé", 3))
}

func TestDataFitsLimit(t *testing.T) {
	d, err := Data("upg", "uid-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "upg|uid-1|alice", d)

	long := strings.Repeat("x", 100)
	d, err = Data("upg", "uid-1", long)
	require.NoError(t, err)
	assert.Len(t, d, MaxCallbackDataLen)

	action, fields := Split(d)
	assert.Equal(t, "upg", action)
	assert.Equal(t, "uid-1", fields[0])

	_, err = Data("upg", strings.Repeat("u", 70), "x")
	assert.ErrorIs(t, err, ErrCallbackDataTooLong)
}

func TestGrid(t *testing.T) {
	k := Grid(2, Btn("a", "a"), Btn("b", "b"), URLBtn("c", "https://c"))
	rows := k.Rows()
	require.Len(t, rows, 2)
	assert.Len(t, rows[0], 2)
	assert.Equal(t, "https://c", rows[1][0].URL)
	assert.Equal(t, "HTML", k.Options().ParseMode)
}
