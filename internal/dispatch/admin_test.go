package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restorebot/internal/storage"
	"restorebot/internal/transport"
)

const dump = "POST /receipts HTTP/1.1\n" +
	"X-Post-Params-Hash: p\n" +
	"\n" +
	`{"fetch_token":"ft","app_transaction":"tx"}`

func transportRef(chat int64, id int) transport.MessageRef {
	return transport.MessageRef{ChatID: chat, MessageID: id}
}

func TestAddAndRemoveCredential(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, testConfig(), Deps{})

	_, err := h.c.AddCredential(ctx, 2, "x", dump)
	assert.ErrorIs(t, err, ErrForbidden)

	added, err := h.c.AddCredential(ctx, 1, "", dump)
	require.NoError(t, err)
	assert.NotZero(t, added.ID)
	assert.Equal(t, "Token 1", added.Name)
	assert.Equal(t, "p", added.Secret.HashParams)
	assert.Equal(t, 1, h.c.Pool().Len())

	_, err = h.c.AddCredential(ctx, 1, "again", dump)
	assert.ErrorIs(t, err, storage.ErrDuplicate)
	assert.Equal(t, 1, h.c.Pool().Len())

	_, err = h.c.RemoveCredential(ctx, 1, 2)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	removed, err := h.c.RemoveCredential(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, added.ID, removed.ID)
	assert.Zero(t, h.c.Pool().Len())

	stored, err := h.store.ListCredentials(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRestoreLoadsPersistedState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, testConfig(), Deps{})
	_, err := h.store.SaveCredential(ctx, cred("stored", "1"))
	require.NoError(t, err)
	require.NoError(t, h.store.SetConfig(ctx, storage.KeyBotEnabled, "0"))
	require.NoError(t, h.store.SetConfig(ctx, storage.KeyDailyLimit, "9"))

	require.NoError(t, h.c.Restore(ctx))
	assert.False(t, h.c.Enabled())
	assert.Equal(t, 9, h.c.Quota().Limit())
	require.Len(t, h.c.Credentials(), 1)
	assert.Equal(t, "stored", h.c.Credentials()[0].Name)
}

func TestSetDailyLimitPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, testConfig(), Deps{})
	assert.Error(t, h.c.SetDailyLimit(ctx, 0))
	require.NoError(t, h.c.SetDailyLimit(ctx, 7))
	v, err := h.store.GetConfig(ctx, storage.KeyDailyLimit, "")
	require.NoError(t, err)
	assert.Equal(t, "7", v)
	assert.Equal(t, 7, h.c.Quota().Limit())
}
