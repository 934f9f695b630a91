package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restorebot/internal/credential"
)

func TestPoolRoundRobin(t *testing.T) {
	t.Parallel()
	p := NewPool(cred("a", "1"), cred("b", "2"), cred("c", "3"))

	var got []string
	for range 4 {
		c, err := p.Next()
		require.NoError(t, err)
		got = append(got, c.Name)
	}
	assert.Equal(t, []string{"a", "b", "c", "a"}, got)
}

func TestPoolRoundRobinAcrossRemoval(t *testing.T) {
	t.Parallel()
	p := NewPool(cred("a", "1"), cred("b", "2"), cred("c", "3"))
	_, _ = p.Next() // a, counter=1

	removed, err := p.RemoveAt(0)
	require.NoError(t, err)
	assert.Equal(t, "a", removed.Name)

	c, err := p.Next() // 1 % 2
	require.NoError(t, err)
	assert.Equal(t, "c", c.Name)
}

func TestPoolEmptyAndBounds(t *testing.T) {
	t.Parallel()
	p := NewPool()
	_, err := p.Next()
	assert.ErrorIs(t, err, ErrCredentialUnavailable)

	p.Append(cred("a", "1"))
	_, err = p.RemoveAt(1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = p.RemoveAt(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Equal(t, 1, p.Len())
}

func TestPoolRefreshKeepsFailedMaterial(t *testing.T) {
	t.Parallel()
	p := NewPool(cred("a", "old-a"), cred("b", "old-b"))
	r := &refresherFunc{fn: func(c credential.Credential) (credential.Secret, error) {
		if c.Name == "b" {
			return credential.Secret{}, errors.New("upstream 500")
		}
		s := c.Secret
		s.FetchToken = "new-a"
		return s, nil
	}}

	refreshed, err := p.RefreshAll(context.Background(), r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `refresh "b"`)
	require.Len(t, refreshed, 1)
	assert.Equal(t, "new-a", refreshed[0].Secret.FetchToken)

	snap := p.Snapshot()
	assert.Equal(t, "new-a", snap[0].Secret.FetchToken)
	assert.Equal(t, "old-b", snap[1].Secret.FetchToken)
}

func TestPoolRefreshWithoutRefresher(t *testing.T) {
	t.Parallel()
	_, err := NewPool(cred("a", "1")).RefreshAll(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoRefresher)
}
