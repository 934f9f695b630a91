package credential

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestDumpWithHeaders(t *testing.T) {
	t.Parallel()
	dump := "POST /v1/receipts HTTP/1.1\r\n" +
		"Host: api.example.com\r\n" +
		"X-Post-Params-Hash: abc123\r\n" +
		"x-headers-hash: def456\r\n" +
		"X-Is-Sandbox: TRUE\r\n" +
		"\r\n" +
		`{"fetch_token":"ft-1","app_transaction":"tx-1","extra":true}`

	sec, mode, err := ParseRequestDump(dump)
	require.NoError(t, err)
	assert.Equal(t, "ft-1", sec.FetchToken)
	assert.Equal(t, "tx-1", sec.AppTransaction)
	assert.Equal(t, "abc123", sec.HashParams)
	assert.Equal(t, "def456", sec.HashHeaders)
	assert.Equal(t, ModeSandbox, mode)
}

func TestParseRequestDumpBareJSON(t *testing.T) {
	t.Parallel()
	sec, mode, err := ParseRequestDump(`  {"fetch_token":"a","app_transaction":"b"}  `)
	require.NoError(t, err)
	assert.Equal(t, ModeProduction, mode)
	assert.Equal(t, "a", sec.FetchToken)
	assert.Empty(t, sec.HashParams)
}

func TestParseRequestDumpRejectsIncomplete(t *testing.T) {
	t.Parallel()
	_, _, err := ParseRequestDump(`{"fetch_token":"only"}`)
	assert.True(t, errors.Is(err, ErrMissingFields))

	_, _, err = ParseRequestDump("   ")
	assert.True(t, errors.Is(err, ErrEmptyDump))

	_, _, err = ParseRequestDump("Header: x\n\nnot json")
	assert.Error(t, err)
}

func TestFingerprintStableAndDistinct(t *testing.T) {
	t.Parallel()
	a := Secret{FetchToken: "ft", AppTransaction: "tx", HashParams: "p"}
	b := Secret{FetchToken: "ft", AppTransaction: "tx"}
	c := Secret{FetchToken: "ftt", AppTransaction: "x"}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Len(t, a.Fingerprint(), 32)
}

func TestPreview(t *testing.T) {
	t.Parallel()
	s := Secret{FetchToken: "0123456789"}
	assert.Equal(t, "01234...", s.Preview(5))
	assert.Equal(t, "0123456789", s.Preview(30))
}
