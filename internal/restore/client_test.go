package restore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restorebot/internal/credential"
	logx "restorebot/pkg/logx"
)

func newClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/"}, logx.Nop())
	require.NoError(t, err)
	return c
}

func testCred() credential.Credential {
	return credential.Credential{
		Name: "Token 1",
		Mode: credential.ModeSandbox,
		Secret: credential.Secret{
			FetchToken:     "ft",
			AppTransaction: "tx",
			HashParams:     "hp",
			HashHeaders:    "hh",
		},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNormalizeUsername(t *testing.T) {
	cases := map[string]string{
		"alice":                           "alice",
		"  @bob ":                         "bob",
		"https://locket.cam/carol":        "carol",
		"https://locket.cam/dave?ref=abc": "dave",
		"locket.cam/erin/":                "erin",
		"":                                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeUsername(in), in)
	}
}

func TestResolve(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/by-username/{name}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("name") {
		case "alice":
			writeJSON(w, map[string]any{"result": map[string]any{"data": map[string]any{"uid": "uid-alice"}}})
		case "empty":
			writeJSON(w, map[string]any{"result": map[string]any{}})
		default:
			http.NotFound(w, r)
		}
	})
	c := newClient(t, mux)

	acc, err := c.Resolve(context.Background(), "https://locket.cam/alice?x=1")
	require.NoError(t, err)
	assert.Equal(t, Account{UID: "uid-alice", Username: "alice"}, acc)

	_, err = c.Resolve(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = c.Resolve(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = c.Resolve(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /subscribers/{uid}", func(w http.ResponseWriter, r *http.Request) {
		ent := map[string]any{}
		switch r.PathValue("uid") {
		case "gold":
			ent["Gold"] = map[string]any{"product_identifier": "locket_1600_1y", "expires_date": "2999-01-01T00:00:00Z"}
		case "lapsed":
			ent["Gold"] = map[string]any{"product_identifier": "locket_1600_1y", "expires_date": "2001-01-01T00:00:00Z"}
		}
		writeJSON(w, map[string]any{"subscriber": map[string]any{"entitlements": ent}})
	})
	c := newClient(t, mux)

	st, err := c.Status(context.Background(), "gold")
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.Equal(t, "2999-01-01T00:00:00Z", st.Expires)

	st, err = c.Status(context.Background(), "lapsed")
	require.NoError(t, err)
	assert.False(t, st.Active)

	st, err = c.Status(context.Background(), "free")
	require.NoError(t, err)
	assert.Equal(t, Entitlement{}, st)
}

func TestRunSendsCredentialAndReturnsExpiry(t *testing.T) {
	var (
		gotHeaders http.Header
		gotBody    receiptRequest
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /receipts", func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, map[string]any{"subscriber": map[string]any{"entitlements": map[string]any{
			"Gold": map[string]any{"product_identifier": "locket_1600_1y", "expires_date": "2027-01-01"},
		}}})
	})
	c := newClient(t, mux)

	var lines []string
	detail, err := c.Run(context.Background(), "uid-1", testCred(), func(l string) { lines = append(lines, l) })
	require.NoError(t, err)
	assert.Equal(t, "2027-01-01", detail)
	assert.NotEmpty(t, lines)

	assert.Equal(t, "hp", gotHeaders.Get("X-Post-Params-Hash"))
	assert.Equal(t, "hh", gotHeaders.Get("X-Headers-Hash"))
	assert.Equal(t, "true", gotHeaders.Get("X-Is-Sandbox"))
	assert.Equal(t, "uid-1", gotHeaders.Get("X-App-User-Id"))
	assert.Equal(t, receiptRequest{FetchToken: "ft", AppTransaction: "tx", AppUserID: "uid-1"}, gotBody)
}

func TestRunWrongProductIsNotEntitled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /receipts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"subscriber": map[string]any{"entitlements": map[string]any{
			"Gold": map[string]any{"product_identifier": "other"},
		}}})
	})
	c := newClient(t, mux)

	_, err := c.Run(context.Background(), "uid-1", testCred(), nil)
	assert.ErrorIs(t, err, ErrNotEntitled)
}

func TestRejectedCredentialIsExpired(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /receipts", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "token expired", code)
		})
		c := newClient(t, mux)

		_, err := c.Run(context.Background(), "uid-1", testCred(), nil)
		require.ErrorIs(t, err, credential.ErrExpired)
		var he *HTTPError
		require.True(t, errors.As(err, &he))
		assert.Equal(t, code, he.Status)
	}
}

func TestServerErrorIsNotExpiry(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /receipts", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	c := newClient(t, mux)

	_, err := c.Run(context.Background(), "uid-1", testCred(), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, credential.ErrExpired)
}

func TestRefresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /receipts/refresh", func(w http.ResponseWriter, r *http.Request) {
		var in receiptRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.FetchToken == "dead" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"fetch_token": "ft-2"})
	})
	c := newClient(t, mux)

	sec, err := c.Refresh(context.Background(), testCred())
	require.NoError(t, err)
	assert.Equal(t, "ft-2", sec.FetchToken)
	assert.Equal(t, "tx", sec.AppTransaction)
	assert.Equal(t, "hp", sec.HashParams)

	dead := testCred()
	dead.Secret.FetchToken = "dead"
	_, err = c.Refresh(context.Background(), dead)
	assert.ErrorIs(t, err, credential.ErrExpired)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{}, logx.Nop())
	assert.Error(t, err)
}

func TestSnippetCutsOnRuneBoundary(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "short body", snippet([]byte("  short body\n")))

	long := strings.Repeat("a", 199) + strings.Repeat("é", 10)
	s := snippet([]byte(long))
	assert.True(t, utf8.ValidString(s))
	assert.Equal(t, strings.Repeat("a", 199)+"é…", s)
}
