// Package credential models the rotating secret bundles the restore
// executor authenticates with, and parses them out of captured requests.
package credential

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/zeebo/blake3"
)

// Mode selects which environment of the external service a credential targets.
type Mode string

const (
	ModeProduction Mode = "production"
	ModeSandbox    Mode = "sandbox"
)

// Secret is the material the executor sends upstream. Refresh replaces it
// wholesale.
type Secret struct {
	FetchToken     string `json:"fetch_token"`
	AppTransaction string `json:"app_transaction"`
	HashParams     string `json:"hash_params,omitempty"`
	HashHeaders    string `json:"hash_headers,omitempty"`
}

// Credential is one entry of the pool. ID is the durable record id;
// zero means the credential came from static config and is not persisted.
type Credential struct {
	ID        int64
	Name      string
	Secret    Secret
	Mode      Mode
	CreatedAt time.Time
}

func (c Credential) Sandbox() bool { return c.Mode == ModeSandbox }

// Fingerprint identifies the secret material without exposing it.
// Two credentials with the same fetch token and transaction collide.
func (s Secret) Fingerprint() string {
	h := blake3.New()
	_, _ = h.Write([]byte(s.FetchToken))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(s.AppTransaction))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// Preview returns the first n runes of the fetch token for admin listings.
func (s Secret) Preview(n int) string {
	r := []rune(s.FetchToken)
	if n <= 0 || len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

// ErrExpired is returned by executors when the upstream service rejects
// the credential as expired or revoked.
var ErrExpired = errors.New("credential expired")
