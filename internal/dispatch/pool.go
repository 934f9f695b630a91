package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"restorebot/internal/credential"
)

// Pool rotates credentials round robin. The index is taken against the
// pool size at the moment of selection, so appends and removals between
// calls are safe.
type Pool struct {
	mu      sync.Mutex
	entries []poolEntry
	counter uint64
	seq     uint64

	refresh singleflight.Group
}

// poolEntry carries a slot key so refresh results land on the right
// credential even if the pool changed while refreshing.
type poolEntry struct {
	slot uint64
	cred credential.Credential
}

func NewPool(creds ...credential.Credential) *Pool {
	p := &Pool{}
	for _, c := range creds {
		p.Append(c)
	}
	return p
}

// Next returns entries[counter % len] and advances the counter.
func (p *Pool) Next() (credential.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == 0 {
		return credential.Credential{}, ErrCredentialUnavailable
	}
	idx := p.counter % uint64(len(p.entries))
	p.counter++
	return p.entries[idx].cred, nil
}

func (p *Pool) Append(c credential.Credential) {
	p.mu.Lock()
	p.seq++
	p.entries = append(p.entries, poolEntry{slot: p.seq, cred: c})
	p.mu.Unlock()
}

// RemoveAt removes the credential at the 0-based index and returns it.
func (p *Pool) RemoveAt(i int) (credential.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.entries) {
		return credential.Credential{}, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, len(p.entries))
	}
	removed := p.entries[i].cred
	p.entries = append(p.entries[:i], p.entries[i+1:]...)
	return removed, nil
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool) Snapshot() []credential.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]credential.Credential, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.cred
	}
	return out
}

// RefreshAll re-derives the secret of every credential through r and
// returns the ones that changed. A credential whose refresh fails keeps
// its old material; those errors are joined into the returned error.
//
// Refresh calls run without the pool lock. Concurrent callers share one
// in-flight refresh.
func (p *Pool) RefreshAll(ctx context.Context, r Refresher) ([]credential.Credential, error) {
	if r == nil {
		return nil, ErrNoRefresher
	}
	v, err, _ := p.refresh.Do("all", func() (any, error) {
		return p.refreshAll(ctx, r)
	})
	refreshed, _ := v.([]credential.Credential)
	return refreshed, err
}

func (p *Pool) refreshAll(ctx context.Context, r Refresher) ([]credential.Credential, error) {
	p.mu.Lock()
	snap := append([]poolEntry(nil), p.entries...)
	p.mu.Unlock()

	updates := make(map[uint64]credential.Secret, len(snap))
	var errs []error
	for _, e := range snap {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		sec, err := r.Refresh(ctx, e.cred)
		if err != nil {
			errs = append(errs, fmt.Errorf("refresh %q: %w", e.cred.Name, err))
			continue
		}
		updates[e.slot] = sec
	}

	p.mu.Lock()
	refreshed := make([]credential.Credential, 0, len(updates))
	for i := range p.entries {
		if sec, ok := updates[p.entries[i].slot]; ok {
			p.entries[i].cred.Secret = sec
			refreshed = append(refreshed, p.entries[i].cred)
		}
	}
	p.mu.Unlock()

	return refreshed, errors.Join(errs...)
}
