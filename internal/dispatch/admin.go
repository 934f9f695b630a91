package dispatch

import (
	"context"
	"fmt"
	"strings"

	"restorebot/internal/credential"
	"restorebot/internal/eventbus"
	logx "restorebot/pkg/logx"
)

// LoadCredentials fills the pool from the store, after any credentials
// already appended from static configuration.
func (c *Controller) LoadCredentials(ctx context.Context) error {
	creds, err := c.store.ListCredentials(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	for _, cr := range creds {
		c.pool.Append(cr)
	}
	c.log.Info("credentials loaded", logx.Int("stored", len(creds)), logx.Int("pool", c.pool.Len()))
	return nil
}

// AddCredential parses a captured request dump, persists it and appends it
// to the pool. Only the super-admin may call it.
func (c *Controller) AddCredential(ctx context.Context, actor int64, name, raw string) (credential.Credential, error) {
	if !c.quota.IsSuperAdmin(actor) {
		return credential.Credential{}, ErrForbidden
	}
	sec, mode, err := credential.ParseRequestDump(raw)
	if err != nil {
		return credential.Credential{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Token %d", c.pool.Len()+1)
	}
	saved, err := c.store.SaveCredential(ctx, credential.Credential{
		Name:      name,
		Secret:    sec,
		Mode:      mode,
		CreatedAt: c.cfg.Now(),
	})
	if err != nil {
		return credential.Credential{}, err
	}
	c.pool.Append(saved)
	c.log.Info("credential added",
		logx.Int64("id", saved.ID),
		logx.String("name", saved.Name),
		logx.String("mode", string(saved.Mode)),
		logx.String("fingerprint", sec.Fingerprint()),
	)
	return saved, nil
}

// RemoveCredential drops the credential at the 1-based index shown by
// Credentials and deletes it from the store when it was persisted.
func (c *Controller) RemoveCredential(ctx context.Context, actor int64, index int) (credential.Credential, error) {
	if !c.quota.IsSuperAdmin(actor) {
		return credential.Credential{}, ErrForbidden
	}
	removed, err := c.pool.RemoveAt(index - 1)
	if err != nil {
		return credential.Credential{}, err
	}
	if removed.ID != 0 {
		if _, err := c.store.DeleteCredential(ctx, removed.ID); err != nil {
			return removed, fmt.Errorf("delete credential %d: %w", removed.ID, err)
		}
	}
	c.log.Info("credential removed", logx.Int64("id", removed.ID), logx.String("name", removed.Name))
	return removed, nil
}

// Credentials lists the pool in rotation order.
func (c *Controller) Credentials() []credential.Credential { return c.pool.Snapshot() }

// RefreshCredentials refreshes the whole pool on demand, e.g. from a
// scheduled job.
func (c *Controller) RefreshCredentials(ctx context.Context) (int, error) {
	refreshed, err := c.refreshPool(ctx)
	return len(refreshed), err
}

func (c *Controller) refreshPool(ctx context.Context) ([]credential.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RefreshTimeout)
	defer cancel()

	refreshed, err := c.pool.RefreshAll(ctx, c.refresher)
	for _, cr := range refreshed {
		if cr.ID == 0 {
			continue
		}
		if perr := c.store.UpdateCredentialSecret(ctx, cr.ID, cr.Secret); perr != nil {
			c.log.Warn("persist refreshed credential failed", logx.Int64("id", cr.ID), logx.Err(perr))
		}
	}
	if len(refreshed) > 0 {
		c.counters.refreshes.Add(1)
		c.bus.Publish(eventbus.Event{Type: eventbus.CredentialsRefreshed, Data: len(refreshed)})
	}
	c.log.Info("credential pool refreshed", logx.Int("refreshed", len(refreshed)), logx.Int("pool", c.pool.Len()), logx.Err(err))
	return refreshed, err
}
