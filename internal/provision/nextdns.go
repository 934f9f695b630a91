// Package provision creates the DNS profile handed to a user after a
// successful restore.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"restorebot/internal/dispatch"
	logx "restorebot/pkg/logx"
)

var ErrNoAPIKey = errors.New("provision: api key is not configured")

type Config struct {
	APIKey      string
	BaseURL     string // default https://api.nextdns.io
	ProfileName string // default "Locket Gold"
	LinkBase    string // default https://apple.nextdns.io/?profile=
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// NextDNS creates one profile per call.
type NextDNS struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

var _ dispatch.Companion = (*NextDNS)(nil)

func NewNextDNS(cfg Config, log logx.Logger) *NextDNS {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.nextdns.io"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ProfileName == "" {
		cfg.ProfileName = "Locket Gold"
	}
	if cfg.LinkBase == "" {
		cfg.LinkBase = "https://apple.nextdns.io/?profile="
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &NextDNS{cfg: cfg, http: hc, log: log.With(logx.String("comp", "provision"))}
}

type profileRequest struct {
	Name string `json:"name"`
}

type profileResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	Errors []struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// Provision creates a profile and returns its id and setup link.
func (n *NextDNS) Provision(ctx context.Context, progress dispatch.Progress) (dispatch.Resource, error) {
	if n.cfg.APIKey == "" {
		return dispatch.Resource{}, ErrNoAPIKey
	}
	if progress != nil {
		progress("Creating DNS profile")
	}

	body, err := json.Marshal(profileRequest{Name: n.cfg.ProfileName})
	if err != nil {
		return dispatch.Resource{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.BaseURL+"/profiles", bytes.NewReader(body))
	if err != nil {
		return dispatch.Resource{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", n.cfg.APIKey)

	resp, err := n.http.Do(req)
	if err != nil {
		return dispatch.Resource{}, fmt.Errorf("provision: create profile: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var out profileResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode >= 300 || len(out.Errors) > 0 {
		reason := resp.Status
		if len(out.Errors) > 0 {
			reason = out.Errors[0].Code
		}
		return dispatch.Resource{}, fmt.Errorf("provision: create profile failed: %s", reason)
	}
	if out.Data.ID == "" {
		return dispatch.Resource{}, errors.New("provision: create profile: empty id")
	}

	n.log.Info("dns profile created", logx.String("profile", out.Data.ID))
	if progress != nil {
		progress("DNS profile " + out.Data.ID + " ready")
	}
	return dispatch.Resource{ID: out.Data.ID, Link: n.cfg.LinkBase + out.Data.ID}, nil
}
