package restore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"restorebot/internal/credential"
	"restorebot/internal/dispatch"
	logx "restorebot/pkg/logx"
	"restorebot/pkg/tgui"
)

var (
	ErrUserNotFound = errors.New("restore: user not found")
	// ErrNotEntitled: the receipt was accepted but the target did not end
	// up with the expected product.
	ErrNotEntitled = errors.New("restore: entitlement not granted")
)

// HTTPError is a non-2xx answer from the service.
type HTTPError struct {
	Op     string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("restore: %s: http %d", e.Op, e.Status)
	}
	return fmt.Sprintf("restore: %s: http %d: %s", e.Op, e.Status, e.Body)
}

type Config struct {
	BaseURL   string
	ProductID string // default "locket_1600_1y"
	UserAgent string
	Timeout   time.Duration // per HTTP call; default 30s
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

var (
	_ dispatch.Executor  = (*Client)(nil)
	_ dispatch.Refresher = (*Client)(nil)
)

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("restore: base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("restore: base url: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ProductID == "" {
		cfg.ProductID = "locket_1600_1y"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "restorebot/1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, http: hc, log: log.With(logx.String("comp", "restore"))}, nil
}

func (c *Client) ProductID() string { return c.cfg.ProductID }

// Account is a resolved target.
type Account struct {
	UID      string
	Username string
}

// Entitlement is the target's current subscription state.
type Entitlement struct {
	ProductID string
	Expires   string
	Active    bool
}

type userResponse struct {
	Result struct {
		Data struct {
			UID string `json:"uid"`
		} `json:"data"`
	} `json:"result"`
}

type subscriberResponse struct {
	Subscriber struct {
		Entitlements map[string]struct {
			ProductIdentifier string `json:"product_identifier"`
			ExpiresDate       string `json:"expires_date"`
		} `json:"entitlements"`
	} `json:"subscriber"`
}

type receiptRequest struct {
	FetchToken     string `json:"fetch_token"`
	AppTransaction string `json:"app_transaction"`
	AppUserID      string `json:"app_user_id,omitempty"`
}

type refreshResponse struct {
	FetchToken     string `json:"fetch_token"`
	AppTransaction string `json:"app_transaction,omitempty"`
}

const entitlementKey = "Gold"

// Resolve maps a username or share link to an account.
func (c *Client) Resolve(ctx context.Context, input string) (Account, error) {
	name := NormalizeUsername(input)
	if name == "" {
		return Account{}, ErrUserNotFound
	}
	var out userResponse
	err := c.do(ctx, "resolve", http.MethodGet, "/users/by-username/"+url.PathEscape(name), nil, nil, &out)
	var he *HTTPError
	if errors.As(err, &he) && he.Status == http.StatusNotFound {
		return Account{}, ErrUserNotFound
	}
	if err != nil {
		return Account{}, err
	}
	if out.Result.Data.UID == "" {
		return Account{}, ErrUserNotFound
	}
	return Account{UID: out.Result.Data.UID, Username: name}, nil
}

// Status reads the account's entitlement.
func (c *Client) Status(ctx context.Context, uid string) (Entitlement, error) {
	var out subscriberResponse
	if err := c.do(ctx, "status", http.MethodGet, "/subscribers/"+url.PathEscape(uid), nil, nil, &out); err != nil {
		return Entitlement{}, err
	}
	return c.entitlement(out, time.Now()), nil
}

func (c *Client) entitlement(r subscriberResponse, now time.Time) Entitlement {
	e, ok := r.Subscriber.Entitlements[entitlementKey]
	if !ok {
		return Entitlement{}
	}
	ent := Entitlement{ProductID: e.ProductIdentifier, Expires: e.ExpiresDate}
	if e.ProductIdentifier != c.cfg.ProductID {
		return ent
	}
	ent.Active = true
	if e.ExpiresDate != "" {
		if t, err := time.Parse(time.RFC3339, e.ExpiresDate); err == nil && t.Before(now) {
			ent.Active = false
		}
	}
	return ent
}

// Run replays cred's receipt for uid. The returned detail is the new
// expiry date, or the product id when the service reports none.
func (c *Client) Run(ctx context.Context, uid string, cred credential.Credential, progress dispatch.Progress) (string, error) {
	step := func(s string) {
		if progress != nil {
			progress(s)
		}
	}
	step(fmt.Sprintf("Sending receipt with %s", cred.Name))

	var out subscriberResponse
	body := receiptRequest{
		FetchToken:     cred.Secret.FetchToken,
		AppTransaction: cred.Secret.AppTransaction,
		AppUserID:      uid,
	}
	if err := c.do(ctx, "run", http.MethodPost, "/receipts", c.credHeaders(cred, uid), body, &out); err != nil {
		return "", err
	}

	step("Checking entitlement")
	ent := c.entitlement(out, time.Now())
	if ent.ProductID != c.cfg.ProductID {
		c.log.Info("restore not entitled", logx.String("uid", uid), logx.String("product", ent.ProductID))
		return "", ErrNotEntitled
	}
	step("Entitlement granted")
	if ent.Expires == "" {
		return ent.ProductID, nil
	}
	return ent.Expires, nil
}

// Refresh asks the service for fresh secret material. Fields the answer
// leaves empty keep their old values.
func (c *Client) Refresh(ctx context.Context, cred credential.Credential) (credential.Secret, error) {
	var out refreshResponse
	body := receiptRequest{FetchToken: cred.Secret.FetchToken, AppTransaction: cred.Secret.AppTransaction}
	if err := c.do(ctx, "refresh", http.MethodPost, "/receipts/refresh", c.credHeaders(cred, ""), body, &out); err != nil {
		return credential.Secret{}, err
	}
	if out.FetchToken == "" {
		return credential.Secret{}, fmt.Errorf("restore: refresh %q: empty fetch_token", cred.Name)
	}
	sec := cred.Secret
	sec.FetchToken = out.FetchToken
	if out.AppTransaction != "" {
		sec.AppTransaction = out.AppTransaction
	}
	return sec, nil
}

func (c *Client) credHeaders(cred credential.Credential, uid string) http.Header {
	h := http.Header{}
	if cred.Secret.HashParams != "" {
		h.Set("X-Post-Params-Hash", cred.Secret.HashParams)
	}
	if cred.Secret.HashHeaders != "" {
		h.Set("X-Headers-Hash", cred.Secret.HashHeaders)
	}
	if cred.Sandbox() {
		h.Set("X-Is-Sandbox", "true")
	} else {
		h.Set("X-Is-Sandbox", "false")
	}
	if uid != "" {
		h.Set("X-App-User-Id", uid)
	}
	return h
}

// do sends one JSON request. 401 and 403 wrap credential.ErrExpired.
func (c *Client) do(ctx context.Context, op, method, path string, hdr http.Header, in, out any) error {
	var rd io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("restore: %s: encode: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("restore: %s: %w", op, err)
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("restore: %s: %w", op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("restore: %s: read body: %w", op, err)
	}
	c.log.Debug("upstream call", logx.String("op", op), logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %w", credential.ErrExpired, &HTTPError{Op: op, Status: resp.StatusCode, Body: snippet(raw)})
	}
	if resp.StatusCode >= 300 {
		return &HTTPError{Op: op, Status: resp.StatusCode, Body: snippet(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("restore: %s: decode: %w", op, err)
	}
	return nil
}

func snippet(b []byte) string {
	return tgui.TruncRunes(strings.TrimSpace(string(b)), 200)
}
