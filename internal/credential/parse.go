package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyDump     = errors.New("credential: empty request dump")
	ErrMissingFields = errors.New("credential: fetch_token and app_transaction are required")
	ErrMalformedBody = errors.New("credential: malformed body")
)

// IsParseError reports whether err came from reading a request dump.
func IsParseError(err error) bool {
	return errors.Is(err, ErrEmptyDump) || errors.Is(err, ErrMissingFields) || errors.Is(err, ErrMalformedBody)
}

// ParseRequestDump extracts a Secret from a captured HTTP request.
//
// The dump is a header block, one blank line, then a JSON body. The
// x-post-params-hash, x-headers-hash and x-is-sandbox headers are read
// from the header block. Without a blank line the whole text is the body.
func ParseRequestDump(text string) (Secret, Mode, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return Secret{}, "", ErrEmptyDump
	}

	var sec Secret
	mode := ModeProduction
	body := text

	if head, rest, ok := strings.Cut(text, "\n\n"); ok && strings.TrimSpace(rest) != "" {
		body = strings.TrimSpace(rest)
		for _, line := range strings.Split(head, "\n") {
			name, value, found := strings.Cut(line, ":")
			if !found {
				continue
			}
			value = strings.TrimSpace(value)
			switch strings.ToLower(strings.TrimSpace(name)) {
			case "x-post-params-hash":
				sec.HashParams = value
			case "x-headers-hash":
				sec.HashHeaders = value
			case "x-is-sandbox":
				if strings.EqualFold(value, "true") {
					mode = ModeSandbox
				}
			}
		}
	}

	var payload struct {
		FetchToken     string `json:"fetch_token"`
		AppTransaction string `json:"app_transaction"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return Secret{}, "", fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}
	if payload.FetchToken == "" || payload.AppTransaction == "" {
		return Secret{}, "", ErrMissingFields
	}
	sec.FetchToken = payload.FetchToken
	sec.AppTransaction = payload.AppTransaction
	return sec, mode, nil
}
