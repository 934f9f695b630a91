package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"restorebot/internal/credential"
	logx "restorebot/pkg/logx"
)

// fileStore keeps state in memory and, when a path is configured, rewrites
// <path> as a JSON snapshot after every mutation (tmp file + rename).
type fileStore struct {
	log  logx.Logger
	path string

	mu   sync.Mutex
	data fileData
}

type fileData struct {
	Usage       map[string]int          `json:"usage"` // "<user>|<day>"
	VIP         map[int64]time.Time     `json:"vip"`
	Credentials []credential.Credential `json:"credentials"`
	NextCredID  int64                   `json:"next_cred_id"`
	Config      map[string]string       `json:"config"`
	Requests    []RequestLog            `json:"requests"`
	Users       map[int64]time.Time     `json:"users"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	s := &fileStore{log: log, path: strings.TrimSpace(cfg.Path)}
	s.data.init()
	if s.path == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(b, &s.data); err != nil {
			return nil, err
		}
		s.data.init()
	}
	return s, nil
}

func (d *fileData) init() {
	if d.Usage == nil {
		d.Usage = map[string]int{}
	}
	if d.VIP == nil {
		d.VIP = map[int64]time.Time{}
	}
	if d.Config == nil {
		d.Config = map[string]string{}
	}
	if d.Users == nil {
		d.Users = map[int64]time.Time{}
	}
}

func usageKey(userID int64, day string) string {
	return strconv.FormatInt(userID, 10) + "|" + day
}

// persistLocked writes the snapshot. Callers hold s.mu.
func (s *fileStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	b, err := json.Marshal(&s.data)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *fileStore) GetUsage(_ context.Context, userID int64, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Usage[usageKey(userID, day)], nil
}

func (s *fileStore) IncrementUsage(_ context.Context, userID int64, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := usageKey(userID, day)
	s.data.Usage[k]++
	return s.data.Usage[k], s.persistLocked()
}

func (s *fileStore) ResetUsage(_ context.Context, userID int64, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.Usage, usageKey(userID, day))
	return s.persistLocked()
}

func (s *fileStore) PruneUsage(_ context.Context, before string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.data.Usage {
		if _, day, ok := strings.Cut(k, "|"); ok && day < before {
			delete(s.data.Usage, k)
			n++
		}
	}
	return n, s.persistLocked()
}

func (s *fileStore) IsPrivileged(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data.VIP[userID]
	return ok, nil
}

func (s *fileStore) AddPrivileged(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.VIP[userID]; !ok {
		s.data.VIP[userID] = time.Now().UTC()
	}
	return s.persistLocked()
}

func (s *fileStore) RemovePrivileged(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.VIP[userID]; !ok {
		return false, nil
	}
	delete(s.data.VIP, userID)
	return true, s.persistLocked()
}

func (s *fileStore) ListPrivileged(_ context.Context) ([]PrivilegedUser, error) {
	s.mu.Lock()
	out := make([]PrivilegedUser, 0, len(s.data.VIP))
	for id, at := range s.data.VIP {
		out = append(out, PrivilegedUser{UserID: id, AddedAt: at})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *fileStore) SaveCredential(_ context.Context, c credential.Credential) (credential.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp := c.Secret.Fingerprint()
	for _, existing := range s.data.Credentials {
		if existing.Secret.Fingerprint() == fp {
			return c, ErrDuplicate
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.data.NextCredID++
	c.ID = s.data.NextCredID
	s.data.Credentials = append(s.data.Credentials, c)
	return c, s.persistLocked()
}

func (s *fileStore) ListCredentials(_ context.Context) ([]credential.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]credential.Credential(nil), s.data.Credentials...), nil
}

func (s *fileStore) UpdateCredentialSecret(_ context.Context, id int64, sec credential.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data.Credentials {
		if s.data.Credentials[i].ID == id {
			s.data.Credentials[i].Secret = sec
			return s.persistLocked()
		}
	}
	return ErrNotFound
}

func (s *fileStore) DeleteCredential(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.data.Credentials {
		if c.ID == id {
			s.data.Credentials = append(s.data.Credentials[:i], s.data.Credentials[i+1:]...)
			return true, s.persistLocked()
		}
	}
	return false, nil
}

func (s *fileStore) GetConfig(_ context.Context, key, def string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data.Config[key]; ok {
		return v, nil
	}
	return def, nil
}

func (s *fileStore) SetConfig(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Config[key] = value
	return s.persistLocked()
}

func (s *fileStore) LogRequest(_ context.Context, r RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
	r.ID = int64(len(s.data.Requests) + 1)
	s.data.Requests = append(s.data.Requests, r)
	return s.persistLocked()
}

func (s *fileStore) RecentRequests(_ context.Context, limit int) ([]RequestLog, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RequestLog, 0, limit)
	for i := len(s.data.Requests) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.data.Requests[i])
	}
	return out, nil
}

func (s *fileStore) AggregateStats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	users := map[int64]struct{}{}
	for _, r := range s.data.Requests {
		st.Total++
		switch r.Status {
		case StatusSuccess:
			st.Success++
		case StatusFail:
			st.Fail++
		}
		users[r.UserID] = struct{}{}
	}
	st.DistinctUsers = len(users)
	return st, nil
}

func (s *fileStore) TouchUser(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Users[userID]; ok {
		return nil
	}
	s.data.Users[userID] = time.Now().UTC()
	return s.persistLocked()
}

func (s *fileStore) ListUsers(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	out := make([]int64, 0, len(s.data.Users))
	for id := range s.data.Users {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
