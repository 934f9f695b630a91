package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"restorebot/internal/credential"
	logx "restorebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLITE_BUSY out of the hot path.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetUsage(ctx context.Context, userID int64, day string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM usage_logs WHERE user_id = ? AND day = ?`, userID, day).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (s *sqliteStore) IncrementUsage(ctx context.Context, userID int64, day string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO usage_logs(user_id, day, count) VALUES(?, ?, 1)
		 ON CONFLICT(user_id, day) DO UPDATE SET count = count + 1
		 RETURNING count`, userID, day).Scan(&n)
	return n, err
}

func (s *sqliteStore) ResetUsage(ctx context.Context, userID int64, day string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM usage_logs WHERE user_id = ? AND day = ?`, userID, day)
	return err
}

func (s *sqliteStore) PruneUsage(ctx context.Context, before string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_logs WHERE day < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) IsPrivileged(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM vip_users WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteStore) AddPrivileged(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vip_users(user_id, added_at) VALUES(?, ?) ON CONFLICT(user_id) DO NOTHING`,
		userID, formatTime(time.Now()))
	return err
}

func (s *sqliteStore) RemovePrivileged(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vip_users WHERE user_id = ?`, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) ListPrivileged(ctx context.Context) ([]PrivilegedUser, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, added_at FROM vip_users ORDER BY added_at, user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PrivilegedUser
	for rows.Next() {
		var (
			u  PrivilegedUser
			at string
		)
		if err := rows.Scan(&u.UserID, &at); err != nil {
			return nil, err
		}
		u.AddedAt = parseTime(at)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveCredential(ctx context.Context, c credential.Credential) (credential.Credential, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO token_sets(name, fetch_token, app_transaction, hash_params, hash_headers, is_sandbox, fingerprint, created_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(fingerprint) DO NOTHING`,
		c.Name, c.Secret.FetchToken, c.Secret.AppTransaction,
		nullStr(c.Secret.HashParams), nullStr(c.Secret.HashHeaders),
		boolInt(c.Sandbox()), c.Secret.Fingerprint(), formatTime(c.CreatedAt))
	if err != nil {
		return c, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return c, ErrDuplicate
	}
	c.ID, err = res.LastInsertId()
	return c, err
}

func (s *sqliteStore) ListCredentials(ctx context.Context) ([]credential.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, fetch_token, app_transaction, hash_params, hash_headers, is_sandbox, created_at
		 FROM token_sets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []credential.Credential
	for rows.Next() {
		var (
			c               credential.Credential
			params, headers sql.NullString
			sandbox         int
			created         string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Secret.FetchToken, &c.Secret.AppTransaction,
			&params, &headers, &sandbox, &created); err != nil {
			return nil, err
		}
		c.Secret.HashParams = params.String
		c.Secret.HashHeaders = headers.String
		c.Mode = credential.ModeProduction
		if sandbox != 0 {
			c.Mode = credential.ModeSandbox
		}
		c.CreatedAt = parseTime(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateCredentialSecret(ctx context.Context, id int64, sec credential.Secret) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE token_sets SET fetch_token = ?, app_transaction = ?, hash_params = ?, hash_headers = ?, fingerprint = ?
		 WHERE id = ?`,
		sec.FetchToken, sec.AppTransaction, nullStr(sec.HashParams), nullStr(sec.HashHeaders), sec.Fingerprint(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeleteCredential(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM token_sets WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) GetConfig(ctx context.Context, key, def string) (string, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM bot_config WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !v.Valid) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	return v.String, nil
}

func (s *sqliteStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_config(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *sqliteStore) LogRequest(ctx context.Context, r RequestLog) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_logs(user_id, target_id, status, at) VALUES(?,?,?,?)`,
		r.UserID, r.TargetID, string(r.Status), formatTime(r.At))
	return err
}

func (s *sqliteStore) RecentRequests(ctx context.Context, limit int) ([]RequestLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, target_id, status, at FROM request_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RequestLog
	for rows.Next() {
		var (
			r  RequestLog
			st string
			at string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.TargetID, &st, &at); err != nil {
			return nil, err
		}
		r.Status = Status(st)
		r.At = parseTime(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AggregateStats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		        COUNT(DISTINCT user_id)
		 FROM request_logs`, string(StatusSuccess), string(StatusFail)).
		Scan(&st.Total, &st.Success, &st.Fail, &st.DistinctUsers)
	return st, err
}

func (s *sqliteStore) TouchUser(ctx context.Context, userID int64) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, first_seen, last_seen) VALUES(?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET last_seen = excluded.last_seen`, userID, now, now)
	return err
}

func (s *sqliteStore) ListUsers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM users ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
