package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// SQLite is a single-file Store for small deployments and local development.
// String sets are stored as JSON text and timestamps as unix seconds.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLite{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			deleted INTEGER NOT NULL DEFAULT 0,
			disabled INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS oauth_clients (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id TEXT NOT NULL UNIQUE,
			client_secret TEXT NOT NULL,
			name TEXT NOT NULL,
			redirect_uris TEXT NOT NULL DEFAULT '[]',
			grant_types TEXT NOT NULL DEFAULT '[]',
			scopes TEXT NOT NULL DEFAULT '[]',
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			token TEXT NOT NULL UNIQUE,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS authorization_codes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL UNIQUE,
			client_id TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			session_id INTEGER NOT NULL,
			scopes TEXT NOT NULL DEFAULT '[]',
			redirect_uri TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS access_tokens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token TEXT NOT NULL UNIQUE,
			client_id TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			session_id INTEGER NOT NULL,
			scopes TEXT NOT NULL DEFAULT '[]',
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_access_tokens_session ON access_tokens(session_id);`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token TEXT NOT NULL UNIQUE,
			client_id TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			session_id INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS allowed_origins (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			origin TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func encodeSet(v []string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeSet(raw string) []string {
	var v []string
	_ = json.Unmarshal([]byte(raw), &v)
	return v
}

func sqliteDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLite) CreateUser(ctx context.Context, u *User) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(email,password,name,deleted,disabled,created_at,updated_at) VALUES(?,?,?,0,0,?,?)`,
		u.Email, u.Password, u.Name, now.Unix(), now.Unix())
	if sqliteDuplicate(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	u.ID, _ = res.LastInsertId()
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

func (s *SQLite) scanUser(row *sql.Row) (*User, error) {
	var u User
	var deleted, disabled int
	var created, updated int64
	err := row.Scan(&u.ID, &u.Email, &u.Password, &u.Name, &deleted, &disabled, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Deleted = deleted != 0
	u.Disabled = disabled != 0
	u.CreatedAt = time.Unix(created, 0)
	u.UpdatedAt = time.Unix(updated, 0)
	return &u, nil
}

func (s *SQLite) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id,email,password,name,deleted,disabled,created_at,updated_at FROM users WHERE email = ?`, email))
}

func (s *SQLite) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id,email,password,name,deleted,disabled,created_at,updated_at FROM users WHERE id = ?`, id))
}

func (s *SQLite) CreateClient(ctx context.Context, c *Client) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_clients(client_id,client_secret,name,redirect_uris,grant_types,scopes,created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		c.ClientID, c.ClientSecret, c.Name, encodeSet(c.RedirectURIs), encodeSet(c.GrantTypes), encodeSet(c.Scopes), now.Unix())
	if sqliteDuplicate(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	c.ID, _ = res.LastInsertId()
	c.CreatedAt = now
	return nil
}

func (s *SQLite) GetClientByClientID(ctx context.Context, clientID string) (*Client, error) {
	var c Client
	var uris, grants, scopes string
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id,client_id,client_secret,name,redirect_uris,grant_types,scopes,created_at
		 FROM oauth_clients WHERE client_id = ?`, clientID).
		Scan(&c.ID, &c.ClientID, &c.ClientSecret, &c.Name, &uris, &grants, &scopes, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.RedirectURIs = decodeSet(uris)
	c.GrantTypes = decodeSet(grants)
	c.Scopes = decodeSet(scopes)
	c.CreatedAt = time.Unix(created, 0)
	return &c, nil
}

func (s *SQLite) CreateSession(ctx context.Context, sess *Session) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(user_id,token,expires_at,created_at) VALUES(?,?,?,?)`,
		sess.UserID, sess.Token, sess.ExpiresAt.Unix(), now.Unix())
	if err != nil {
		return err
	}
	sess.ID, _ = res.LastInsertId()
	sess.CreatedAt = now
	return nil
}

func (s *SQLite) scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var expires, created int64
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Token, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.ExpiresAt = time.Unix(expires, 0)
	sess.CreatedAt = time.Unix(created, 0)
	return &sess, nil
}

func (s *SQLite) GetSessionByToken(ctx context.Context, token string) (*Session, error) {
	return s.scanSession(s.db.QueryRowContext(ctx,
		`SELECT id,user_id,token,expires_at,created_at FROM sessions WHERE token = ?`, token))
}

func (s *SQLite) GetSessionByID(ctx context.Context, id int64) (*Session, error) {
	return s.scanSession(s.db.QueryRowContext(ctx,
		`SELECT id,user_id,token,expires_at,created_at FROM sessions WHERE id = ?`, id))
}

func (s *SQLite) CreateAuthorizationCode(ctx context.Context, c *AuthorizationCode) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO authorization_codes(code,client_id,user_id,session_id,scopes,redirect_uri,expires_at,created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		c.Code, c.ClientID, c.UserID, c.SessionID, encodeSet(c.Scopes), c.RedirectURI, c.ExpiresAt.Unix(), now.Unix())
	if sqliteDuplicate(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	c.ID, _ = res.LastInsertId()
	c.CreatedAt = now
	return nil
}

func (s *SQLite) RedeemAuthorizationCode(ctx context.Context, code string, mint MintFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var ac AuthorizationCode
	var scopes string
	var expires, created int64
	err = tx.QueryRowContext(ctx,
		`DELETE FROM authorization_codes WHERE code = ?
		 RETURNING id,code,client_id,user_id,session_id,scopes,redirect_uri,expires_at,created_at`, code).
		Scan(&ac.ID, &ac.Code, &ac.ClientID, &ac.UserID, &ac.SessionID, &scopes, &ac.RedirectURI, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		return ErrNotFound
	}
	if err != nil {
		tx.Rollback()
		return err
	}
	ac.Scopes = decodeSet(scopes)
	ac.ExpiresAt = time.Unix(expires, 0)
	ac.CreatedAt = time.Unix(created, 0)

	at, rt, mintErr := mint(&ac)
	if mintErr != nil {
		// commit the deletion so the expired code cannot be replayed
		if err := tx.Commit(); err != nil {
			return err
		}
		return mintErr
	}
	now := time.Now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO access_tokens(token,client_id,user_id,session_id,scopes,expires_at,created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		at.Token, at.ClientID, at.UserID, at.SessionID, encodeSet(at.Scopes), at.ExpiresAt.Unix(), now.Unix())
	if err != nil {
		tx.Rollback()
		return err
	}
	at.ID, _ = res.LastInsertId()
	at.CreatedAt = now
	res, err = tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens(token,client_id,user_id,session_id,expires_at,created_at)
		 VALUES(?,?,?,?,?,?)`,
		rt.Token, rt.ClientID, rt.UserID, rt.SessionID, rt.ExpiresAt.Unix(), now.Unix())
	if err != nil {
		tx.Rollback()
		return err
	}
	rt.ID, _ = res.LastInsertId()
	rt.CreatedAt = now
	return tx.Commit()
}

func (s *SQLite) CreateAccessToken(ctx context.Context, t *AccessToken) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO access_tokens(token,client_id,user_id,session_id,scopes,expires_at,created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		t.Token, t.ClientID, t.UserID, t.SessionID, encodeSet(t.Scopes), t.ExpiresAt.Unix(), now.Unix())
	if err != nil {
		return err
	}
	t.ID, _ = res.LastInsertId()
	t.CreatedAt = now
	return nil
}

func (s *SQLite) scanAccessToken(row *sql.Row) (*AccessToken, error) {
	var t AccessToken
	var scopes string
	var expires, created int64
	err := row.Scan(&t.ID, &t.Token, &t.ClientID, &t.UserID, &t.SessionID, &scopes, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Scopes = decodeSet(scopes)
	t.ExpiresAt = time.Unix(expires, 0)
	t.CreatedAt = time.Unix(created, 0)
	return &t, nil
}

func (s *SQLite) GetAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	return s.scanAccessToken(s.db.QueryRowContext(ctx,
		`SELECT id,token,client_id,user_id,session_id,scopes,expires_at,created_at
		 FROM access_tokens WHERE token = ?`, token))
}

func (s *SQLite) LatestAccessTokenBySession(ctx context.Context, sessionID int64) (*AccessToken, error) {
	return s.scanAccessToken(s.db.QueryRowContext(ctx,
		`SELECT id,token,client_id,user_id,session_id,scopes,expires_at,created_at
		 FROM access_tokens WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID))
}

func (s *SQLite) CreateRefreshToken(ctx context.Context, t *RefreshToken) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens(token,client_id,user_id,session_id,expires_at,created_at)
		 VALUES(?,?,?,?,?,?)`,
		t.Token, t.ClientID, t.UserID, t.SessionID, t.ExpiresAt.Unix(), now.Unix())
	if err != nil {
		return err
	}
	t.ID, _ = res.LastInsertId()
	t.CreatedAt = now
	return nil
}

func (s *SQLite) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	var t RefreshToken
	var expires, created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id,token,client_id,user_id,session_id,expires_at,created_at
		 FROM refresh_tokens WHERE token = ?`, token).
		Scan(&t.ID, &t.Token, &t.ClientID, &t.UserID, &t.SessionID, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ExpiresAt = time.Unix(expires, 0)
	t.CreatedAt = time.Unix(created, 0)
	return &t, nil
}

func (s *SQLite) ListOrigins(ctx context.Context) ([]*AllowedOrigin, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,origin,created_at FROM allowed_origins ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*AllowedOrigin
	for rows.Next() {
		var o AllowedOrigin
		var created int64
		if err := rows.Scan(&o.ID, &o.Origin, &created); err != nil {
			return nil, err
		}
		o.CreatedAt = time.Unix(created, 0)
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (s *SQLite) AddOrigin(ctx context.Context, origin string) (*AllowedOrigin, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO allowed_origins(origin,created_at) VALUES(?,?)`, origin, now.Unix())
	if sqliteDuplicate(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &AllowedOrigin{ID: id, Origin: origin, CreatedAt: now}, nil
}

func (s *SQLite) RemoveOrigin(ctx context.Context, id int64) (*AllowedOrigin, error) {
	var o AllowedOrigin
	var created int64
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM allowed_origins WHERE id = ? RETURNING id,origin,created_at`, id).
		Scan(&o.ID, &o.Origin, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.CreatedAt = time.Unix(created, 0)
	return &o, nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLite) Close() error                   { return s.db.Close() }
