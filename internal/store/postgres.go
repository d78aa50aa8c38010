package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
)

// Postgres is the production Store. Schema is managed by migrations; see the
// migrations directory and cmd/migrate.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool and waits for the database to become
// reachable, retrying the initial ping with exponential backoff.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(db.Ping, bo); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Postgres{db: db}, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (p *Postgres) CreateUser(ctx context.Context, u *User) error {
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO users(email,password,name,deleted,disabled,created_at,updated_at)
		 VALUES($1,$2,$3,false,false,now(),now()) RETURNING id,created_at,updated_at`,
		u.Email, u.Password, u.Name).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *Postgres) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Password, &u.Name, &u.Deleted, &u.Disabled, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx,
		`SELECT id,email,password,name,deleted,disabled,created_at,updated_at FROM users WHERE email = $1`, email))
}

func (p *Postgres) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx,
		`SELECT id,email,password,name,deleted,disabled,created_at,updated_at FROM users WHERE id = $1`, id))
}

func (p *Postgres) CreateClient(ctx context.Context, c *Client) error {
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO oauth_clients(client_id,client_secret,name,redirect_uris,grant_types,scopes,created_at)
		 VALUES($1,$2,$3,$4,$5,$6,now()) RETURNING id,created_at`,
		c.ClientID, c.ClientSecret, c.Name, pq.Array(c.RedirectURIs), pq.Array(c.GrantTypes), pq.Array(c.Scopes)).
		Scan(&c.ID, &c.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *Postgres) GetClientByClientID(ctx context.Context, clientID string) (*Client, error) {
	var c Client
	err := p.db.QueryRowContext(ctx,
		`SELECT id,client_id,client_secret,name,redirect_uris,grant_types,scopes,created_at
		 FROM oauth_clients WHERE client_id = $1`, clientID).
		Scan(&c.ID, &c.ClientID, &c.ClientSecret, &c.Name,
			pq.Array(&c.RedirectURIs), pq.Array(&c.GrantTypes), pq.Array(&c.Scopes), &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *Postgres) CreateSession(ctx context.Context, s *Session) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO sessions(user_id,token,expires_at,created_at)
		 VALUES($1,$2,$3,now()) RETURNING id,created_at`,
		s.UserID, s.Token, s.ExpiresAt).Scan(&s.ID, &s.CreatedAt)
}

func (p *Postgres) scanSession(row *sql.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.UserID, &s.Token, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Postgres) GetSessionByToken(ctx context.Context, token string) (*Session, error) {
	return p.scanSession(p.db.QueryRowContext(ctx,
		`SELECT id,user_id,token,expires_at,created_at FROM sessions WHERE token = $1`, token))
}

func (p *Postgres) GetSessionByID(ctx context.Context, id int64) (*Session, error) {
	return p.scanSession(p.db.QueryRowContext(ctx,
		`SELECT id,user_id,token,expires_at,created_at FROM sessions WHERE id = $1`, id))
}

func (p *Postgres) CreateAuthorizationCode(ctx context.Context, c *AuthorizationCode) error {
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO authorization_codes(code,client_id,user_id,session_id,scopes,redirect_uri,expires_at,created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,now()) RETURNING id,created_at`,
		c.Code, c.ClientID, c.UserID, c.SessionID, pq.Array(c.Scopes), c.RedirectURI, c.ExpiresAt).
		Scan(&c.ID, &c.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *Postgres) RedeemAuthorizationCode(ctx context.Context, code string, mint MintFunc) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	// DELETE..RETURNING serializes concurrent redemptions: the second
	// transaction blocks on the row lock and then deletes nothing.
	var ac AuthorizationCode
	err = tx.QueryRowContext(ctx,
		`DELETE FROM authorization_codes WHERE code = $1
		 RETURNING id,code,client_id,user_id,session_id,scopes,redirect_uri,expires_at,created_at`, code).
		Scan(&ac.ID, &ac.Code, &ac.ClientID, &ac.UserID, &ac.SessionID,
			pq.Array(&ac.Scopes), &ac.RedirectURI, &ac.ExpiresAt, &ac.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		return ErrNotFound
	}
	if err != nil {
		tx.Rollback()
		return err
	}
	at, rt, mintErr := mint(&ac)
	if mintErr != nil {
		// expired: commit the deletion so the code cannot be replayed
		if err := tx.Commit(); err != nil {
			return err
		}
		return mintErr
	}
	if err := insertAccessTokenTx(ctx, tx, at); err != nil {
		tx.Rollback()
		return err
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO refresh_tokens(token,client_id,user_id,session_id,expires_at,created_at)
		 VALUES($1,$2,$3,$4,$5,now()) RETURNING id,created_at`,
		rt.Token, rt.ClientID, rt.UserID, rt.SessionID, rt.ExpiresAt).Scan(&rt.ID, &rt.CreatedAt)
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertAccessTokenTx(ctx context.Context, q execer, t *AccessToken) error {
	return q.QueryRowContext(ctx,
		`INSERT INTO access_tokens(token,client_id,user_id,session_id,scopes,expires_at,created_at)
		 VALUES($1,$2,$3,$4,$5,$6,now()) RETURNING id,created_at`,
		t.Token, t.ClientID, t.UserID, t.SessionID, pq.Array(t.Scopes), t.ExpiresAt).
		Scan(&t.ID, &t.CreatedAt)
}

func (p *Postgres) CreateAccessToken(ctx context.Context, t *AccessToken) error {
	return insertAccessTokenTx(ctx, p.db, t)
}

func (p *Postgres) scanAccessToken(row *sql.Row) (*AccessToken, error) {
	var t AccessToken
	err := row.Scan(&t.ID, &t.Token, &t.ClientID, &t.UserID, &t.SessionID,
		pq.Array(&t.Scopes), &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *Postgres) GetAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	return p.scanAccessToken(p.db.QueryRowContext(ctx,
		`SELECT id,token,client_id,user_id,session_id,scopes,expires_at,created_at
		 FROM access_tokens WHERE token = $1`, token))
}

func (p *Postgres) LatestAccessTokenBySession(ctx context.Context, sessionID int64) (*AccessToken, error) {
	return p.scanAccessToken(p.db.QueryRowContext(ctx,
		`SELECT id,token,client_id,user_id,session_id,scopes,expires_at,created_at
		 FROM access_tokens WHERE session_id = $1 ORDER BY id DESC LIMIT 1`, sessionID))
}

func (p *Postgres) CreateRefreshToken(ctx context.Context, t *RefreshToken) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO refresh_tokens(token,client_id,user_id,session_id,expires_at,created_at)
		 VALUES($1,$2,$3,$4,$5,now()) RETURNING id,created_at`,
		t.Token, t.ClientID, t.UserID, t.SessionID, t.ExpiresAt).Scan(&t.ID, &t.CreatedAt)
}

func (p *Postgres) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	var t RefreshToken
	err := p.db.QueryRowContext(ctx,
		`SELECT id,token,client_id,user_id,session_id,expires_at,created_at
		 FROM refresh_tokens WHERE token = $1`, token).
		Scan(&t.ID, &t.Token, &t.ClientID, &t.UserID, &t.SessionID, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *Postgres) ListOrigins(ctx context.Context) ([]*AllowedOrigin, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id,origin,created_at FROM allowed_origins ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*AllowedOrigin
	for rows.Next() {
		var o AllowedOrigin
		if err := rows.Scan(&o.ID, &o.Origin, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (p *Postgres) AddOrigin(ctx context.Context, origin string) (*AllowedOrigin, error) {
	var o AllowedOrigin
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO allowed_origins(origin,created_at) VALUES($1,now()) RETURNING id,origin,created_at`, origin).
		Scan(&o.ID, &o.Origin, &o.CreatedAt)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (p *Postgres) RemoveOrigin(ctx context.Context, id int64) (*AllowedOrigin, error) {
	var o AllowedOrigin
	err := p.db.QueryRowContext(ctx,
		`DELETE FROM allowed_origins WHERE id = $1 RETURNING id,origin,created_at`, id).
		Scan(&o.ID, &o.Origin, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *Postgres) Close() error                   { return p.db.Close() }
