package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store guarded by a single mutex. Used by unit tests
// and the "memory" adapter; not for production.
type Memory struct {
	mu       sync.Mutex
	seq      int64
	users    map[int64]*User
	clients  map[string]*Client
	sessions map[int64]*Session
	codes    map[string]*AuthorizationCode
	access   map[string]*AccessToken
	refresh  map[string]*RefreshToken
	origins  map[int64]*AllowedOrigin
}

func NewMemory() *Memory {
	return &Memory{
		users:    map[int64]*User{},
		clients:  map[string]*Client{},
		sessions: map[int64]*Session{},
		codes:    map[string]*AuthorizationCode{},
		access:   map[string]*AccessToken{},
		refresh:  map[string]*RefreshToken{},
		origins:  map[int64]*AllowedOrigin{},
	}
}

func (m *Memory) next() int64 {
	m.seq++
	return m.seq
}

func (m *Memory) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrDuplicate
		}
	}
	u.ID = m.next()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetUserByID(ctx context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// SetUserFlags marks a user disabled or deleted. Test helper; the core has
// no user-mutation operation.
func (m *Memory) SetUserFlags(id int64, disabled, deleted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.Disabled = disabled
		u.Deleted = deleted
		u.UpdatedAt = time.Now()
	}
}

func (m *Memory) CreateClient(ctx context.Context, c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[c.ClientID]; ok {
		return ErrDuplicate
	}
	c.ID = m.next()
	c.CreatedAt = time.Now()
	cp := *c
	m.clients[c.ClientID] = &cp
	return nil
}

func (m *Memory) GetClientByClientID(ctx context.Context, clientID string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.next()
	s.CreatedAt = time.Now()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) GetSessionByToken(ctx context.Context, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Token == token {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetSessionByID(ctx context.Context, id int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) CreateAuthorizationCode(ctx context.Context, c *AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[c.Code]; ok {
		return ErrDuplicate
	}
	c.ID = m.next()
	c.CreatedAt = time.Now()
	cp := *c
	m.codes[c.Code] = &cp
	return nil
}

func (m *Memory) RedeemAuthorizationCode(ctx context.Context, code string, mint MintFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.codes[code]
	if !ok {
		return ErrNotFound
	}
	// single-use: the row is gone whether or not minting succeeds
	delete(m.codes, code)
	cp := *row
	at, rt, err := mint(&cp)
	if err != nil {
		return err
	}
	at.ID = m.next()
	at.CreatedAt = time.Now()
	atc := *at
	m.access[at.Token] = &atc
	rt.ID = m.next()
	rt.CreatedAt = time.Now()
	rtc := *rt
	m.refresh[rt.Token] = &rtc
	return nil
}

func (m *Memory) CreateAccessToken(ctx context.Context, t *AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.next()
	t.CreatedAt = time.Now()
	cp := *t
	m.access[t.Token] = &cp
	return nil
}

func (m *Memory) GetAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.access[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) LatestAccessTokenBySession(ctx context.Context, sessionID int64) (*AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*AccessToken
	for _, t := range m.access {
		if t.SessionID == sessionID {
			all = append(all, t)
		}
	}
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	cp := *all[0]
	return &cp, nil
}

func (m *Memory) CreateRefreshToken(ctx context.Context, t *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.next()
	t.CreatedAt = time.Now()
	cp := *t
	m.refresh[t.Token] = &cp
	return nil
}

func (m *Memory) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.refresh[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) ListOrigins(ctx context.Context) ([]*AllowedOrigin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*AllowedOrigin
	for _, o := range m.origins {
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AddOrigin(ctx context.Context, origin string) (*AllowedOrigin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.origins {
		if o.Origin == origin {
			return nil, ErrDuplicate
		}
	}
	row := &AllowedOrigin{ID: m.next(), Origin: origin, CreatedAt: time.Now()}
	m.origins[row.ID] = row
	cp := *row
	return &cp, nil
}

func (m *Memory) RemoveOrigin(ctx context.Context, id int64) (*AllowedOrigin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.origins[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.origins, id)
	cp := *row
	return &cp, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
func (m *Memory) Close() error                   { return nil }
