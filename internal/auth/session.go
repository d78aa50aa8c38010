package auth

import (
	"context"
	"errors"
	"time"

	"github.com/example/oauthd/internal/store"
)

// dummyHash equalizes login timing when the email is unknown: the bcrypt
// compare runs against this hash instead of being skipped.
var dummyHash, _ = hashPassword("login-timing-pad")

// Register creates a user with a hashed password. Email matching is
// case-sensitive on the stored value.
func (s *Service) Register(ctx context.Context, email, password, name string) (*store.User, error) {
	hashed, err := hashPassword(password)
	if err != nil {
		return nil, internalError(err)
	}
	user := &store.User{Email: email, Password: hashed, Name: name}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, errUserExists
		}
		return nil, internalError(err)
	}
	s.log.Info().Int64("user_id", user.ID).Msg("user registered")
	return user, nil
}

// Login authenticates a user and mints a 30-day session. The client gate
// runs first; a login without a valid client context never proceeds.
func (s *Service) Login(ctx context.Context, email, password string, cc ClientContext) (*store.Session, error) {
	if _, err := s.VerifyClient(ctx, cc); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		comparePassword(dummyHash, password)
		return nil, errUserNotFound
	}
	if err != nil {
		return nil, internalError(err)
	}
	if user.Deleted || user.Disabled {
		return nil, errAccountDisabled
	}
	if !comparePassword(user.Password, password) {
		return nil, errInvalidCredentials
	}
	token, err := generateToken(sessionTokenBytes)
	if err != nil {
		return nil, internalError(err)
	}
	session := &store.Session{
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: time.Now().Add(s.cfg.SessionTTL),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, internalError(err)
	}
	s.log.Info().Int64("user_id", user.ID).Int64("session_id", session.ID).Msg("session created")
	return session, nil
}
