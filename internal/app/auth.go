package app

import (
	"context"
	"fmt"

	"classchat/pkg/auth"
	"classchat/pkg/domain"
)

// Login verifies credentials and issues a session token. Attempts are rate
// limited per source key when a limiter is configured.
func (a *App) Login(ctx context.Context, userID, password, sourceKey string) (string, domain.User, error) {
	if !a.limiter.Allow(sourceKey) {
		return "", domain.User{}, ErrRateLimited
	}
	user, ok, err := a.store.GetUser(userID)
	if err != nil {
		return "", domain.User{}, err
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return "", domain.User{}, fmt.Errorf("%w: bad credentials", ErrUnauthorized)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return "", domain.User{}, err
	}
	return token, user, nil
}

// Logout invalidates a session token.
func (a *App) Logout(ctx context.Context, token string) error {
	return a.sessions.DeleteSession(token)
}

// UserByToken resolves a bearer token to its user. Used by the auth
// middleware.
func (a *App) UserByToken(ctx context.Context, token string) (domain.User, error) {
	if token == "" {
		return domain.User{}, ErrUnauthorized
	}
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrUnauthorized
	}
	user, ok, err := a.store.GetUser(userID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrUnauthorized
	}
	return user, nil
}
