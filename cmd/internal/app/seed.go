package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/slava-viktorov/crud-example/cmd/internal/auth/session"
)

// SeedSource tags users created by Seed so Reset can find them again.
const SeedSource = "seed"

const maxSeedUsers = 1000

// SeedUser is one account created by Seed.
type SeedUser struct {
	Email    string
	Username string
	Password string
}

// SeedUsers returns n deterministic demo accounts sharing password.
func SeedUsers(n int, password string) []SeedUser {
	out := make([]SeedUser, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, SeedUser{
			Email:    fmt.Sprintf("seed-user-%03d@seed.example.com", i),
			Username: fmt.Sprintf("seed_user_%03d", i),
			Password: password,
		})
	}
	return out
}

// Seed registers users through the session service, tagged with SeedSource.
// Accounts that already exist are skipped so the command can be rerun.
// It returns the number of users created.
func (a *App) Seed(ctx context.Context, users []SeedUser) (int, error) {
	src := SeedSource
	created := 0
	for _, u := range users {
		res, err := a.sessions.Register(ctx, session.RegisterInput{
			Email:    u.Email,
			Username: u.Username,
			Password: u.Password,
			Source:   &src,
		})
		switch {
		case err == nil:
			created++
			a.log.Info("seed.user.created", "user_id", res.User.ID, "username", res.User.Username)
		case errors.Is(err, session.ErrConflict):
			a.log.Info("seed.user.exists", "username", u.Username)
		default:
			return created, fmt.Errorf("seed %s: %w", u.Username, err)
		}
	}
	a.log.Info("seed.done", "created", created, "requested", len(users))
	return created, nil
}

// Reset deletes every user tagged with SeedSource. Their refresh tokens go
// with them, through the foreign key or the ledger purge hook.
// It returns the number of users deleted.
func (a *App) Reset(ctx context.Context) (int, error) {
	users, err := a.users.ListUsersBySource(ctx, SeedSource)
	if err != nil {
		return 0, fmt.Errorf("reset: list seed users: %w", err)
	}

	deleted := 0
	for _, u := range users {
		if err := a.users.DeleteUserByID(ctx, u.ID); err != nil {
			return deleted, fmt.Errorf("reset: delete %s: %w", u.ID, err)
		}
		deleted++
	}
	a.log.Info("reset.done", "deleted", deleted)
	return deleted, nil
}
