package identity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a process-local Store used when no database is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]memUser
	byEmail    map[string]string
	byUsername map[string]string
	onDeleted  UserDeletedHook
}

type memUser struct {
	user User
	hash string
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryUserDeletedHook registers a hook called after DeleteUserByID succeeds.
func WithMemoryUserDeletedHook(h UserDeletedHook) MemoryOption {
	return func(s *MemoryStore) { s.onDeleted = h }
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		byID:       make(map[string]memUser),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	u, err := newUserFromInput(op, in)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[u.Email]; ok {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	if _, ok := s.byUsername[u.Username]; ok {
		return User{}, ConflictError{Op: op, Field: "username"}
	}

	s.byID[u.ID] = memUser{user: u, hash: in.PasswordHash}
	s.byEmail[u.Email] = u.ID
	s.byUsername[u.Username] = u.ID
	return u, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	mu, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return mu.user, nil
}

func (s *MemoryStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByEmail"

	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
	}
	mu := s.byID[id]
	return UserAuth{User: mu.user, PasswordHash: mu.hash}, nil
}

func (s *MemoryStore) FindUserByEmailOrUsername(ctx context.Context, email, username string) (User, error) {
	const op = "identity.FindUserByEmailOrUsername"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.byEmail[NormalizeEmail(email)]; ok {
		return s.byID[id].user, nil
	}
	if id, ok := s.byUsername[NormalizeUsername(username)]; ok {
		return s.byID[id].user, nil
	}
	return User{}, NotFoundError{Op: op, Resource: "user"}
}

func (s *MemoryStore) ListUsersBySource(ctx context.Context, source string) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, invalid("identity.ListUsersBySource", "missing source")
	}

	s.mu.RLock()
	out := make([]User, 0, 8)
	for _, mu := range s.byID {
		if mu.user.Source != nil && *mu.user.Source == source {
			out = append(out, mu.user)
		}
	}
	s.mu.RUnlock()

	// ULIDs sort by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) DeleteUserByID(ctx context.Context, id string) error {
	const op = "identity.DeleteUserByID"

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	mu, ok := s.byID[strings.TrimSpace(id)]
	if ok {
		delete(s.byID, mu.user.ID)
		delete(s.byEmail, mu.user.Email)
		delete(s.byUsername, mu.user.Username)
	}
	s.mu.Unlock()

	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	if s.onDeleted != nil {
		if err := s.onDeleted(ctx, mu.user.ID); err != nil {
			return fmt.Errorf("%s: cascade: %w", op, err)
		}
	}
	return nil
}
