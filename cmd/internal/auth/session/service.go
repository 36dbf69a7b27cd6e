package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/slava-viktorov/crud-example/cmd/identity"
	"github.com/slava-viktorov/crud-example/cmd/security/password"
	"github.com/slava-viktorov/crud-example/cmd/security/token"
)

// TokenCodec issues, verifies and fingerprints token pairs.
type TokenCodec interface {
	GenerateTokens(ctx context.Context, userID, email string) (token.Pair, error)
	Decode(raw string) (token.Claims, error)
	VerifyAccess(raw string) (token.Claims, error)
	VerifyRefresh(raw string) (token.Claims, error)
	HashRefreshToken(raw string) string
	TokensMatch(raw, storedHash string) bool
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(encodedHash, plain string) (bool, error)
	DummyVerify(plain string)
}

// UserStore is the subset of identity.Store the service needs.
type UserStore interface {
	CreateUser(ctx context.Context, in identity.CreateUserInput) (identity.User, error)
	GetUserByID(ctx context.Context, id string) (identity.User, error)
	GetUserAuthByEmail(ctx context.Context, email string) (identity.UserAuth, error)
	FindUserByEmailOrUsername(ctx context.Context, email, username string) (identity.User, error)
	DeleteUserByID(ctx context.Context, id string) error
}

// RegisterInput is a registration request.
type RegisterInput struct {
	Email    string
	Username string
	Password string
	Source   *string
}

// LoginInput is a login request.
type LoginInput struct {
	Email    string
	Password string
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User   identity.User
	Tokens token.Pair
}

// Service orchestrates register, login, logout and refresh rotation.
// It is safe for concurrent use.
type Service struct {
	users  UserStore
	ledger Ledger
	codec  TokenCodec
	hasher PasswordHasher

	revokeAllOnReuse bool

	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for security events.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source used for ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the service from its collaborators.
func NewService(cfg Config, users UserStore, ledger Ledger, codec TokenCodec, hasher PasswordHasher, opts ...Option) (*Service, error) {
	switch {
	case users == nil:
		return nil, fmt.Errorf("%w: nil user store", ErrConfig)
	case ledger == nil:
		return nil, fmt.Errorf("%w: nil ledger", ErrConfig)
	case codec == nil:
		return nil, fmt.Errorf("%w: nil token codec", ErrConfig)
	case hasher == nil:
		return nil, fmt.Errorf("%w: nil password hasher", ErrConfig)
	}

	s := &Service{
		users:            users,
		ledger:           ledger,
		codec:            codec,
		hasher:           hasher,
		revokeAllOnReuse: cfg.RevokeAllOnReuse,
		log:              slog.Default(),
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Register creates a user and issues its first token pair.
func (s *Service) Register(ctx context.Context, in RegisterInput) (res AuthResult, err error) {
	const op = "session.Register"
	defer func() { s.metrics.observe("register", err) }()

	email := identity.NormalizeEmail(in.Email)
	username := identity.NormalizeUsername(in.Username)
	if err := validateEmail(email); err != nil {
		return AuthResult{}, invalidInput(op, err.Error())
	}
	if err := validateUsername(username); err != nil {
		return AuthResult{}, invalidInput(op, err.Error())
	}

	existing, err := s.users.FindUserByEmailOrUsername(ctx, email, username)
	switch {
	case err == nil:
		return AuthResult{}, conflict(op, conflictMessage(existing.Email == email, existing.Username == username))
	case !identity.IsNotFound(err):
		return AuthResult{}, fmt.Errorf("%s: lookup: %w", op, err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if password.IsPolicyError(err) {
			return AuthResult{}, invalidInput(op, "password: "+err.Error())
		}
		return AuthResult{}, fmt.Errorf("%s: hash: %w", op, err)
	}

	user, err := s.users.CreateUser(ctx, identity.CreateUserInput{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Source:       in.Source,
		Now:          s.now(),
	})
	if err != nil {
		// Lost a race with a concurrent registration.
		if field, ok := identity.ConflictField(err); ok {
			return AuthResult{}, conflict(op, conflictMessage(field == "email", field == "username"))
		}
		if identity.IsInvalidInput(err) {
			return AuthResult{}, invalidInput(op, "invalid registration")
		}
		return AuthResult{}, fmt.Errorf("%s: create user: %w", op, err)
	}

	pair, err := s.issue(ctx, op, user)
	if err != nil {
		// Roll the user back so a retried registration does not conflict.
		// WithoutCancel keeps the cleanup alive when ctx caused the failure.
		if derr := s.users.DeleteUserByID(context.WithoutCancel(ctx), user.ID); derr != nil && !identity.IsNotFound(derr) {
			s.log.Error("auth.register.rollback.fail", "user_id", user.ID, "err", derr)
		}
		return AuthResult{}, err
	}
	return AuthResult{User: user, Tokens: pair}, nil
}

// Login verifies credentials and issues a new token pair.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, in LoginInput) (res AuthResult, err error) {
	const op = "session.Login"
	defer func() { s.metrics.observe("login", err) }()

	email := identity.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		s.hasher.DummyVerify(in.Password)
		return AuthResult{}, unauthorized(op, MsgInvalidCredentials)
	}

	ua, err := s.users.GetUserAuthByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			s.hasher.DummyVerify(in.Password)
			return AuthResult{}, unauthorized(op, MsgInvalidCredentials)
		}
		return AuthResult{}, fmt.Errorf("%s: lookup: %w", op, err)
	}

	ok, err := s.hasher.Verify(ua.PasswordHash, in.Password)
	if err != nil {
		s.log.Error("auth.login.invalid_hash", "user_id", ua.User.ID, "err", err)
		return AuthResult{}, unauthorized(op, MsgInvalidCredentials)
	}
	if !ok {
		return AuthResult{}, unauthorized(op, MsgInvalidCredentials)
	}

	pair, err := s.issue(ctx, op, ua.User)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: ua.User, Tokens: pair}, nil
}

// Logout revokes the ledger record of rawRefresh. No token is issued.
func (s *Service) Logout(ctx context.Context, rawRefresh string) (err error) {
	const op = "session.Logout"
	defer func() { s.metrics.observe("logout", err) }()

	claims, err := s.codec.VerifyRefresh(rawRefresh)
	if err != nil {
		return unauthorized(op, MsgInvalidRefreshToken)
	}
	_, err = s.consume(ctx, op, claims, rawRefresh)
	return err
}

// RefreshTokensPair rotates rawRefresh: the presented record is revoked and a
// new pair with a new record is issued. Each refresh token works at most once.
func (s *Service) RefreshTokensPair(ctx context.Context, rawRefresh string) (pair token.Pair, err error) {
	const op = "session.RefreshTokensPair"
	defer func() { s.metrics.observe("refresh", err) }()

	claims, err := s.codec.VerifyRefresh(rawRefresh)
	if err != nil {
		return token.Pair{}, unauthorized(op, MsgInvalidRefreshToken)
	}
	if _, err := s.consume(ctx, op, claims, rawRefresh); err != nil {
		return token.Pair{}, err
	}

	// The old record is already revoked; a vanished user cannot get a new pair.
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return token.Pair{}, unauthorized(op, MsgAccessDenied)
		}
		return token.Pair{}, fmt.Errorf("%s: load user: %w", op, err)
	}

	return s.issue(ctx, op, user)
}

// ValidateAccessToken checks signature and expiry only.
func (s *Service) ValidateAccessToken(rawAccess string) (token.Claims, error) {
	claims, err := s.codec.VerifyAccess(rawAccess)
	if err != nil {
		return token.Claims{}, unauthorized("session.ValidateAccessToken", MsgInvalidAccessToken)
	}
	return claims, nil
}

// Authenticate resolves the user behind a valid access token.
func (s *Service) Authenticate(ctx context.Context, rawAccess string) (identity.User, error) {
	const op = "session.Authenticate"

	claims, err := s.codec.VerifyAccess(rawAccess)
	if err != nil {
		return identity.User{}, unauthorized(op, MsgInvalidCredentials)
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.User{}, unauthorized(op, MsgInvalidCredentials)
		}
		return identity.User{}, fmt.Errorf("%s: load user: %w", op, err)
	}
	return user, nil
}

// Me returns the authenticated user attached to the request.
func (s *Service) Me(user *identity.User) (identity.User, error) {
	if user == nil {
		return identity.User{}, unauthorized("session.Me", MsgInvalidCredentials)
	}
	return *user, nil
}

// LogoutAll revokes every active refresh token of userID.
func (s *Service) LogoutAll(ctx context.Context, userID string) (n int64, err error) {
	const op = "session.LogoutAll"
	defer func() { s.metrics.observe("logout_all", err) }()

	if strings.TrimSpace(userID) == "" {
		return 0, unauthorized(op, MsgInvalidCredentials)
	}
	n, err = s.ledger.RevokeAllForUser(ctx, s.now(), userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.revoked(n)
	return n, nil
}

// consume checks that the verified refresh token is backed by a live ledger
// record and revokes it. Only the caller that wins the conditional revoke succeeds.
func (s *Service) consume(ctx context.Context, op string, claims token.Claims, rawRefresh string) (Record, error) {
	rec, err := s.ledger.FindByJTI(ctx, claims.JTI)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return Record{}, unauthorized(op, MsgRefreshInvalid)
		}
		return Record{}, fmt.Errorf("%s: find record: %w", op, err)
	}
	if !s.codec.TokensMatch(rawRefresh, rec.TokenHash) || rec.UserID != claims.UserID {
		return Record{}, unauthorized(op, MsgRefreshInvalid)
	}
	if rec.IsRevoked {
		s.onReuse(ctx, rec)
		return Record{}, unauthorized(op, MsgRefreshInvalid)
	}

	won, err := s.ledger.Revoke(ctx, s.now(), rec.TokenHash)
	if err != nil {
		return Record{}, fmt.Errorf("%s: revoke: %w", op, err)
	}
	if !won {
		return Record{}, unauthorized(op, MsgRefreshInvalid)
	}
	s.metrics.revoked(1)
	return rec, nil
}

func (s *Service) onReuse(ctx context.Context, rec Record) {
	s.metrics.reuse()
	s.log.Warn("auth.refresh.reuse_detected",
		"user_id", rec.UserID,
		"record_id", rec.ID,
		"revoke_all", s.revokeAllOnReuse,
	)
	if !s.revokeAllOnReuse {
		return
	}
	n, err := s.ledger.RevokeAllForUser(ctx, s.now(), rec.UserID)
	if err != nil {
		s.log.Error("auth.refresh.revoke_all_failed", "user_id", rec.UserID, "err", err)
		return
	}
	s.metrics.revoked(n)
}

// issue generates a pair for user and records its refresh token.
func (s *Service) issue(ctx context.Context, op string, user identity.User) (token.Pair, error) {
	pair, err := s.codec.GenerateTokens(ctx, user.ID, user.Email)
	if err != nil {
		return token.Pair{}, fmt.Errorf("%s: generate tokens: %w", op, err)
	}

	// Safe without verification: the codec produced this token just now.
	rc, err := s.codec.Decode(pair.RefreshToken)
	if err != nil {
		return token.Pair{}, fmt.Errorf("%s: decode refresh: %w", op, err)
	}

	if _, err := s.ledger.Create(ctx, NewRecord{
		JTI:       rc.JTI,
		TokenHash: s.codec.HashRefreshToken(pair.RefreshToken),
		UserID:    user.ID,
		ExpiresAt: pair.RefreshExpiresAt,
		Now:       s.now(),
	}); err != nil {
		return token.Pair{}, fmt.Errorf("%s: record refresh token: %w", op, err)
	}
	return pair, nil
}

func conflictMessage(email, username bool) string {
	switch {
	case email && username:
		return MsgEmailAndUsernameExist
	case email:
		return MsgEmailExists
	default:
		return MsgUsernameExists
	}
}

var usernameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{2,31}$`)

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	if len(email) > 254 {
		return errors.New("email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return errors.New("email is invalid")
	}
	return nil
}

func validateUsername(username string) error {
	if username == "" {
		return errors.New("username is required")
	}
	if !usernameRe.MatchString(username) {
		return errors.New("username must be 3-32 characters of letters, digits, '.', '_' or '-'")
	}
	return nil
}

func errorResult(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
