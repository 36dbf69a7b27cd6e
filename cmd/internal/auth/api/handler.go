package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/slava-viktorov/crud-example/cmd/identity"
	"github.com/slava-viktorov/crud-example/cmd/internal/auth/session"
	"github.com/slava-viktorov/crud-example/cmd/security/token"
)

// RoutePrefix is the mount point of the auth routes.
const RoutePrefix = "/api/v1/auth"

const (
	msgAccessTokenRequired  = "Access token required"
	msgRefreshTokenRequired = "Refresh token required"
)

// Sessions is the session orchestrator as seen by the transport.
type Sessions interface {
	Register(ctx context.Context, in session.RegisterInput) (session.AuthResult, error)
	Login(ctx context.Context, in session.LoginInput) (session.AuthResult, error)
	Logout(ctx context.Context, rawRefresh string) error
	RefreshTokensPair(ctx context.Context, rawRefresh string) (token.Pair, error)
	ValidateAccessToken(rawAccess string) (token.Claims, error)
	Authenticate(ctx context.Context, rawAccess string) (identity.User, error)
	Me(user *identity.User) (identity.User, error)
	LogoutAll(ctx context.Context, userID string) (int64, error)
}

// Handler wires HTTP auth endpoints to the session service.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions Sessions

	ipFailures *failureLog
	idFailures *failureLog

	now func() time.Time
}

// HandlerOption configures optional handler behavior.
type HandlerOption func(*Handler)

// WithClock overrides the time source used by login throttling.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if h == nil || now == nil {
			return
		}
		h.now = now
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, sessions Sessions, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if sessions == nil {
		return nil, fmt.Errorf("%w: nil session service", ErrConfig)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	h := &Handler{
		log:        log,
		cfg:        cfg,
		sessions:   sessions,
		ipFailures: newFailureLog(cfg.LoginIPWindow, cfg.ThrottleMaxKeys),
		idFailures: newFailureLog(lockoutHorizon(cfg.lockoutTiers()), cfg.ThrottleMaxKeys),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST "+RoutePrefix+"/register", h.handleRegister)
	mux.HandleFunc("POST "+RoutePrefix+"/login", h.handleLogin)
	mux.HandleFunc("POST "+RoutePrefix+"/logout", h.handleLogout)
	mux.HandleFunc("POST "+RoutePrefix+"/refresh", h.handleRefresh)
	// GET patterns also match HEAD.
	mux.HandleFunc("GET "+RoutePrefix+"/validate-token", h.handleValidateToken)
	mux.Handle("GET "+RoutePrefix+"/me", h.WithCurrentUser(http.HandlerFunc(h.handleMe)))
	mux.Handle("POST "+RoutePrefix+"/logout-all", h.WithCurrentUser(http.HandlerFunc(h.handleLogoutAll)))
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	res, err := h.sessions.Register(ctx, session.RegisterInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.writeServiceError(w, "auth.register.fail", err)
		return
	}

	h.auditRegister(ctx, res.User.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	h.setAuthCookies(w, res.Tokens)
	writeJSON(w, http.StatusCreated, authResponse{User: toUserResponse(res.User)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := r.UserAgent()
	identifier := identity.NormalizeEmail(req.Email)

	// Throttle checks run before any credential work.
	if blocked, retryAfter := h.checkLoginIPThrottle(ip, now); blocked {
		h.auditLoginRateLimited(ctx, ip, ua, identifier, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := h.checkLoginIdentifierThrottle(identifier, now); blocked {
		h.auditLoginRateLimited(ctx, ip, ua, identifier, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}

	res, err := h.sessions.Login(ctx, session.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			h.recordLoginFailure(ip, identifier, now)
			h.auditLoginFailed(ctx, ip, ua, identifier, "invalid_credentials")
		}
		h.writeServiceError(w, "auth.login.fail", err)
		return
	}

	h.idFailures.reset(identifier)
	h.auditLoginSuccess(ctx, res.User.ID, ip, ua, identifier)
	h.setAuthCookies(w, res.Tokens)
	writeJSON(w, http.StatusOK, authResponse{User: toUserResponse(res.User)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.refreshTokenFromCookie(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", msgRefreshTokenRequired)
		return
	}

	ctx := r.Context()
	if err := h.sessions.Logout(ctx, raw); err != nil {
		h.writeServiceError(w, "auth.logout.fail", err)
		return
	}

	h.auditLogout(ctx, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	h.clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.refreshTokenFromCookie(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", msgRefreshTokenRequired)
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := r.UserAgent()

	pair, err := h.sessions.RefreshTokensPair(ctx, raw)
	if err != nil {
		if msg, ok := session.Message(err); ok {
			h.auditRefreshFailed(ctx, ip, ua, msg)
		}
		h.writeServiceError(w, "auth.refresh.fail", err)
		return
	}

	h.auditRefreshSuccess(ctx, ip, ua)
	h.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, refreshResponse{
		AccessExpiresAt:  pair.AccessExpiresAt.UTC(),
		RefreshExpiresAt: pair.RefreshExpiresAt.UTC(),
	})
}

func (h *Handler) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.accessTokenFromCookie(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", msgAccessTokenRequired)
		return
	}

	claims, err := h.sessions.ValidateAccessToken(raw)
	if err != nil {
		h.writeServiceError(w, "auth.validate_token.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: true, ExpiresAt: claims.ExpiresAt.UTC()})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.sessions.Me(CurrentUser(r.Context()))
	if err != nil {
		h.writeServiceError(w, "auth.me.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, err := h.sessions.Me(CurrentUser(ctx))
	if err != nil {
		h.writeServiceError(w, "auth.logout_all.fail", err)
		return
	}

	n, err := h.sessions.LogoutAll(ctx, u.ID)
	if err != nil {
		h.writeServiceError(w, "auth.logout_all.fail", err)
		return
	}

	h.auditLogoutAll(ctx, u.ID, n, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	h.clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// ---- helpers ----

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
