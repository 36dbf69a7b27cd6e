package api

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"
)

func (h *Handler) auditLoginFailed(ctx context.Context, ip net.IP, ua, identifier, reason string) {
	h.audit(ctx, "auth.login.failed", "", ip, ua,
		slog.String("identifier", identifier),
		slog.String("reason", reason),
	)
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID string, ip net.IP, ua, identifier string) {
	h.audit(ctx, "auth.login.success", userID, ip, ua, slog.String("identifier", identifier))
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, ip net.IP, ua, identifier string, retryAfter time.Duration) {
	h.audit(ctx, "auth.login.rate_limited", "", ip, ua,
		slog.String("identifier", identifier),
		slog.Int64("retry_after_s", int64(retryAfter.Seconds())),
	)
}

func (h *Handler) auditRegister(ctx context.Context, userID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.register.success", userID, ip, ua)
}

func (h *Handler) auditRefreshSuccess(ctx context.Context, ip net.IP, ua string) {
	h.audit(ctx, "auth.refresh.success", "", ip, ua)
}

func (h *Handler) auditRefreshFailed(ctx context.Context, ip net.IP, ua, reason string) {
	h.audit(ctx, "auth.refresh.failed", "", ip, ua, slog.String("reason", reason))
}

func (h *Handler) auditLogout(ctx context.Context, ip net.IP, ua string) {
	h.audit(ctx, "auth.logout", "", ip, ua)
}

func (h *Handler) auditLogoutAll(ctx context.Context, userID string, revoked int64, ip net.IP, ua string) {
	h.audit(ctx, "auth.logout_all", userID, ip, ua, slog.Int64("revoked", revoked))
}

// audit emits one security event at info level.
// Raw tokens and passwords never reach it.
func (h *Handler) audit(ctx context.Context, action, userID string, ip net.IP, ua string, attrs ...slog.Attr) {
	if h == nil || h.log == nil {
		return
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	all := make([]slog.Attr, 0, len(attrs)+4)
	all = append(all, slog.Bool("audit", true))
	if userID != "" {
		all = append(all, slog.String("user_id", userID))
	}
	if ip != nil {
		all = append(all, slog.String("ip", ip.String()))
	}
	if ua = strings.TrimSpace(ua); ua != "" {
		all = append(all, slog.String("user_agent", ua))
	}
	all = append(all, attrs...)
	h.log.LogAttrs(ctx, slog.LevelInfo, action, all...)
}
