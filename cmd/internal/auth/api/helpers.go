package api

import (
	"errors"
	"net/http"

	"github.com/slava-viktorov/crud-example/cmd/identity"
	"github.com/slava-viktorov/crud-example/cmd/internal/auth/session"
)

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:       u.ID,
		Email:    u.Email,
		Username: u.Username,
	}
}

// writeServiceError maps session error kinds to status codes.
// Unknown errors are logged and surface as 500 without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, event string, err error) {
	msg, _ := session.Message(err)
	switch {
	case errors.Is(err, session.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", msg)
	case errors.Is(err, session.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", msg)
	case errors.Is(err, session.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", msg)
	default:
		h.log.Error(event, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
