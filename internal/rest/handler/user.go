package handler

import (
	"context"
	"net/http"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/chatrank/internal/rest/convert"
	"github.com/robalyx/chatrank/internal/tracker"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// StatusReader reads a user's month count.
type StatusReader interface {
	Status(ctx context.Context, userID snowflake.ID) (tracker.Status, error)
}

// UserHandler handles user-related REST endpoints.
type UserHandler struct {
	status StatusReader
	logger *zap.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(status StatusReader, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		status: status,
		logger: logger,
	}
}

// GetStatus handles GET /v1/users/:id/status.
func (h *UserHandler) GetStatus(w http.ResponseWriter, req bunrouter.Request) error {
	userID, err := snowflake.Parse(req.Param("id"))
	if err != nil || userID == 0 {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return nil
	}

	status, err := h.status.Status(req.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get user status", zap.Uint64("user_id", uint64(userID)), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return nil
	}

	return bunrouter.JSON(w, convert.UserStatus(status))
}
