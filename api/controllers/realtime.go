package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/prepmarket-backend/api/middleware"
	"github.com/angelmondragon/prepmarket-backend/api/responses"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
)

type socketServer interface {
	Serve(w http.ResponseWriter, r *http.Request, userID uuid.UUID) error
}

// Realtime upgrades to a websocket that receives the caller's order and
// notification pushes.
func Realtime(hub socketServer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "realtime hub unavailable"))
			return
		}
		userID, _, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		// The upgrader has already answered the client on failure.
		if err := hub.Serve(w, r, userID); err != nil && logg != nil {
			logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "websocket upgrade failed")
		}
	}
}
