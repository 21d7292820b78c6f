package controllers

import (
	"net/http"

	"github.com/agrilink/agrilink-backend/api/responses"
	tradingsvc "github.com/agrilink/agrilink-backend/internal/trading"
	"github.com/agrilink/agrilink-backend/pkg/logger"
)

// TradingLockUnit executes pay-to-lock on a unit with an accepted negotiation.
func TradingLockUnit(svc tradingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		traderID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		unitID, err := pathUUID(r, "unitID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.LockUnit(r.Context(), traderID, unitID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
