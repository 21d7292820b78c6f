package controllers

import (
	"net/http"
	"time"

	"github.com/agrilink/agrilink-backend/api/responses"
	"github.com/agrilink/agrilink-backend/api/validators"
	"github.com/agrilink/agrilink-backend/internal/exposure"
	inventorysvc "github.com/agrilink/agrilink-backend/internal/inventory"
	ratelimitsvc "github.com/agrilink/agrilink-backend/internal/ratelimit"
	settingsvc "github.com/agrilink/agrilink-backend/internal/settings"
	"github.com/agrilink/agrilink-backend/internal/users"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
	"github.com/agrilink/agrilink-backend/pkg/logger"
)

type pilotModeRequest struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason" validate:"required"`
}

type purchaseWindowRequest struct {
	Open bool `json:"open"`
}

type spendCapRequest struct {
	CapCents *int64 `json:"cap_cents"`
}

// AdminSettings returns the live system settings row.
func AdminSettings(svc settingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings, err := svc.Get(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, settings)
	}
}

// AdminSetPilotMode flips the global kill-switch.
func AdminSetPilotMode(svc settingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload pilotModeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		settings, err := svc.SetPilotMode(r.Context(), adminID, payload.Enabled, validators.SanitizeString(payload.Reason, 256))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, settings)
	}
}

// AdminSetPurchaseWindow opens or closes the buyer purchase window.
func AdminSetPurchaseWindow(svc settingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload purchaseWindowRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		settings, err := svc.SetPurchaseWindow(r.Context(), adminID, payload.Open)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, settings)
	}
}

// AdminSetSpendCap overrides (or resets) a trader's exposure cap.
func AdminSetSpendCap(svc users.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		traderID, err := pathUUID(r, "traderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload spendCapRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.SetSpendCap(r.Context(), adminID, traderID, payload.CapCents); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "updated"})
	}
}

// AdminCancelLock refunds a locked unit and returns it to the market.
func AdminCancelLock(svc inventorysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		unitID, err := pathUUID(r, "unitID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.CancelLock(r.Context(), adminID, unitID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "cancelled"})
	}
}

// AdminRateLimitHits lists recent rejected actions for abuse review. The
// window is expressed in hours via the ?hours= query, capped at 7 days.
func AdminRateLimitHits(svc ratelimitsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours, err := validators.ParseQueryInt(r, "hours", 24, 1, 168)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 100, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
		hits, err := svc.Hits(r.Context(), since, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, hits)
	}
}

// AdminTraderExposure reports a trader's current exposure against their cap.
func AdminTraderExposure(usersSvc users.Service, calc exposure.Calculator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := usersSvc.RequireRole(r.Context(), adminID, enums.RoleAdmin); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		traderID, err := pathUUID(r, "traderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := usersSvc.RequireRole(r.Context(), traderID, enums.RoleTrader); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := calc.Calculate(r.Context(), nil, traderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compute exposure"))
			return
		}
		responses.WriteSuccess(w, result)
	}
}
