package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/agrilink/agrilink-backend/api/responses"
	"github.com/agrilink/agrilink-backend/api/validators"
	purchasesvc "github.com/agrilink/agrilink-backend/internal/purchases"
	"github.com/agrilink/agrilink-backend/pkg/logger"
)

type purchaseRequest struct {
	InventoryID uuid.UUID `json:"inventory_id" validate:"required"`
	Kilos       int       `json:"kilos" validate:"required,gt=0"`
}

// PurchaseCreate sells inventory kilos to the calling buyer.
func PurchaseCreate(svc purchasesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload purchaseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.Purchase(r.Context(), buyerID, payload.InventoryID, payload.Kilos)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto)
	}
}

// PurchaseConfirmPickup marks a purchase collected. Buyer or trader may call.
func PurchaseConfirmPickup(svc purchasesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		purchaseID, err := pathUUID(r, "purchaseID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.ConfirmPickup(r.Context(), userID, purchaseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// PurchaseIndex lists the caller's purchases, newest first.
func PurchaseIndex(svc purchasesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1_000_000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dtos, err := svc.ListForBuyer(r.Context(), buyerID, limit, offset)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dtos)
	}
}
