package controllers

import (
	"net/http"

	"github.com/agrilink/agrilink-backend/api/responses"
	"github.com/agrilink/agrilink-backend/api/validators"
	inventorysvc "github.com/agrilink/agrilink-backend/internal/inventory"
	"github.com/agrilink/agrilink-backend/pkg/logger"
)

type confirmDeliveryRequest struct {
	StorageLocation string `json:"storage_location"`
}

// InventoryConfirmDelivery settles a locked unit: trader pays, farmer is
// credited and the kilos enter the trader's storage.
func InventoryConfirmDelivery(svc inventorysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		farmerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		unitID, err := pathUUID(r, "unitID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload confirmDeliveryRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.ConfirmDelivery(r.Context(), farmerID, unitID, validators.SanitizeString(payload.StorageLocation, 64))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

// InventoryMine lists the caller's storage, loose kilos and blocks alike.
func InventoryMine(svc inventorysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		traderID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		records, err := svc.ListForTrader(r.Context(), traderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, records)
	}
}

// InventoryBlocks lists tradeable 100kg blocks for buyers to browse.
func InventoryBlocks(svc inventorysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
		produceType := validators.SanitizeString(r.URL.Query().Get("produce_type"), 64)

		records, err := svc.ListBlocks(r.Context(), produceType, limit, offset)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, records)
	}
}
