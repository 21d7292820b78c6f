package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/agrilink/agrilink-backend/api/responses"
	"github.com/agrilink/agrilink-backend/api/validators"
	negotiationsvc "github.com/agrilink/agrilink-backend/internal/negotiations"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
	"github.com/agrilink/agrilink-backend/pkg/logger"
)

type offerRequest struct {
	Target     string    `json:"target" validate:"required,oneof=unit inventory"`
	TargetID   uuid.UUID `json:"target_id" validate:"required"`
	PriceCents int64     `json:"price_cents" validate:"required,gt=0"`
}

type counterRequest struct {
	PriceCents int64 `json:"price_cents" validate:"required,gt=0"`
}

func negotiationTarget(r *http.Request) (negotiationsvc.Target, error) {
	target := negotiationsvc.Target(r.URL.Query().Get("target"))
	if target == "" {
		target = negotiationsvc.TargetUnit
	}
	if !target.IsValid() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "target must be unit or inventory")
	}
	return target, nil
}

// NegotiationOffer opens a price negotiation on a unit or an inventory block.
func NegotiationOffer(svc negotiationsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload offerRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var dto *negotiationsvc.NegotiationDTO
		switch negotiationsvc.Target(payload.Target) {
		case negotiationsvc.TargetUnit:
			dto, err = svc.OfferOnUnit(r.Context(), userID, payload.TargetID, payload.PriceCents)
		case negotiationsvc.TargetInventory:
			dto, err = svc.OfferOnInventory(r.Context(), userID, payload.TargetID, payload.PriceCents)
		default:
			err = pkgerrors.New(pkgerrors.CodeValidation, "target must be unit or inventory")
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto)
	}
}

// NegotiationCounter swaps the turn with a new price.
func NegotiationCounter(svc negotiationsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		negotiationID, err := pathUUID(r, "negotiationID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := negotiationTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload counterRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.Counter(r.Context(), userID, target, negotiationID, payload.PriceCents)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// NegotiationAccept freezes the current price and issues the accepted UTID.
func NegotiationAccept(svc negotiationsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		negotiationID, err := pathUUID(r, "negotiationID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := negotiationTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.Accept(r.Context(), userID, target, negotiationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// NegotiationReject closes the negotiation for either party.
func NegotiationReject(svc negotiationsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		negotiationID, err := pathUUID(r, "negotiationID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := negotiationTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.Reject(r.Context(), userID, target, negotiationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// NegotiationShow returns the current negotiation state.
func NegotiationShow(svc negotiationsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		negotiationID, err := pathUUID(r, "negotiationID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := negotiationTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.Get(r.Context(), target, negotiationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// NegotiationHistory returns the ordered event trail.
func NegotiationHistory(svc negotiationsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		negotiationID, err := pathUUID(r, "negotiationID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		events, err := svc.History(r.Context(), negotiationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, events)
	}
}
