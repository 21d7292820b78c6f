package negotiations

import (
	"time"

	"github.com/google/uuid"

	"github.com/agrilink/agrilink-backend/pkg/enums"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
)

// Offers expire a day after the last state change.
const negotiationTTL = 24 * time.Hour

// conversation is the kind-independent view both negotiation variants share.
// The transition rules below operate on it; the service maps the result back
// onto the concrete row.
type conversation struct {
	ID           uuid.UUID
	Status       enums.NegotiationStatus
	PriceCents   int64
	ExpiresAt    time.Time
	OfferMaker   uuid.UUID
	Counterparty uuid.UUID
}

func (c conversation) isParty(id uuid.UUID) bool {
	return id == c.OfferMaker || id == c.Counterparty
}

// ensureActionable rejects terminal and expired conversations. Expiry is
// evaluated here at point of use; no sweep is needed for correctness.
func ensureActionable(c conversation, now time.Time) error {
	if !c.Status.IsLive() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "negotiation is closed")
	}
	if !now.Before(c.ExpiresAt) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "negotiation has expired")
	}
	return nil
}

// applyCounter advances the ping-pong: the actor must be a party and must not
// have made the price currently on the table.
func applyCounter(c *conversation, actorID, lastActorID uuid.UUID, priceCents int64, now time.Time) error {
	if err := ensureActionable(*c, now); err != nil {
		return err
	}
	if !c.isParty(actorID) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this negotiation")
	}
	if actorID == lastActorID {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "waiting on the other party")
	}
	if priceCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "counter price must be positive")
	}
	c.Status = enums.NegotiationStatusCountered
	c.PriceCents = priceCents
	c.ExpiresAt = now.Add(negotiationTTL)
	return nil
}

// applyAccept closes the conversation at the price on the table. Only the
// party who received that price may accept it.
func applyAccept(c *conversation, actorID, lastActorID uuid.UUID, now time.Time) error {
	if err := ensureActionable(*c, now); err != nil {
		return err
	}
	if !c.isParty(actorID) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this negotiation")
	}
	if actorID == lastActorID {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cannot accept your own price")
	}
	c.Status = enums.NegotiationStatusAccepted
	return nil
}

// applyReject closes the conversation. Either party may walk away.
func applyReject(c *conversation, actorID uuid.UUID, now time.Time) error {
	if err := ensureActionable(*c, now); err != nil {
		return err
	}
	if !c.isParty(actorID) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this negotiation")
	}
	c.Status = enums.NegotiationStatusRejected
	return nil
}
