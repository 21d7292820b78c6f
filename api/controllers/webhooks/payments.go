package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/agrilink/agrilink-backend/api/responses"
	"github.com/agrilink/agrilink-backend/internal/gateway"
	pkgerrors "github.com/agrilink/agrilink-backend/pkg/errors"
	"github.com/agrilink/agrilink-backend/pkg/logger"
)

const signatureHeader = "X-Gateway-Signature"

type depositHandler interface {
	HandleDeposit(ctx context.Context, event *gateway.DepositEvent) error
}

type deliveryGuard interface {
	CheckAndMark(ctx context.Context, externalRef string) (bool, error)
	Delete(ctx context.Context, externalRef string) error
}

// PaymentWebhook receives deposit confirmations from the payment gateway.
// The shared-secret HMAC gates entry; the guard and the ledger's external_ref
// index make redelivery safe.
func PaymentWebhook(svc depositHandler, guard deliveryGuard, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}
		if secret == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook secret not configured"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(signatureHeader))
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "gateway signature missing"))
			return
		}
		if !validSignature(payload, secret, signature) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid gateway signature"))
			return
		}

		var event gateway.DepositEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}

		ref := strings.TrimSpace(event.ExternalRef)
		if ref == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "external reference required"))
			return
		}

		seen, err := guard.CheckAndMark(ctx, ref)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if seen {
			responses.WriteSuccess(w, map[string]string{"status": "duplicate"})
			return
		}

		if err := svc.HandleDeposit(ctx, &event); err != nil {
			// Release the mark so the gateway's retry can land.
			_ = guard.Delete(ctx, ref)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "credited"})
	}
}

func validSignature(payload []byte, secret, provided string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(provided)))
}
