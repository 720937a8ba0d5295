package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kreezus/yengapay-bridge/internal/aggregator"
	"github.com/kreezus/yengapay-bridge/internal/currency"
	"github.com/kreezus/yengapay-bridge/internal/webhook"
)

const maxWebhookBytes = 1 << 20

// API is a HTTP API for the gateway service
type API struct {
	gateway *Service
	// webhookMW wraps the webhook route only, e.g. with a rate limiter.
	webhookMW []func(http.Handler) http.Handler
}

func NewAPI(gateway *Service, webhookMW ...func(http.Handler) http.Handler) *API {
	return &API{
		gateway:   gateway,
		webhookMW: webhookMW,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Post("/orders/{orderID}/checkout", a.checkout)
	r.With(a.webhookMW...).Post(WebhookPath, a.webhook)
}

// webhookResponse mirrors the acknowledgement shape the aggregator expects.
type webhookResponse struct {
	Success bool   `json:"success"`
	Data    string `json:"data"`
}

func (a *API) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, webhookResponse{Success: false, Data: "unable to read payload"})
		return
	}

	if _, err := a.gateway.HandleWebhook(r.Context(), body, webhook.HeaderFromRequest(r)); err != nil {
		writeJSON(w, http.StatusBadRequest, webhookResponse{Success: false, Data: publicMessage(err)})
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Success: true, Data: "Webhook processed successfully"})
}

func (a *API) checkout(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	result, err := a.gateway.Checkout(r.Context(), orderID)
	if err != nil && result.Result == "" {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, "checkout failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, checkoutStatus(err), result)
}

func checkoutStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrGatewayDisabled), errors.Is(err, ErrGatewayIncomplete):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrOrderNotPayable):
		return http.StatusConflict
	case errors.Is(err, currency.ErrRateUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, aggregator.ErrTransport), errors.Is(err, aggregator.ErrRejected),
		errors.Is(err, aggregator.ErrMalformedResponse), errors.Is(err, aggregator.ErrMissingRedirect):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
