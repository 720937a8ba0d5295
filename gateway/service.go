package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kreezus/yengapay-bridge/gateway/models"
	"github.com/kreezus/yengapay-bridge/internal/aggregator"
	"github.com/kreezus/yengapay-bridge/internal/currency"
	"github.com/kreezus/yengapay-bridge/internal/intent"
	"github.com/kreezus/yengapay-bridge/internal/webhook"
	"golang.org/x/exp/slog"
)

const (
	CheckoutSuccess = "success"
	CheckoutFail    = "fail"

	// FailureNotice is what buyers see when a payment cannot be started. It never
	// carries aggregator details.
	FailureNotice = "Payment error: we could not start your YengaPay payment. Please try again or choose another payment method."

	awaitingPaymentNote = "Awaiting YengaPay payment."
)

var (
	ErrGatewayDisabled   = errors.New("yengapay payment method is disabled")
	ErrGatewayIncomplete = errors.New("yengapay credentials are not configured")
	ErrOrderNotPayable   = errors.New("order is not awaiting payment")
)

// Store is what the gateway needs from the shop: the order engine and the buyer's cart.
type Store interface {
	webhook.OrderStore
	AddNote(ctx context.Context, id, note string) error
	EmptyCart(ctx context.Context, customerID string) error
}

// PaymentInitiator opens payment intents on the aggregator.
type PaymentInitiator interface {
	Initiate(ctx context.Context, creds aggregator.Credentials, req models.PaymentIntentRequest) (string, error)
}

// CheckoutResult is returned to the storefront after a checkout attempt.
type CheckoutResult struct {
	Result   string `json:"result"`
	Redirect string `json:"redirect,omitempty"`
	Notice   string `json:"notice,omitempty"`
}

func failed() CheckoutResult {
	return CheckoutResult{Result: CheckoutFail, Notice: FailureNotice}
}

type Service struct {
	store      Store
	builder    *intent.Builder
	initiator  PaymentInitiator
	auth       *webhook.Authenticator
	reconciler *webhook.Reconciler
	cfg        *Config
	logger     *slog.Logger
}

func NewService(store Store, rates currency.RateSource, initiator PaymentInitiator, cfg *Config, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		builder:    intent.NewBuilder(currency.NewNormalizer(rates)),
		initiator:  initiator,
		auth:       webhook.NewAuthenticator(nil),
		reconciler: webhook.NewReconciler(logger),
		cfg:        cfg,
		logger:     logger,
	}
}

// SetWebhookMAC replaces the in-process HMAC, e.g. with an HSM-backed one.
func (s *Service) SetWebhookMAC(mac webhook.MACFunc) {
	s.auth = webhook.NewAuthenticator(mac)
}

// Checkout starts a YengaPay payment for the order. On success the order is left pending,
// the buyer's cart is emptied and the result carries the hosted checkout URL. Any failure
// yields a "fail" result with a generic notice, leaves the order untouched, and the cause
// is returned as the error.
func (s *Service) Checkout(ctx context.Context, orderID string) (CheckoutResult, error) {
	log := s.logger.With(slog.String("order_id", orderID))

	if !s.cfg.Enabled {
		return failed(), ErrGatewayDisabled
	}
	if missing := s.cfg.MissingSettings(); hasCredentialGap(missing) {
		log.Error("checkout refused, settings missing", slog.Any("missing", missing))
		return failed(), ErrGatewayIncomplete
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("finding order: %w", err)
	}
	log = log.With(
		slog.String("currency", order.Currency),
		slog.String("total", order.Total.String()),
	)
	if order.Status != "" && !order.Status.AwaitingPayment() {
		log.Warn("checkout refused", slog.String("order_status", string(order.Status)))
		return failed(), fmt.Errorf("%w: order %s is %s", ErrOrderNotPayable, order.ID, order.Status)
	}

	req, rate, err := s.builder.Build(ctx, order)
	if err != nil {
		log.Error("building payment intent", "err", err)
		return failed(), err
	}

	redirect, err := s.initiator.Initiate(ctx, s.cfg.Credentials(), req)
	if err != nil {
		attrs := []any{"err", err, slog.String("amount_xof", req.PaymentAmount.String())}
		var ierr *aggregator.InitiationError
		if errors.As(err, &ierr) && ierr.StatusCode != 0 {
			attrs = append(attrs, slog.Int("status", ierr.StatusCode))
		}
		log.Error("payment initiation failed", attrs...)
		return failed(), err
	}

	if currency.Code(order.Currency) != currency.XOF {
		note := fmt.Sprintf("Amount converted from %s %s to %s XOF (rate: 1 %s = %s XOF)",
			order.Total, currency.Code(order.Currency), req.PaymentAmount, currency.Code(order.Currency), rate)
		if err := s.store.AddNote(ctx, order.ID, note); err != nil {
			log.Error("recording conversion note", "err", err)
		}
	}
	if err := s.store.UpdateStatus(ctx, order.ID, models.OrderStatusPending, awaitingPaymentNote); err != nil {
		log.Error("marking order pending", "err", err)
	}
	if order.CustomerID != "" {
		if err := s.store.EmptyCart(ctx, order.CustomerID); err != nil {
			log.Error("emptying cart", "err", err, slog.String("customer_id", order.CustomerID))
		}
	}

	log.Info("checkout redirected to yengapay", slog.String("amount_xof", req.PaymentAmount.String()))
	return CheckoutResult{Result: CheckoutSuccess, Redirect: redirect}, nil
}

func hasCredentialGap(missing []string) bool {
	for _, m := range missing {
		if m != "webhook_secret" {
			return true
		}
	}
	return false
}

// HandleWebhook authenticates a raw notification and applies it to its order.
func (s *Service) HandleWebhook(ctx context.Context, rawBody []byte, lookup webhook.HeaderLookup) (webhook.Outcome, error) {
	if err := s.auth.Authenticate(rawBody, lookup, s.cfg.WebhookSecret); err != nil {
		switch {
		case errors.Is(err, webhook.ErrUnconfigured):
			s.logger.Error("webhook rejected: secret not configured")
		case errors.Is(err, webhook.ErrMACUnavailable):
			s.logger.Error("webhook rejected: signature could not be computed", "err", err)
		case errors.Is(err, webhook.ErrMissingHeader), errors.Is(err, webhook.ErrEmptyPayload), errors.Is(err, webhook.ErrInvalidSignature):
			s.logger.Warn("webhook rejected", "err", err, slog.Int("bytes", len(rawBody)))
		default:
			s.logger.Error("webhook authentication failed", "err", err)
		}
		return webhook.Outcome{}, err
	}

	out, err := s.reconciler.Reconcile(ctx, rawBody, s.store)
	if err != nil {
		level := slog.LevelWarn
		if !isClientError(err) {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "webhook not applied", "err", err, slog.String("reference", out.Reference))
		return out, err
	}
	return out, nil
}

func isClientError(err error) bool {
	for _, target := range []error{
		webhook.ErrMissingHeader, webhook.ErrEmptyPayload, webhook.ErrInvalidSignature,
		webhook.ErrInvalidJSON, webhook.ErrIncompleteData, webhook.ErrOrderNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// publicMessage is the short text returned to webhook callers.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, webhook.ErrUnconfigured), errors.Is(err, webhook.ErrInvalidSignature):
		return webhook.ErrInvalidSignature.Error()
	case errors.Is(err, webhook.ErrInvalidJSON):
		return webhook.ErrInvalidJSON.Error()
	case isClientError(err):
		return strings.TrimSpace(err.Error())
	}
	return "webhook could not be processed"
}
