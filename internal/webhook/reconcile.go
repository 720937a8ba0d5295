package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kreezus/yengapay-bridge/gateway/models"
	"golang.org/x/exp/slog"
)

var (
	ErrInvalidJSON    = errors.New("invalid JSON payload")
	ErrIncompleteData = errors.New("incomplete webhook data: reference or paymentStatus missing")
	ErrOrderNotFound  = errors.New("order not found")
)

// TransactionIDUnavailable stands in for a missing transaction id in order notes.
const TransactionIDUnavailable = "N/A"

// OrderStore is the part of the shop's order engine the reconciler drives.
// GetOrder returns an error matching models.ErrOrderNotFound for unknown ids.
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus, note string) error
	SetTransactionID(ctx context.Context, id, transactionID string) error
}

// Action names what a notification did to its order.
type Action string

const (
	ActionCompleted Action = "completed"
	ActionFailed    Action = "failed"
	ActionOnHold    Action = "on-hold"
	ActionCancelled Action = "cancelled"
	// ActionNone covers replays of DONE on settled orders and unknown statuses.
	ActionNone Action = "none"
)

type Outcome struct {
	Reference     string
	PaymentStatus models.PaymentStatus
	TransactionID string
	PreviousState models.OrderStatus
	Action        Action
}

type Reconciler struct {
	logger *slog.Logger
}

func NewReconciler(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{logger: logger.With(slog.String("component", "reconciler"))}
}

// Reconcile applies an authenticated notification to its order. Callers must run
// Authenticate on the same bytes first.
func (r *Reconciler) Reconcile(ctx context.Context, rawBody []byte, store OrderStore) (Outcome, error) {
	n, err := ParseNotification(rawBody)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{
		Reference:     n.Reference,
		PaymentStatus: n.PaymentStatus,
		TransactionID: n.TransactionID,
		Action:        ActionNone,
	}

	order, err := store.GetOrder(ctx, n.Reference)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			return out, fmt.Errorf("%w: %s", ErrOrderNotFound, n.Reference)
		}
		return out, fmt.Errorf("loading order %s: %w", n.Reference, err)
	}
	out.PreviousState = order.Status

	log := r.logger.With(
		slog.String("reference", n.Reference),
		slog.String("payment_status", string(n.PaymentStatus)),
		slog.String("order_status", string(order.Status)),
	)

	var next models.OrderStatus
	var note string
	switch n.PaymentStatus {
	case models.PaymentStatusDone:
		if !order.Status.AwaitingPayment() {
			log.Info("payment already settled, ignoring replay")
			return out, nil
		}
		txn := n.TransactionID
		if txn == "" {
			txn = TransactionIDUnavailable
		}
		next, note = models.OrderStatusCompleted, fmt.Sprintf("YengaPay payment confirmed. Transaction ID: %s", txn)
		out.Action = ActionCompleted
	case models.PaymentStatusFailed:
		next, note = models.OrderStatusFailed, "YengaPay payment failed."
		out.Action = ActionFailed
	case models.PaymentStatusPending:
		next, note = models.OrderStatusOnHold, "YengaPay payment awaiting confirmation."
		out.Action = ActionOnHold
	case models.PaymentStatusCancelled:
		next, note = models.OrderStatusCancelled, "YengaPay payment cancelled by the customer."
		out.Action = ActionCancelled
	default:
		log.Info("unrecognized payment status, ignoring")
		return out, nil
	}

	// The transaction id goes first: once the order is completed a redelivery is a no-op.
	if out.Action == ActionCompleted && n.TransactionID != "" {
		if err := store.SetTransactionID(ctx, order.ID, n.TransactionID); err != nil {
			out.Action = ActionNone
			return out, fmt.Errorf("saving transaction id on order %s: %w", order.ID, err)
		}
	}
	if err := store.UpdateStatus(ctx, order.ID, next, note); err != nil {
		out.Action = ActionNone
		return out, fmt.Errorf("updating order %s to %s: %w", order.ID, next, err)
	}

	log.Info("order updated", slog.String("new_status", string(next)), slog.String("transaction_id", n.TransactionID))
	return out, nil
}

type notificationPayload struct {
	Reference     json.RawMessage `json:"reference"`
	PaymentStatus json.RawMessage `json:"paymentStatus"`
	ID            json.RawMessage `json:"id"`
}

// ParseNotification decodes a webhook body. It does not authenticate it.
func ParseNotification(rawBody []byte) (models.WebhookNotification, error) {
	trimmed := bytes.TrimSpace(rawBody)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return models.WebhookNotification{}, ErrInvalidJSON
	}
	var p notificationPayload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return models.WebhookNotification{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	ref, okRef := scalar(p.Reference)
	status, okStatus := scalar(p.PaymentStatus)
	if !okRef || !okStatus {
		return models.WebhookNotification{}, ErrIncompleteData
	}
	txn, _ := scalar(p.ID)

	return models.WebhookNotification{
		Reference:     ref,
		PaymentStatus: models.PaymentStatus(status),
		TransactionID: txn,
	}, nil
}

// scalar reads a JSON string or number as text. Anything else counts as absent.
func scalar(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}
