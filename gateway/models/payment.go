package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// PaymentIntentRequest is the body of the payment-intent call. Amounts are in XOF.
type PaymentIntentRequest struct {
	PaymentAmount decimal.Decimal
	Reference     string
	Articles      []Article
}

type Article struct {
	Title       string
	Description string
	Pictures    []string
	Price       decimal.Decimal
}

type wireArticle struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Pictures    []string    `json:"pictures"`
	Price       json.Number `json:"price"`
}

type wireIntent struct {
	PaymentAmount json.Number   `json:"paymentAmount"`
	Reference     string        `json:"reference"`
	Articles      []wireArticle `json:"articles"`
}

// MarshalJSON writes amounts as JSON numbers; decimal's default encoding quotes them.
func (r PaymentIntentRequest) MarshalJSON() ([]byte, error) {
	w := wireIntent{
		PaymentAmount: json.Number(r.PaymentAmount.String()),
		Reference:     r.Reference,
		Articles:      make([]wireArticle, 0, len(r.Articles)),
	}
	for _, a := range r.Articles {
		pictures := a.Pictures
		if pictures == nil {
			pictures = []string{}
		}
		w.Articles = append(w.Articles, wireArticle{
			Title:       a.Title,
			Description: a.Description,
			Pictures:    pictures,
			Price:       json.Number(a.Price.String()),
		})
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts the shape produced by MarshalJSON.
func (r *PaymentIntentRequest) UnmarshalJSON(data []byte) error {
	var w wireIntent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(w.PaymentAmount.String())
	if err != nil {
		return err
	}
	r.PaymentAmount = amount
	r.Reference = w.Reference
	r.Articles = make([]Article, 0, len(w.Articles))
	for _, a := range w.Articles {
		price, err := decimal.NewFromString(a.Price.String())
		if err != nil {
			return err
		}
		r.Articles = append(r.Articles, Article{
			Title:       a.Title,
			Description: a.Description,
			Pictures:    a.Pictures,
			Price:       price,
		})
	}
	return nil
}

// PaymentIntentResponse is the subset of the aggregator's answer the bridge reads.
type PaymentIntentResponse struct {
	ID                              string `json:"id,omitempty"`
	PaymentIntentID                 string `json:"paymentIntentId,omitempty"`
	CheckoutPageURLWithPaymentToken string `json:"checkoutPageUrlWithPaymentToken"`
}

// PaymentStatus values reported by webhooks. Unknown values are tolerated.
type PaymentStatus string

const (
	PaymentStatusDone      PaymentStatus = "DONE"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

type WebhookNotification struct {
	Reference     string
	PaymentStatus PaymentStatus
	TransactionID string
}
