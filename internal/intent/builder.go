// Package intent turns shop orders into payment-intent requests for the aggregator.
package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/kreezus/yengapay-bridge/gateway/models"
	"github.com/kreezus/yengapay-bridge/internal/currency"
	"github.com/shopspring/decimal"
)

type Builder struct {
	normalizer *currency.Normalizer
}

func NewBuilder(normalizer *currency.Normalizer) *Builder {
	return &Builder{normalizer: normalizer}
}

// Build assembles the payment-intent request for order. Every article price and the
// total are converted into XOF on their own, using the order currency. The returned
// rate is the one applied, 1 for XOF orders.
func (b *Builder) Build(ctx context.Context, order *models.Order) (models.PaymentIntentRequest, decimal.Decimal, error) {
	req := models.PaymentIntentRequest{
		Reference: order.ID,
		Articles:  make([]models.Article, 0, len(order.Items)),
	}

	for _, item := range order.Items {
		price, _, err := b.normalizer.Normalize(ctx, item.Total, order.Currency)
		if err != nil {
			return models.PaymentIntentRequest{}, decimal.Zero, fmt.Errorf("converting price of %q: %w", item.Name, err)
		}

		pictures := []string{}
		if img := strings.TrimSpace(item.ImageURL); img != "" {
			pictures = append(pictures, img)
		}

		req.Articles = append(req.Articles, models.Article{
			Title:       item.Name,
			Description: StripMarkup(item.Description),
			Pictures:    pictures,
			Price:       currency.Round(price),
		})
	}

	total, rate, err := b.normalizer.Normalize(ctx, order.Total, order.Currency)
	if err != nil {
		return models.PaymentIntentRequest{}, decimal.Zero, fmt.Errorf("converting order total: %w", err)
	}
	req.PaymentAmount = currency.Round(total)

	return req, rate, nil
}
