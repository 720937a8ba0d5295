// Package aggregator talks to the YengaPay payment-intent API.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kreezus/yengapay-bridge/gateway/models"
	"github.com/kreezus/yengapay-bridge/internal/mask"
	"golang.org/x/exp/slog"
)

const (
	DefaultBaseURL = "https://api.yengapay.com"
	DefaultTimeout = 60 * time.Second
	MaxRedirects   = 5

	maxResponseBytes = 1 << 20
	logExcerptBytes  = 512
)

// Credentials identify the merchant project on the aggregator.
type Credentials struct {
	GroupID   string
	APIKey    string
	ProjectID string
}

type Client struct {
	Base   string
	HTTP   *http.Client
	logger *slog.Logger
}

// New returns a client for the aggregator at base. A nil hc gets the reference
// limits: a 60 second timeout and at most 5 redirects.
func New(base string, hc *http.Client, logger *slog.Logger) *Client {
	if base == "" {
		base = DefaultBaseURL
	}
	if hc == nil {
		hc = NewHTTPClient(DefaultTimeout, MaxRedirects)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		Base:   strings.TrimRight(base, "/"),
		HTTP:   hc,
		logger: logger.With(slog.String("component", "aggregator")),
	}
}

// NewHTTPClient returns a client bounded by timeout that follows at most maxRedirects redirects.
func NewHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: limitRedirects(maxRedirects),
	}
}

func limitRedirects(max int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		// via holds every request made so far; the first one is not a redirect.
		if len(via) > max {
			return fmt.Errorf("stopped after %d redirects", max)
		}
		return nil
	}
}

// Endpoint returns the payment-intent URL for the given merchant project.
func (c *Client) Endpoint(creds Credentials) string {
	return fmt.Sprintf("%s/api/v1/groups/%s/payment-intent/%s",
		c.Base, url.PathEscape(creds.GroupID), url.PathEscape(creds.ProjectID))
}

// Initiate opens a payment intent and returns the hosted checkout URL the buyer must be
// sent to. It makes exactly one attempt. Failures are *InitiationError values.
func (c *Client) Initiate(ctx context.Context, creds Credentials, req models.PaymentIntentRequest) (string, error) {
	log := c.logger.With(
		slog.String("attempt_id", uuid.NewString()),
		slog.String("reference", req.Reference),
		slog.String("amount", req.PaymentAmount.String()),
		slog.String("currency", "XOF"),
		slog.Int("articles", len(req.Articles)),
		slog.String("api_key", mask.Secret(creds.APIKey)),
	)

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding payment intent: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(creds), bytes.NewReader(body))
	if err != nil {
		log.Error("building payment intent request", "err", err)
		return "", &InitiationError{Kind: ErrTransport, Message: "building request", Err: err}
	}
	httpReq.Header.Set("x-api-key", creds.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		log.Error("payment intent request failed", "err", err, slog.Duration("elapsed", time.Since(started)))
		return "", &InitiationError{Kind: ErrTransport, Message: transportMessage(err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		log.Error("reading payment intent response", "err", err, slog.Int("status", resp.StatusCode))
		return "", &InitiationError{Kind: ErrTransport, StatusCode: resp.StatusCode, Message: "reading response", Err: err}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		log.Error("payment intent rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("body", mask.Excerpt(raw, logExcerptBytes)),
		)
		return "", &InitiationError{
			Kind:       ErrRejected,
			StatusCode: resp.StatusCode,
			Message:    rejectionMessage(resp.StatusCode, raw),
		}
	}

	var out models.PaymentIntentResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Error("decoding payment intent response", "err", err,
			slog.Int("status", resp.StatusCode),
			slog.String("body", mask.Excerpt(raw, logExcerptBytes)),
		)
		return "", &InitiationError{Kind: ErrMalformedResponse, StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
	}

	redirect := strings.TrimSpace(out.CheckoutPageURLWithPaymentToken)
	if redirect == "" {
		log.Error("payment intent response has no checkout url",
			slog.Int("status", resp.StatusCode),
			slog.String("body", mask.Excerpt(raw, logExcerptBytes)),
		)
		return "", &InitiationError{Kind: ErrMissingRedirect, StatusCode: resp.StatusCode}
	}

	log.Info("payment intent created",
		slog.Int("status", resp.StatusCode),
		slog.String("intent_id", firstNonEmpty(out.PaymentIntentID, out.ID)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return redirect, nil
}

func transportMessage(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return "request timed out"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	return err.Error()
}

func rejectionMessage(status int, body []byte) string {
	msg := http.StatusText(status)
	if excerpt := mask.Excerpt(body, 200); excerpt != "" {
		if msg == "" {
			return excerpt
		}
		msg += ": " + excerpt
	}
	return msg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
