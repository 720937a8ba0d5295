package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/kreezus/yengapay-bridge/gateway/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

var testCreds = Credentials{GroupID: "grp-1", APIKey: "secret-api-key", ProjectID: "proj 7"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleIntent() models.PaymentIntentRequest {
	return models.PaymentIntentRequest{
		PaymentAmount: decimal.NewFromInt(3500),
		Reference:     "42",
		Articles: []models.Article{
			{Title: "Mango", Description: "Ripe", Price: decimal.NewFromInt(1000)},
			{Title: "Papaya", Description: "Sweet", Pictures: []string{"https://img.example/p.png"}, Price: decimal.NewFromInt(2500)},
		},
	}
}

func TestInitiate_Success(t *testing.T) {
	var gotPath, gotKey, gotCT, gotAccept string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotPath = r.URL.EscapedPath()
		gotKey = r.Header.Get("x-api-key")
		gotCT = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"pi_1","checkoutPageUrlWithPaymentToken":"https://pay.example/checkout?token=abc"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, testLogger())
	redirect, err := c.Initiate(context.Background(), testCreds, sampleIntent())
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/checkout?token=abc", redirect)

	require.Equal(t, "/api/v1/groups/grp-1/payment-intent/proj%207", gotPath)
	require.Equal(t, "secret-api-key", gotKey)
	require.Equal(t, "application/json", gotCT)
	require.Equal(t, "application/json", gotAccept)
	require.Equal(t, float64(3500), gotBody["paymentAmount"])
	require.Equal(t, "42", gotBody["reference"])
	articles := gotBody["articles"].([]any)
	require.Len(t, articles, 2)
	first := articles[0].(map[string]any)
	require.Equal(t, "Mango", first["title"])
	require.Equal(t, []any{}, first["pictures"])
	require.Equal(t, float64(1000), first["price"])
}

func TestInitiate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   error
	}{
		{"service unavailable", http.StatusServiceUnavailable, `{"message":"maintenance"}`, ErrRejected},
		{"unauthorized", http.StatusUnauthorized, ``, ErrRejected},
		{"not json", http.StatusOK, `<html>oops</html>`, ErrMalformedResponse},
		{"truncated json", http.StatusOK, `{"checkoutPageUrlWithPaymentToken":`, ErrMalformedResponse},
		{"missing url", http.StatusOK, `{"id":"pi_2"}`, ErrMissingRedirect},
		{"empty url", http.StatusCreated, `{"checkoutPageUrlWithPaymentToken":"  "}`, ErrMissingRedirect},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, nil, testLogger()).Initiate(context.Background(), testCreds, sampleIntent())
			require.ErrorIs(t, err, tc.kind)

			var ierr *InitiationError
			require.ErrorAs(t, err, &ierr)
			if tc.kind == ErrRejected {
				require.Equal(t, tc.status, ierr.StatusCode)
			}
		})
	}
}

func TestInitiate_Rejected503(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil, testLogger()).Initiate(context.Background(), testCreds, sampleIntent())
	var ierr *InitiationError
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, ErrRejected, ierr.Kind)
	require.Equal(t, 503, ierr.StatusCode)
	require.Contains(t, ierr.Error(), "Service Unavailable")
}

func TestInitiate_Transport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	_, err := New(base, nil, testLogger()).Initiate(context.Background(), testCreds, sampleIntent())
	require.ErrorIs(t, err, ErrTransport)
}

func TestInitiate_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	hc := &http.Client{Timeout: 50 * time.Millisecond}
	_, err := New(srv.URL, hc, testLogger()).Initiate(context.Background(), testCreds, sampleIntent())
	require.ErrorIs(t, err, ErrTransport)
	require.Contains(t, err.Error(), "timed out")
}

func TestInitiate_SingleAttempt(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil, testLogger()).Initiate(context.Background(), testCreds, sampleIntent())
	require.ErrorIs(t, err, ErrRejected)
	require.Equal(t, 1, calls)
}

func TestInitiate_RedirectLimit(t *testing.T) {
	hops := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops++
		http.Redirect(w, r, srv.URL+r.URL.Path, http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil, testLogger()).Initiate(context.Background(), testCreds, sampleIntent())
	require.ErrorIs(t, err, ErrTransport)
	require.Equal(t, MaxRedirects+1, hops)
}

func TestInitiate_FollowsMaxRedirects(t *testing.T) {
	hops := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("n"))
		hops++
		if n < MaxRedirects {
			http.Redirect(w, r, fmt.Sprintf("%s%s?n=%d", srv.URL, r.URL.EscapedPath(), n+1), http.StatusTemporaryRedirect)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"checkoutPageUrlWithPaymentToken":"https://pay.example/after-redirects"}`))
	}))
	defer srv.Close()

	redirect, err := New(srv.URL, nil, testLogger()).Initiate(context.Background(), testCreds, sampleIntent())
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/after-redirects", redirect)
	require.Equal(t, MaxRedirects+1, hops)
}
