package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kreezus/yengapay-bridge/internal/webhook"
	"github.com/stretchr/testify/require"
)

func TestSignCmd(t *testing.T) {
	body := `{"reference":"42","paymentStatus":"DONE","id":"TXN1"}`

	cmd := signCmd()
	cmd.Flags().StringP("config", "c", "", "")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(body))
	cmd.SetArgs([]string{"--secret", "whsec"})

	require.NoError(t, cmd.Execute())
	require.Equal(t, webhook.Sign([]byte(body), "whsec"), strings.TrimSpace(out.String()))
}

func TestWebhookURLCmd(t *testing.T) {
	t.Setenv("PUBLIC_URL", "https://shop.example")
	t.Setenv("YENGAPAY_API_KEY", "abcdef123456")

	cmd := webhookURLCmd()
	cmd.Flags().StringP("config", "c", "", "")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "https://shop.example/webhooks/yengapay")
	require.NotContains(t, out.String(), "abcdef123456")
	require.Contains(t, out.String(), "3456")
}
