//go:build softhsm

package gateway

import (
	"io"

	"github.com/kreezus/yengapay-bridge/internal/webhook"
	"github.com/kreezus/yengapay-bridge/internal/webhook/hsm"
)

func openWebhookMAC(cfg HSMConfig) (webhook.MACFunc, io.Closer, error) {
	if cfg.Lib == "" {
		return nil, nil, nil
	}
	mac := hsm.NewMAC(cfg.Lib, cfg.Slot, cfg.PIN)
	if err := mac.Open(); err != nil {
		return nil, nil, err
	}
	return mac.Sum, mac, nil
}
