//go:build !softhsm

package gateway

import (
	"fmt"
	"io"

	"github.com/kreezus/yengapay-bridge/internal/webhook"
)

func openWebhookMAC(cfg HSMConfig) (webhook.MACFunc, io.Closer, error) {
	if cfg.Lib != "" {
		return nil, nil, fmt.Errorf("HSM_LIB is set but the binary was built without the softhsm tag")
	}
	return nil, nil, nil
}
