package routing

import (
	"context"
	"log/slog"
	"time"

	"sep_psp/internal/apperror"
	"sep_psp/internal/bankapi"
	"sep_psp/internal/discovery"
	"sep_psp/internal/httpclient"
)

const pspService = "psp"

// PSPNotifier posts settlement outcomes back to the PSP's server callback endpoint
type PSPNotifier struct {
	resolver discovery.Resolver
	http     *httpclient.Client
	apiKey   string
	attempts int
	backoff  time.Duration
}

func NewPSPNotifier(resolver discovery.Resolver, client *httpclient.Client, apiKey string) *PSPNotifier {
	return &PSPNotifier{resolver: resolver, http: client, apiKey: apiKey, attempts: 3, backoff: time.Second}
}

// CallbackFor builds the server callback for a settled payment
func CallbackFor(result *Result, now time.Time) bankapi.ServerCallback {
	p := result.Payment
	amount := p.Amount
	return bankapi.ServerCallback{
		PSPTransactionID:      p.PSPTransactionID,
		MerchantOrderID:       p.MerchantOrderID,
		ExternalTransactionID: p.AcquirerOrderID,
		Status:                result.Status,
		Message:               result.Message,
		Amount:                &amount,
		Currency:              p.Currency,
		Timestamp:             now,
	}
}

// Notify delivers cb, retrying with a linear backoff. The PSP also learns the outcome by polling,
// so a final failure is only logged.
func (n *PSPNotifier) Notify(ctx context.Context, cb bankapi.ServerCallback) error {
	base, err := n.resolver.ResolveServiceAddress(pspService)
	if err != nil {
		return apperror.ExternalService(err, "psp is not registered")
	}
	headers := map[string]string{bankapi.APIKeyHeader: n.apiKey}

	for attempt := 1; ; attempt++ {
		err = n.http.PostJSON(ctx, base+"/api/callbacks/bank", headers, cb, nil)
		if err == nil {
			slog.Info("psp notified", "psp_transaction_id", cb.PSPTransactionID, "status", cb.Status, "attempt", attempt)
			return nil
		}
		if attempt >= n.attempts {
			slog.Error("psp notification failed", "psp_transaction_id", cb.PSPTransactionID, "attempts", attempt, "error", err)
			return apperror.ExternalService(err, "psp notification failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * n.backoff):
		}
	}
}
