package plugins

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"sep_psp/internal/apperror"
	"sep_psp/internal/bankapi"
	"sep_psp/internal/discovery"
	"sep_psp/internal/httpclient"
)

// DefaultBankService is the logical name of the merchant's bank when the payment type configuration names none
const DefaultBankService = "bank"

// bankClient calls the merchant's acquiring bank on behalf of the card and QR plugins
type bankClient struct {
	resolver discovery.Resolver
	http     *httpclient.Client
	apiKey   string
}

// serviceName is recorded in the transaction's payment data so later status and refund calls reach the same bank
func (c *bankClient) serviceName(config map[string]interface{}) string {
	if service := stringValue(config, "bank_service"); service != "" {
		return service
	}
	return DefaultBankService
}

func (c *bankClient) baseURL(config map[string]interface{}) (string, error) {
	service := c.serviceName(config)
	addr, err := c.resolver.ResolveServiceAddress(service)
	if err != nil {
		return "", apperror.ExternalService(err, "bank service %s is not reachable", service)
	}
	return addr, nil
}

func (c *bankClient) headers() map[string]string {
	return map[string]string{bankapi.APIKeyHeader: c.apiKey}
}

func (c *bankClient) pay(ctx context.Context, config map[string]interface{}, req bankapi.CardPaymentRequest) (*bankapi.PaymentResult, error) {
	base, err := c.baseURL(config)
	if err != nil {
		return nil, err
	}
	var result bankapi.PaymentResult
	if err := c.http.PostJSON(ctx, base+"/api/card-payments", c.headers(), req, &result); err != nil {
		return nil, bankError(err, "card payment")
	}
	return &result, nil
}

func (c *bankClient) generateQR(ctx context.Context, config map[string]interface{}, req bankapi.QRGenerateRequest) (*bankapi.QRGenerateResponse, error) {
	base, err := c.baseURL(config)
	if err != nil {
		return nil, err
	}
	var result bankapi.QRGenerateResponse
	if err := c.http.PostJSON(ctx, base+"/api/qr/generate", c.headers(), req, &result); err != nil {
		return nil, bankError(err, "QR generation")
	}
	return &result, nil
}

// status returns the bank's record for a PSP transaction, or nil when the bank has none
func (c *bankClient) status(ctx context.Context, config map[string]interface{}, pspTransactionID string) (*bankapi.PaymentResult, error) {
	base, err := c.baseURL(config)
	if err != nil {
		return nil, err
	}
	var result bankapi.PaymentResult
	endpoint := base + "/api/payments/" + url.PathEscape(bankapi.AcquirerOrderID(pspTransactionID))
	if err := c.http.GetJSON(ctx, endpoint, c.headers(), &result); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, bankError(err, "payment status")
	}
	return &result, nil
}

func (c *bankClient) refund(ctx context.Context, config map[string]interface{}, pspTransactionID string, req bankapi.RefundRequest) (*bankapi.PaymentResult, error) {
	base, err := c.baseURL(config)
	if err != nil {
		return nil, err
	}
	var result bankapi.PaymentResult
	endpoint := base + "/api/payments/" + url.PathEscape(bankapi.AcquirerOrderID(pspTransactionID)) + "/refund"
	if err := c.http.PostJSON(ctx, endpoint, c.headers(), req, &result); err != nil {
		return nil, bankError(err, "refund")
	}
	return &result, nil
}

func bankError(err error, operation string) error {
	return apperror.ExternalService(err, "bank %s failed", operation)
}
