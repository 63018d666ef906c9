package routing

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"sep_psp/internal/apperror"
	"sep_psp/internal/bankapi"
	"sep_psp/internal/discovery"
	"sep_psp/internal/httpclient"
)

const networkService = "pcc"

// BankService returns the logical service name of a bank
func BankService(bankID string) string {
	return "bank-" + strings.ToLower(bankID)
}

// PCCClient is the acquirer's NetworkClient
type PCCClient struct {
	resolver discovery.Resolver
	http     *httpclient.Client
	apiKey   string
}

func NewPCCClient(resolver discovery.Resolver, client *httpclient.Client, apiKey string) *PCCClient {
	return &PCCClient{resolver: resolver, http: client, apiKey: apiKey}
}

func (c *PCCClient) post(ctx context.Context, path string, payload, out interface{}) error {
	base, err := c.resolver.ResolveServiceAddress(networkService)
	if err != nil {
		return apperror.ExternalService(err, "card network is not reachable")
	}
	headers := map[string]string{bankapi.APIKeyHeader: c.apiKey}
	if err := c.http.PostJSON(ctx, base+path, headers, payload, out); err != nil {
		return apperror.ExternalService(err, "card network request failed")
	}
	return nil
}

func (c *PCCClient) Authorize(ctx context.Context, req bankapi.NetworkRequest) (*bankapi.NetworkResponse, error) {
	var resp bankapi.NetworkResponse
	if err := c.post(ctx, "/api/network/authorize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *PCCClient) Refund(ctx context.Context, req bankapi.NetworkRefundRequest) (*bankapi.PaymentResult, error) {
	var resp bankapi.PaymentResult
	if err := c.post(ctx, "/api/network/refund", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BINRouter picks the issuing bank for a card
type BINRouter interface {
	RouteBIN(pan string) (string, bool)
}

// Forwarder is the card network: it relays acquirer requests to the issuing bank chosen by BIN
type Forwarder struct {
	resolver discovery.Resolver
	routes   BINRouter
	http     *httpclient.Client
	apiKey   string
}

func NewForwarder(resolver discovery.Resolver, routes BINRouter, client *httpclient.Client, apiKey string) *Forwarder {
	return &Forwarder{resolver: resolver, routes: routes, http: client, apiKey: apiKey}
}

func (f *Forwarder) issuerURL(bankID string) (string, error) {
	return f.resolver.ResolveServiceAddress(BankService(bankID))
}

// Authorize forwards an authorization to the issuer. Unroutable cards are declined and an unreachable
// issuer is reported as ISSUER_UNAVAILABLE so the acquirer always gets an answer.
func (f *Forwarder) Authorize(ctx context.Context, req bankapi.NetworkRequest) (*bankapi.NetworkResponse, error) {
	if req.AcquirerOrderID == "" || !req.Amount.IsPositive() {
		return nil, apperror.Validation("acquirer order id and a positive amount are required")
	}
	issuer, ok := f.routes.RouteBIN(req.PAN)
	if !ok {
		slog.Warn("no issuer for card", "acquirer_order_id", req.AcquirerOrderID, "acquirer_bank_id", req.AcquirerBankID)
		return &bankapi.NetworkResponse{Success: false, Status: bankapi.StatusDeclined, StatusMessage: "no issuer for card"}, nil
	}
	if strings.EqualFold(issuer, req.AcquirerBankID) {
		return nil, apperror.Validation("card is issued by the acquirer and must not be routed through the network")
	}

	unavailable := &bankapi.NetworkResponse{Success: false, IssuerBankID: issuer, Status: bankapi.StatusIssuerUnavailable, StatusMessage: "issuer unavailable"}
	base, err := f.issuerURL(issuer)
	if err != nil {
		slog.Error("issuer bank is not registered", "issuer_bank_id", issuer, "error", err)
		return unavailable, nil
	}

	var resp bankapi.NetworkResponse
	headers := map[string]string{bankapi.APIKeyHeader: f.apiKey}
	if err := f.http.PostJSON(ctx, base+"/api/issuer/authorize", headers, req, &resp); err != nil {
		slog.Error("issuer authorization failed", "issuer_bank_id", issuer, "acquirer_order_id", req.AcquirerOrderID, "error", err)
		return unavailable, nil
	}
	slog.Info("authorization forwarded",
		"acquirer_bank_id", req.AcquirerBankID,
		"issuer_bank_id", issuer,
		"acquirer_order_id", req.AcquirerOrderID,
		"status", resp.Status)
	return &resp, nil
}

// Refund forwards a reversal to the issuer that authorized the payment
func (f *Forwarder) Refund(ctx context.Context, req bankapi.NetworkRefundRequest) (*bankapi.PaymentResult, error) {
	if req.IssuerBankID == "" || req.IssuerOrderID == "" {
		return nil, apperror.Validation("issuer bank and issuer order id are required")
	}
	base, err := f.issuerURL(req.IssuerBankID)
	if err != nil {
		return nil, apperror.ExternalService(err, "issuer %s is not registered", req.IssuerBankID)
	}

	var resp bankapi.PaymentResult
	headers := map[string]string{bankapi.APIKeyHeader: f.apiKey}
	if err := f.http.PostJSON(ctx, base+"/api/issuer/refund", headers, req, &resp); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < 500 {
			return &bankapi.PaymentResult{Success: false, Status: bankapi.StatusDeclined, Message: "issuer rejected refund"}, nil
		}
		return nil, apperror.ExternalService(err, "issuer refund failed")
	}
	return &resp, nil
}
