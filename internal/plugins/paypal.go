package plugins

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sep_psp/internal/apperror"
	"sep_psp/internal/discovery"
	"sep_psp/internal/httpclient"
	"sep_psp/internal/models"
	"sep_psp/internal/statuscodec"
)

const (
	payPalService    = "paypal"
	payPalSandboxURL = "https://api-m.sandbox.paypal.com"
)

// PayPalPlugin creates PayPal orders and captures them when the buyer returns
type PayPalPlugin struct {
	resolver     discovery.Resolver
	http         *httpclient.Client
	clientID     string
	clientSecret string
	now          func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPayPalPlugin(resolver discovery.Resolver, client *httpclient.Client, clientID, clientSecret string) *PayPalPlugin {
	return &PayPalPlugin{
		resolver:     resolver,
		http:         client,
		clientID:     clientID,
		clientSecret: clientSecret,
		now:          time.Now,
	}
}

func (p *PayPalPlugin) Name() string    { return "PayPal" }
func (p *PayPalPlugin) Type() string    { return TypePayPal }
func (p *PayPalPlugin) IsEnabled() bool { return p.clientID != "" && p.clientSecret != "" }

type payPalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type payPalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type payPalCapture struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Amount payPalAmount `json:"amount"`
}

type payPalOrder struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []payPalLink `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Payments    struct {
			Captures []payPalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// capture returns the first capture recorded on the order
func (o payPalOrder) capture() (payPalCapture, bool) {
	for _, unit := range o.PurchaseUnits {
		if len(unit.Payments.Captures) > 0 {
			return unit.Payments.Captures[0], true
		}
	}
	return payPalCapture{}, false
}

func (o payPalOrder) approveURL() string {
	for _, link := range o.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}

func (p *PayPalPlugin) baseURL() string {
	if addr, err := p.resolver.ResolveServiceAddress(payPalService); err == nil {
		return addr
	}
	return payPalSandboxURL
}

func (p *PayPalPlugin) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && p.now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	err := p.http.Do(ctx, httpclient.Request{
		Method:    http.MethodPost,
		URL:       p.baseURL() + "/v1/oauth2/token",
		Form:      url.Values{"grant_type": {"client_credentials"}},
		BasicUser: p.clientID,
		BasicPass: p.clientSecret,
	}, &resp)
	if err != nil {
		return "", apperror.ExternalService(err, "paypal authentication failed")
	}
	if resp.AccessToken == "" {
		return "", apperror.ExternalService(nil, "paypal returned no access token")
	}

	p.accessToken = resp.AccessToken
	// refresh a minute early
	p.tokenExpiry = p.now().Add(time.Duration(resp.ExpiresIn)*time.Second - time.Minute)
	return p.accessToken, nil
}

func (p *PayPalPlugin) call(ctx context.Context, method, path string, payload, out interface{}) error {
	token, err := p.token(ctx)
	if err != nil {
		return err
	}
	return p.http.Do(ctx, httpclient.Request{
		Method:  method,
		URL:     p.baseURL() + path,
		Headers: map[string]string{"Authorization": "Bearer " + token},
		JSON:    payload,
	}, out)
}

func (p *PayPalPlugin) ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	tx := req.Transaction
	returnURL := withQuery(req.ReturnURL, url.Values{"pspTransactionId": {tx.PSPTransactionID}})
	cancelURL := withQuery(req.ReturnURL, url.Values{"pspTransactionId": {tx.PSPTransactionID}, "cancel": {"true"}})

	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"reference_id": tx.PSPTransactionID,
			"custom_id":    tx.MerchantOrderID,
			"amount": payPalAmount{
				CurrencyCode: strings.ToUpper(tx.Currency),
				Value:        tx.Amount.StringFixed(2),
			},
		}},
		"application_context": map[string]string{
			"return_url":  returnURL,
			"cancel_url":  cancelURL,
			"user_action": "PAY_NOW",
		},
	}

	var order payPalOrder
	if err := p.call(ctx, http.MethodPost, "/v2/checkout/orders", payload, &order); err != nil {
		return nil, apperror.ExternalService(err, "paypal order creation failed")
	}
	approve := order.approveURL()
	if approve == "" {
		return nil, apperror.ExternalService(nil, "paypal order %s has no approval link", order.ID)
	}

	return &PaymentResult{
		Status:                models.TransactionStatusPending,
		Message:               "awaiting buyer approval",
		ExternalTransactionID: order.ID,
		RedirectURL:           approve,
		Data:                  map[string]interface{}{"paypal_order_id": order.ID},
	}, nil
}

func (p *PayPalPlugin) GetStatus(ctx context.Context, tx *models.Transaction) (*StatusResult, error) {
	if tx.ExternalTransactionID == "" {
		return &StatusResult{Status: tx.Status, Message: "no paypal order yet"}, nil
	}
	order, err := p.order(ctx, tx.ExternalTransactionID)
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		Status:                statuscodec.Normalize(statuscodec.SystemPayPal, order.Status),
		RawStatus:             order.Status,
		ExternalTransactionID: order.ID,
	}, nil
}

func (p *PayPalPlugin) order(ctx context.Context, orderID string) (*payPalOrder, error) {
	var order payPalOrder
	if err := p.call(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, &order); err != nil {
		return nil, apperror.ExternalService(err, "paypal order lookup failed")
	}
	return &order, nil
}

func (p *PayPalPlugin) Refund(ctx context.Context, tx *models.Transaction, amount decimal.Decimal) (*RefundResult, error) {
	order, err := p.order(ctx, tx.ExternalTransactionID)
	if err != nil {
		return nil, err
	}
	capture, ok := order.capture()
	if !ok {
		return nil, apperror.Validation("paypal order %s has no capture to refund", order.ID)
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	payload := map[string]interface{}{
		"amount": payPalAmount{CurrencyCode: strings.ToUpper(tx.Currency), Value: amount.StringFixed(2)},
	}
	if err := p.call(ctx, http.MethodPost, "/v2/payments/captures/"+url.PathEscape(capture.ID)+"/refund", payload, &resp); err != nil {
		return nil, apperror.ExternalService(err, "paypal refund failed")
	}

	success := resp.Status == "COMPLETED" || resp.Status == "PENDING"
	return &RefundResult{Success: success, RefundID: resp.ID, Message: "paypal refund " + strings.ToLower(resp.Status)}, nil
}

// ProcessCallback captures the approved order when the buyer returns from PayPal
func (p *PayPalPlugin) ProcessCallback(ctx context.Context, in CallbackInput) (*models.PaymentCallback, error) {
	tx := in.Transaction
	token := in.Params["token"]
	if token != "" && tx.ExternalTransactionID != "" && token != tx.ExternalTransactionID {
		return nil, apperror.Validation("paypal token does not belong to this transaction")
	}

	callback := &models.PaymentCallback{
		PSPTransactionID:      tx.PSPTransactionID,
		ExternalTransactionID: tx.ExternalTransactionID,
		Timestamp:             p.now(),
	}
	if in.Params["cancel"] == "true" {
		callback.Status = models.TransactionStatusCancelled
		callback.RawStatus = "cancel"
		callback.StatusMessage = "buyer cancelled at paypal"
		return callback, nil
	}

	var order payPalOrder
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", url.PathEscape(tx.ExternalTransactionID))
	if err := p.call(ctx, http.MethodPost, path, map[string]interface{}{}, &order); err != nil {
		var statusErr *httpclient.StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnprocessableEntity {
			return nil, apperror.ExternalService(err, "paypal capture failed")
		}
		// a repeated return finds the order already captured
		current, lookupErr := p.order(ctx, tx.ExternalTransactionID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		order = *current
	}

	callback.RawStatus = order.Status
	callback.Status = statuscodec.Normalize(statuscodec.SystemPayPal, order.Status)
	callback.StatusMessage = "paypal order " + strings.ToLower(order.Status)
	if capture, ok := order.capture(); ok {
		callback.AdditionalData = map[string]string{"capture_id": capture.ID}
		if amount, err := decimal.NewFromString(capture.Amount.Value); err == nil {
			callback.Amount = &amount
			callback.Currency = capture.Amount.CurrencyCode
		}
	}
	return callback, nil
}

func (p *PayPalPlugin) ValidateConfiguration(config map[string]interface{}) error {
	if mode := stringValue(config, "mode"); mode != "" && mode != "sandbox" && mode != "live" {
		return apperror.Validation("paypal mode must be sandbox or live")
	}
	return nil
}

func withQuery(base string, params url.Values) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}
