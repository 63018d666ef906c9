package plugins

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sep_psp/internal/apperror"
	"sep_psp/internal/bankapi"
	"sep_psp/internal/discovery"
	"sep_psp/internal/httpclient"
	"sep_psp/internal/models"
	"sep_psp/internal/statuscodec"
)

// CardPlugin sends card payments to the merchant's acquiring bank
type CardPlugin struct {
	bank    *bankClient
	enabled bool
	now     func() time.Time
}

func NewCardPlugin(resolver discovery.Resolver, client *httpclient.Client, apiKey string) *CardPlugin {
	return &CardPlugin{
		bank:    &bankClient{resolver: resolver, http: client, apiKey: apiKey},
		enabled: true,
		now:     time.Now,
	}
}

func (p *CardPlugin) Name() string    { return "Credit / Debit Card" }
func (p *CardPlugin) Type() string    { return TypeCard }
func (p *CardPlugin) IsEnabled() bool { return p.enabled }

// CardDetails is the buyer input accepted by the card plugin
type CardDetails struct {
	PAN          string
	SecurityCode string
	HolderName   string
	ExpiryMonth  int
	ExpiryYear   int
}

// ParseCardDetails reads card fields from process-payment data and checks them before anything leaves the PSP
func ParseCardDetails(data map[string]interface{}, now time.Time) (*CardDetails, error) {
	card := &CardDetails{
		PAN:          strings.NewReplacer(" ", "", "-", "").Replace(stringValue(data, "pan", "card_number", "cardNumber")),
		SecurityCode: strings.TrimSpace(stringValue(data, "security_code", "securityCode", "cvv")),
		HolderName:   strings.TrimSpace(stringValue(data, "holder_name", "cardHolderName", "holderName")),
	}
	if card.PAN == "" || card.SecurityCode == "" || card.HolderName == "" {
		return nil, apperror.Validation("card number, security code and holder name are required")
	}
	if !LuhnValid(card.PAN) {
		return nil, apperror.Validation("invalid card number")
	}
	if len(card.SecurityCode) < 3 || len(card.SecurityCode) > 4 || strings.Trim(card.SecurityCode, "0123456789") != "" {
		return nil, apperror.Validation("invalid security code")
	}

	month, year, err := parseExpiry(data)
	if err != nil {
		return nil, err
	}
	card.ExpiryMonth, card.ExpiryYear = month, year
	expiry := models.Card{ExpiryMonth: month, ExpiryYear: year}
	if expiry.Expired(now) {
		return nil, apperror.Validation("card has expired")
	}
	return card, nil
}

// Masked returns the PAN with all but the last four digits hidden
func (c CardDetails) Masked() string {
	if len(c.PAN) <= 4 {
		return c.PAN
	}
	return strings.Repeat("*", len(c.PAN)-4) + c.PAN[len(c.PAN)-4:]
}

func parseExpiry(data map[string]interface{}) (int, int, error) {
	var monthStr, yearStr string
	if combined := stringValue(data, "expiry_date", "expiryDate", "expiry"); combined != "" {
		parts := strings.Split(combined, "/")
		if len(parts) != 2 {
			return 0, 0, apperror.Validation("expiry date must be MM/YY")
		}
		monthStr, yearStr = parts[0], parts[1]
	} else {
		monthStr = stringValue(data, "expiry_month", "expiryMonth")
		yearStr = stringValue(data, "expiry_year", "expiryYear")
	}

	month, err := strconv.Atoi(strings.TrimSpace(monthStr))
	if err != nil || month < 1 || month > 12 {
		return 0, 0, apperror.Validation("invalid expiry month")
	}
	year, err := strconv.Atoi(strings.TrimSpace(yearStr))
	if err != nil || year < 0 {
		return 0, 0, apperror.Validation("invalid expiry year")
	}
	if year < 100 {
		year += 2000
	}
	return month, year, nil
}

// LuhnValid reports whether pan passes the Luhn checksum
func LuhnValid(pan string) bool {
	if len(pan) < 12 || len(pan) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(pan) - 1; i >= 0; i-- {
		c := pan[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func (p *CardPlugin) ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	card, err := ParseCardDetails(req.Data, p.now())
	if err != nil {
		return nil, err
	}

	tx := req.Transaction
	result, err := p.bank.pay(ctx, req.Config, bankapi.CardPaymentRequest{
		PSPTransactionID: tx.PSPTransactionID,
		MerchantID:       req.Merchant.MerchantID,
		MerchantOrderID:  tx.MerchantOrderID,
		Amount:           tx.Amount,
		Currency:         tx.Currency,
		PAN:              card.PAN,
		SecurityCode:     card.SecurityCode,
		HolderName:       card.HolderName,
		ExpiryMonth:      card.ExpiryMonth,
		ExpiryYear:       card.ExpiryYear,
	})
	if err != nil {
		return nil, err
	}

	data := map[string]interface{}{"masked_pan": card.Masked(), "bank_service": p.bank.serviceName(req.Config)}
	if !result.Success {
		return &PaymentResult{
			Status:                models.TransactionStatusFailed,
			Message:               result.Message,
			ExternalTransactionID: result.TransactionID,
			Data:                  data,
		}, nil
	}
	// the bank confirms settlement through a server callback
	return &PaymentResult{
		Status:                models.TransactionStatusProcessing,
		Message:               "awaiting bank confirmation",
		ExternalTransactionID: result.TransactionID,
		Data:                  data,
	}, nil
}

func (p *CardPlugin) GetStatus(ctx context.Context, tx *models.Transaction) (*StatusResult, error) {
	return bankStatus(ctx, p.bank, tx)
}

func (p *CardPlugin) Refund(ctx context.Context, tx *models.Transaction, amount decimal.Decimal) (*RefundResult, error) {
	return bankRefund(ctx, p.bank, tx, amount)
}

func (p *CardPlugin) ProcessCallback(ctx context.Context, in CallbackInput) (*models.PaymentCallback, error) {
	return nil, apperror.Validation("card payments are confirmed by the bank, not by a browser return")
}

func (p *CardPlugin) ValidateConfiguration(config map[string]interface{}) error {
	return validateBankConfig(config)
}

func validateBankConfig(config map[string]interface{}) error {
	if v, ok := config["bank_service"]; ok {
		if s, isString := v.(string); !isString || strings.TrimSpace(s) == "" {
			return apperror.Validation("bank_service must be a non-empty string")
		}
	}
	return nil
}

func bankStatus(ctx context.Context, bank *bankClient, tx *models.Transaction) (*StatusResult, error) {
	result, err := bank.status(ctx, ConfigMap(tx.PaymentData), tx.PSPTransactionID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &StatusResult{Status: tx.Status, Message: "no bank record yet"}, nil
	}
	return &StatusResult{
		Status:                statuscodec.Normalize(statuscodec.SystemBank, result.Status),
		RawStatus:             result.Status,
		Message:               result.Message,
		ExternalTransactionID: result.TransactionID,
	}, nil
}

func bankRefund(ctx context.Context, bank *bankClient, tx *models.Transaction, amount decimal.Decimal) (*RefundResult, error) {
	result, err := bank.refund(ctx, ConfigMap(tx.PaymentData), tx.PSPTransactionID, bankapi.RefundRequest{Amount: amount})
	if err != nil {
		return nil, err
	}
	return &RefundResult{Success: result.Success, RefundID: result.TransactionID, Message: result.Message}, nil
}
