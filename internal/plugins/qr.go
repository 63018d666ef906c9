package plugins

import (
	"context"

	"github.com/shopspring/decimal"

	"sep_psp/internal/apperror"
	"sep_psp/internal/bankapi"
	"sep_psp/internal/discovery"
	"sep_psp/internal/httpclient"
	"sep_psp/internal/ipsqr"
	"sep_psp/internal/models"
)

// QRPlugin asks the merchant's bank for an instant-payment QR code and verifies it before showing it to the buyer
type QRPlugin struct {
	bank *bankClient
}

func NewQRPlugin(resolver discovery.Resolver, client *httpclient.Client, apiKey string) *QRPlugin {
	return &QRPlugin{bank: &bankClient{resolver: resolver, http: client, apiKey: apiKey}}
}

func (p *QRPlugin) Name() string    { return "IPS QR" }
func (p *QRPlugin) Type() string    { return TypeQR }
func (p *QRPlugin) IsEnabled() bool { return true }

func (p *QRPlugin) ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	tx := req.Transaction
	generated, err := p.bank.generateQR(ctx, req.Config, bankapi.QRGenerateRequest{
		MerchantID:       req.Merchant.MerchantID,
		PSPTransactionID: tx.PSPTransactionID,
		MerchantOrderID:  tx.MerchantOrderID,
		Amount:           tx.Amount,
		Currency:         tx.Currency,
		PayeeName:        req.Merchant.Name,
	})
	if err != nil {
		return nil, err
	}

	check, err := ipsqr.Validate(generated.Payload, tx.Amount, tx.Currency)
	if err != nil {
		return nil, err
	}
	if !check.Valid {
		return nil, apperror.Integrity("bank issued a QR code that does not match the transaction: %s", check.Reason)
	}

	return &PaymentResult{
		Status:  models.TransactionStatusPending,
		Message: "awaiting QR payment",
		Data: map[string]interface{}{
			"qr_payload":   generated.Payload,
			"qr_image":     generated.ImageBase64,
			"bank_service": p.bank.serviceName(req.Config),
		},
	}, nil
}

func (p *QRPlugin) GetStatus(ctx context.Context, tx *models.Transaction) (*StatusResult, error) {
	return bankStatus(ctx, p.bank, tx)
}

func (p *QRPlugin) Refund(ctx context.Context, tx *models.Transaction, amount decimal.Decimal) (*RefundResult, error) {
	return bankRefund(ctx, p.bank, tx, amount)
}

func (p *QRPlugin) ProcessCallback(ctx context.Context, in CallbackInput) (*models.PaymentCallback, error) {
	return nil, apperror.Validation("QR payments are confirmed by the bank, not by a browser return")
}

func (p *QRPlugin) ValidateConfiguration(config map[string]interface{}) error {
	return validateBankConfig(config)
}
