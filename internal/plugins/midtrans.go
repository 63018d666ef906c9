package plugins

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/shopspring/decimal"

	"sep_psp/internal/apperror"
	"sep_psp/internal/models"
	"sep_psp/internal/statuscodec"
)

const midtransCurrency = "IDR"

// MidtransCharge is a hosted checkout request
type MidtransCharge struct {
	OrderID       string
	GrossAmount   int64
	CustomerName  string
	CustomerEmail string
	FinishURL     string
}

// MidtransStatus is the Core API view of a transaction
type MidtransStatus struct {
	OrderID           string
	TransactionID     string
	TransactionStatus string
	FraudStatus       string
	GrossAmount       string
	StatusMessage     string
}

// MidtransGateway is the subset of the Midtrans API used by the plugin
type MidtransGateway interface {
	CreateTransaction(ctx context.Context, charge MidtransCharge) (token, redirectURL string, err error)
	CheckTransaction(ctx context.Context, orderID string) (*MidtransStatus, error)
	RefundTransaction(ctx context.Context, orderID string, amount int64, reason string) (string, error)
}

// MidtransService talks to Snap for checkout and to the Core API for status and refunds
type MidtransService struct {
	SnapClient snap.Client
	CoreClient coreapi.Client
}

func NewMidtransService(serverKey string, production bool) *MidtransService {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}

	var s snap.Client
	s.New(serverKey, env)

	var c coreapi.Client
	c.New(serverKey, env)

	return &MidtransService{SnapClient: s, CoreClient: c}
}

func (s *MidtransService) CreateTransaction(ctx context.Context, charge MidtransCharge) (string, string, error) {
	req := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  charge.OrderID,
			GrossAmt: charge.GrossAmount,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: charge.CustomerName,
			Email: charge.CustomerEmail,
		},
	}
	if charge.FinishURL != "" {
		req.Callbacks = &snap.Callbacks{Finish: charge.FinishURL}
	}

	resp, midErr := s.SnapClient.CreateTransaction(req)
	if midErr != nil {
		return "", "", apperror.ExternalService(midErr, "midtrans create transaction failed")
	}
	return resp.Token, resp.RedirectURL, nil
}

func (s *MidtransService) CheckTransaction(ctx context.Context, orderID string) (*MidtransStatus, error) {
	resp, midErr := s.CoreClient.CheckTransaction(orderID)
	if midErr != nil {
		return nil, apperror.ExternalService(midErr, "midtrans status check failed")
	}
	return &MidtransStatus{
		OrderID:           resp.OrderID,
		TransactionID:     resp.TransactionID,
		TransactionStatus: resp.TransactionStatus,
		FraudStatus:       resp.FraudStatus,
		GrossAmount:       resp.GrossAmount,
		StatusMessage:     resp.StatusMessage,
	}, nil
}

func (s *MidtransService) RefundTransaction(ctx context.Context, orderID string, amount int64, reason string) (string, error) {
	resp, midErr := s.CoreClient.RefundTransaction(orderID, &coreapi.RefundReq{
		RefundKey: orderID + "-refund",
		Amount:    amount,
		Reason:    reason,
	})
	if midErr != nil {
		return "", apperror.ExternalService(midErr, "midtrans refund failed")
	}
	if resp.StatusCode != "200" {
		return "", apperror.ExternalService(nil, "midtrans refund rejected: %s", resp.StatusMessage)
	}
	return orderID + "-refund", nil
}

// MidtransPlugin offers Midtrans Snap hosted checkout
type MidtransPlugin struct {
	gateway   MidtransGateway
	serverKey string
	now       func() time.Time
}

func NewMidtransPlugin(gateway MidtransGateway, serverKey string) *MidtransPlugin {
	return &MidtransPlugin{gateway: gateway, serverKey: serverKey, now: time.Now}
}

func (p *MidtransPlugin) Name() string    { return "Midtrans" }
func (p *MidtransPlugin) Type() string    { return TypeMidtrans }
func (p *MidtransPlugin) IsEnabled() bool { return p.serverKey != "" }

func (p *MidtransPlugin) ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	tx := req.Transaction
	if !strings.EqualFold(tx.Currency, midtransCurrency) {
		return nil, apperror.Validation("midtrans only accepts %s payments", midtransCurrency)
	}

	token, redirectURL, err := p.gateway.CreateTransaction(ctx, MidtransCharge{
		OrderID:       tx.PSPTransactionID,
		GrossAmount:   tx.Amount.Round(0).IntPart(),
		CustomerName:  tx.CustomerName,
		CustomerEmail: tx.CustomerEmail,
		FinishURL:     req.ReturnURL,
	})
	if err != nil {
		return nil, err
	}

	return &PaymentResult{
		Status:                models.TransactionStatusPending,
		Message:               "awaiting midtrans checkout",
		ExternalTransactionID: tx.PSPTransactionID,
		RedirectURL:           redirectURL,
		Data:                  map[string]interface{}{"snap_token": token},
	}, nil
}

func (p *MidtransPlugin) GetStatus(ctx context.Context, tx *models.Transaction) (*StatusResult, error) {
	status, err := p.gateway.CheckTransaction(ctx, tx.PSPTransactionID)
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		Status:                statuscodec.NormalizeMidtrans(status.TransactionStatus, status.FraudStatus),
		RawStatus:             status.TransactionStatus,
		Message:               status.StatusMessage,
		ExternalTransactionID: status.TransactionID,
	}, nil
}

func (p *MidtransPlugin) Refund(ctx context.Context, tx *models.Transaction, amount decimal.Decimal) (*RefundResult, error) {
	refundID, err := p.gateway.RefundTransaction(ctx, tx.PSPTransactionID, amount.Round(0).IntPart(), "merchant refund")
	if err != nil {
		return nil, err
	}
	return &RefundResult{Success: true, RefundID: refundID, Message: "midtrans refund accepted"}, nil
}

// ProcessCallback confirms the Snap finish redirect through the Core API
func (p *MidtransPlugin) ProcessCallback(ctx context.Context, in CallbackInput) (*models.PaymentCallback, error) {
	tx := in.Transaction
	if orderID := in.Params["order_id"]; orderID != "" && orderID != tx.PSPTransactionID {
		return nil, apperror.Validation("midtrans order does not belong to this transaction")
	}
	status, err := p.gateway.CheckTransaction(ctx, tx.PSPTransactionID)
	if err != nil {
		return nil, err
	}
	return &models.PaymentCallback{
		PSPTransactionID:      tx.PSPTransactionID,
		ExternalTransactionID: status.TransactionID,
		Status:                statuscodec.NormalizeMidtrans(status.TransactionStatus, status.FraudStatus),
		RawStatus:             status.TransactionStatus,
		StatusMessage:         "midtrans " + status.TransactionStatus,
		Timestamp:             p.now(),
	}, nil
}

func (p *MidtransPlugin) ValidateConfiguration(config map[string]interface{}) error {
	if methods, ok := config["enabled_payments"]; ok {
		if _, isList := methods.([]interface{}); !isList {
			return apperror.Validation("enabled_payments must be a list")
		}
	}
	return nil
}

// MidtransNotification is the server-to-server HTTP notification body
type MidtransNotification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	GrossAmount       string `json:"gross_amount"`
	Currency          string `json:"currency"`
	SignatureKey      string `json:"signature_key"`
	PaymentType       string `json:"payment_type"`
}

// NotificationSignature computes SHA512(order_id + status_code + gross_amount + server key)
func NotificationSignature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// ParseNotification verifies a notification's signature and converts it into a callback
func (p *MidtransPlugin) ParseNotification(body []byte) (*models.PaymentCallback, error) {
	var n MidtransNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, apperror.Validation("invalid midtrans notification body")
	}
	expected := NotificationSignature(n.OrderID, n.StatusCode, n.GrossAmount, p.serverKey)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(n.SignatureKey))) != 1 {
		return nil, apperror.Signature("midtrans notification signature mismatch")
	}
	if n.OrderID == "" {
		return nil, apperror.Validation("midtrans notification has no order id")
	}

	callback := &models.PaymentCallback{
		PSPTransactionID:      n.OrderID,
		ExternalTransactionID: n.TransactionID,
		Status:                statuscodec.NormalizeMidtrans(n.TransactionStatus, n.FraudStatus),
		RawStatus:             n.TransactionStatus,
		StatusMessage:         "midtrans " + n.TransactionStatus,
		Timestamp:             p.now(),
		AdditionalData:        map[string]string{"payment_type": n.PaymentType, "fraud_status": n.FraudStatus},
	}
	if amount, err := decimal.NewFromString(n.GrossAmount); err == nil {
		callback.Amount = &amount
		callback.Currency = n.Currency
		if callback.Currency == "" {
			callback.Currency = midtransCurrency
		}
	}
	return callback, nil
}
