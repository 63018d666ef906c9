// Package ipsqr encodes and verifies national instant-payment (IPS) QR payloads.
//
// A payload is a "|" separated list of KEY:value tokens with a fixed header:
//
//	K:PR|V:01|C:1|R:845000000040484987|N:Webshop d.o.o.|I:RSD49,99|SF:289|S:Payment|RO:ORDER-1
package ipsqr

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"sep_psp/internal/apperror"
)

const (
	KeyKind        = "K"
	KeyVersion     = "V"
	KeyCharset     = "C"
	KeyAccount     = "R"
	KeyPayeeName   = "N"
	KeyAmount      = "I"
	KeyPayer       = "P"
	KeyPaymentCode = "SF"
	KeyPurpose     = "S"
	KeyReference   = "RO"

	kindTransfer   = "PR"
	version        = "01"
	charset        = "1"
	separator      = "|"
	maxNameLength  = 70
	maxRefLength   = 35
	maxPurposeLen  = 35
	defaultCode    = "289"
	defaultPurpose = "Payment"
)

var (
	amountPattern  = regexp.MustCompile(`^[A-Z]{3}\d+,\d+$`)
	currencyFormat = regexp.MustCompile(`^[A-Z]{3}$`)
	codePattern    = regexp.MustCompile(`^\d{3}$`)

	mandatoryKeys = []string{KeyKind, KeyVersion, KeyCharset, KeyAccount, KeyPayeeName, KeyAmount}
	knownKinds    = map[string]bool{"PR": true, "PT": true, "PK": true, "EK": true}

	// Tolerance absorbs rounding introduced by the whole/fraction split
	Tolerance = decimal.New(1, -2)
)

// Payment is the input to Encode
type Payment struct {
	Amount       decimal.Decimal
	Currency     string
	PayeeAccount string
	PayeeName    string
	Reference    string
	PaymentCode  string
	Purpose      string
}

// Payload is a decoded QR payload
type Payload struct {
	Fields       map[string]string `json:"fields"`
	Kind         string            `json:"kind"`
	Amount       decimal.Decimal   `json:"amount"`
	Currency     string            `json:"currency"`
	PayeeAccount string            `json:"payee_account"`
	PayeeName    string            `json:"payee_name"`
	Reference    string            `json:"reference"`
	PaymentCode  string            `json:"payment_code"`
	Purpose      string            `json:"purpose"`
}

// Result is the outcome of cross-validating a payload against an expected payment
type Result struct {
	Valid   bool     `json:"is_valid"`
	Reason  string   `json:"reason,omitempty"`
	Payload *Payload `json:"parsed,omitempty"`
}

// Encode builds a payload string for p
func Encode(p Payment) (string, error) {
	account, err := NormalizeAccount(p.PayeeAccount)
	if err != nil {
		return "", err
	}
	if !p.Amount.IsPositive() {
		return "", apperror.Validation("amount must be positive")
	}
	if !currencyFormat.MatchString(p.Currency) {
		return "", apperror.Validation("invalid currency %q", p.Currency)
	}
	name := clean(p.PayeeName, maxNameLength)
	if name == "" {
		return "", apperror.Validation("payee name is required")
	}
	code := p.PaymentCode
	if code == "" {
		code = defaultCode
	}
	if !codePattern.MatchString(code) {
		return "", apperror.Validation("payment code must be three digits")
	}
	purpose := clean(p.Purpose, maxPurposeLen)
	if purpose == "" {
		purpose = defaultPurpose
	}

	tokens := []string{
		KeyKind + ":" + kindTransfer,
		KeyVersion + ":" + version,
		KeyCharset + ":" + charset,
		KeyAccount + ":" + account,
		KeyPayeeName + ":" + name,
		KeyAmount + ":" + FormatAmount(p.Amount, p.Currency),
		KeyPaymentCode + ":" + code,
		KeyPurpose + ":" + purpose,
	}
	if ref := clean(p.Reference, maxRefLength); ref != "" {
		tokens = append(tokens, KeyReference+":"+ref)
	}
	return strings.Join(tokens, separator), nil
}

// Decode tokenizes raw and checks the mandatory structure
func Decode(raw string) (*Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperror.Integrity("empty QR payload")
	}

	fields := make(map[string]string)
	for _, token := range strings.Split(raw, separator) {
		key, value, ok := strings.Cut(token, ":")
		if !ok || key == "" {
			return nil, apperror.Integrity("malformed QR token %q", token)
		}
		if _, dup := fields[key]; dup {
			return nil, apperror.Integrity("duplicate QR key %s", key)
		}
		fields[key] = value
	}

	for _, key := range mandatoryKeys {
		if strings.TrimSpace(fields[key]) == "" {
			return nil, apperror.Integrity("missing mandatory QR key %s", key)
		}
	}
	if !knownKinds[fields[KeyKind]] {
		return nil, apperror.Integrity("unsupported QR kind %q", fields[KeyKind])
	}
	if fields[KeyVersion] != version {
		return nil, apperror.Integrity("unsupported QR version %q", fields[KeyVersion])
	}

	amount, currency, err := ParseAmount(fields[KeyAmount])
	if err != nil {
		return nil, err
	}
	account, err := NormalizeAccount(fields[KeyAccount])
	if err != nil {
		return nil, apperror.Integrity("invalid payee account: %s", apperror.MessageOf(err))
	}

	return &Payload{
		Fields:       fields,
		Kind:         fields[KeyKind],
		Amount:       amount,
		Currency:     currency,
		PayeeAccount: account,
		PayeeName:    fields[KeyPayeeName],
		Reference:    fields[KeyReference],
		PaymentCode:  fields[KeyPaymentCode],
		Purpose:      fields[KeyPurpose],
	}, nil
}

// Validate decodes raw and compares it with the expected amount and currency.
// Structural problems are returned as an IntegrityError; mismatches yield an invalid Result.
func Validate(raw string, expectedAmount decimal.Decimal, expectedCurrency string) (*Result, error) {
	payload, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	ok, reason := payload.Matches(expectedAmount, expectedCurrency)
	return &Result{Valid: ok, Reason: reason, Payload: payload}, nil
}

// Matches compares the payload with an expected amount and currency
func (p *Payload) Matches(amount decimal.Decimal, currency string) (bool, string) {
	if !strings.EqualFold(p.Currency, currency) {
		return false, fmt.Sprintf("currency mismatch: expected %s, got %s", strings.ToUpper(currency), p.Currency)
	}
	if p.Amount.Sub(amount).Abs().GreaterThan(Tolerance) {
		return false, fmt.Sprintf("amount mismatch: expected %s, got %s", amount.StringFixed(2), p.Amount.StringFixed(2))
	}
	return true, ""
}

// FormatAmount renders an amount as <CCC><whole>,<fraction>, e.g. RSD49,99
func FormatAmount(amount decimal.Decimal, currency string) string {
	return strings.ToUpper(currency) + strings.Replace(amount.StringFixed(2), ".", ",", 1)
}

// ParseAmount splits an amount field into value and currency
func ParseAmount(field string) (decimal.Decimal, string, error) {
	if !amountPattern.MatchString(field) {
		return decimal.Zero, "", apperror.Integrity("amount field %q does not match <CCC><whole>,<fraction>", field)
	}
	currency := field[:3]
	value, err := decimal.NewFromString(strings.Replace(field[3:], ",", ".", 1))
	if err != nil {
		return decimal.Zero, "", apperror.Integrity("unparseable amount %q", field)
	}
	return value, currency, nil
}

// NormalizeAccount converts an account number to its 18 digit form and verifies the mod 97 control digits.
// The dashed form bank-account-control has its middle part zero padded to 13 digits.
func NormalizeAccount(account string) (string, error) {
	account = strings.TrimSpace(account)
	if parts := strings.Split(account, "-"); len(parts) == 3 {
		if len(parts[1]) > 13 {
			return "", apperror.Validation("account number part too long")
		}
		account = parts[0] + strings.Repeat("0", 13-len(parts[1])) + parts[1] + parts[2]
	}
	if len(account) != 18 || strings.Trim(account, "0123456789") != "" {
		return "", apperror.Validation("account number must have 18 digits")
	}
	if !validControl(account) {
		return "", apperror.Validation("account number control digits mismatch")
	}
	return account, nil
}

func validControl(account string) bool {
	base, ok := new(big.Int).SetString(account[:16], 10)
	if !ok {
		return false
	}
	base.Mul(base, big.NewInt(100))
	rem := new(big.Int).Mod(base, big.NewInt(97)).Int64()
	return fmt.Sprintf("%02d", 98-rem) == account[16:]
}

func clean(value string, max int) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, separator, " "))
	if len([]rune(value)) > max {
		value = string([]rune(value)[:max])
	}
	return value
}
