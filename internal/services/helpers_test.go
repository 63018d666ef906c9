package services

import (
	"github.com/shopspring/decimal"

	"sep_psp/internal/ipsqr"
)

func ipsqrPayload(amount, currency string) (string, error) {
	return ipsqr.Encode(ipsqr.Payment{
		Amount:       decimal.RequireFromString(amount),
		Currency:     currency,
		PayeeAccount: "845000000040484987",
		PayeeName:    "Webshop",
		Reference:    "O1",
	})
}
