// Package statuscodec maps the status vocabularies of external processors to the canonical transaction status.
package statuscodec

import (
	"strings"

	"sep_psp/internal/models"
)

// System identifies an external status vocabulary
type System string

const (
	SystemGeneric  System = "generic"
	SystemBank     System = "bank"
	SystemPCC      System = "pcc"
	SystemPayPal   System = "paypal"
	SystemCrypto   System = "crypto"
	SystemMidtrans System = "midtrans"
)

var (
	pending    = models.TransactionStatusPending
	processing = models.TransactionStatusProcessing
	completed  = models.TransactionStatusCompleted
	failed     = models.TransactionStatusFailed
	cancelled  = models.TransactionStatusCancelled
	refunded   = models.TransactionStatusRefunded
)

// canonical names and enum ordinals are accepted by every system
var canonical = map[string]models.TransactionStatus{
	"pending":    pending,
	"processing": processing,
	"completed":  completed,
	"failed":     failed,
	"cancelled":  cancelled,
	"canceled":   cancelled,
	"refunded":   refunded,
	"0":          pending,
	"1":          processing,
	"2":          completed,
	"3":          failed,
	"4":          cancelled,
	"5":          refunded,
}

var vocabularies = map[System]map[string]models.TransactionStatus{
	SystemGeneric: {
		"success":   completed,
		"succeeded": completed,
		"failure":   failed,
		"error":     failed,
	},
	SystemBank: {
		"success":            completed,
		"approved":           completed,
		"declined":           failed,
		"insufficient_funds": failed,
		"error":              failed,
		"in_progress":        processing,
	},
	SystemPCC: {
		"success":            completed,
		"approved":           completed,
		"declined":           failed,
		"insufficient_funds": failed,
		"issuer_unavailable": failed,
		"error":              failed,
	},
	SystemPayPal: {
		"created":               pending,
		"saved":                 pending,
		"payer_action_required": pending,
		"approved":              processing,
		"completed":             completed,
		"voided":                cancelled,
		"declined":              failed,
		"denied":                failed,
		"failed":                failed,
		"cancel":                cancelled,
	},
	SystemCrypto: {
		"new":        pending,
		"unpaid":     pending,
		"pending":    pending,
		"processing": processing,
		"confirming": processing,
		"paid":       completed,
		"confirmed":  completed,
		"complete":   completed,
		"settled":    completed,
		"expired":    failed,
		"timedout":   failed,
		"invalid":    failed,
		"cancelled":  cancelled,
		"canceled":   cancelled,
	},
	SystemMidtrans: {
		"pending":    pending,
		"authorize":  processing,
		"capture":    completed,
		"settlement": completed,
		"deny":       failed,
		"failure":    failed,
		"cancel":     cancelled,
		"expire":     cancelled,
	},
}

// Normalize maps a raw status reported by system to the canonical status.
// Unknown values map to Pending so an unrecognized report can never complete a transaction.
func Normalize(system System, raw string) models.TransactionStatus {
	status, _ := Lookup(system, raw)
	return status
}

// Lookup is Normalize that also reports whether the raw value was recognized
func Lookup(system System, raw string) (models.TransactionStatus, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if vocab, ok := vocabularies[system]; ok {
		if status, ok := vocab[key]; ok {
			return status, true
		}
	}
	if status, ok := canonical[key]; ok {
		return status, true
	}
	return pending, false
}

// NormalizeMidtrans applies the fraud status to a Midtrans capture: only an accepted capture completes
func NormalizeMidtrans(transactionStatus, fraudStatus string) models.TransactionStatus {
	status := Normalize(SystemMidtrans, transactionStatus)
	if strings.EqualFold(transactionStatus, "capture") {
		switch strings.ToLower(fraudStatus) {
		case "", "accept":
			return completed
		case "deny":
			return failed
		default:
			return processing
		}
	}
	return status
}

// ParseSystem resolves a path or header value to a known system, defaulting to generic
func ParseSystem(value string) System {
	s := System(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := vocabularies[s]; ok {
		return s
	}
	return SystemGeneric
}
