package tasks

import (
	"sep_psp/internal/httpclient"
)

// Dependencies carries the collaborators of the built-in tasks
type Dependencies struct {
	Transactions  TransactionFinder
	History       HistoryPurger
	Client        *httpclient.Client
	SigningSecret string
}

// Definitions are the built-in tasks, for callers that schedule them
type Definitions struct {
	MerchantCallback     *CallbackTaskDef
	SubscriptionCallback *CallbackTaskDef
	PurgeCallbackHistory *PurgeCallbackHistoryTaskDef
}

// DefineTasks registers all available tasks
func DefineTasks(registry *Registry, deps Dependencies) *Definitions {
	defs := &Definitions{
		MerchantCallback:     NewMerchantCallbackTask(deps.Transactions, deps.Client, deps.SigningSecret),
		SubscriptionCallback: NewSubscriptionCallbackTask(deps.Transactions, deps.Client, deps.SigningSecret),
		PurgeCallbackHistory: NewPurgeCallbackHistoryTask(deps.History),
	}
	registry.Define(defs.MerchantCallback, defs.SubscriptionCallback, defs.PurgeCallbackHistory)
	return defs
}
