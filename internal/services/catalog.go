package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sep_psp/internal/models"
	"sep_psp/internal/plugins"
	"sep_psp/internal/store"
)

// SyncPaymentTypes makes sure every registered plugin has a catalogue row and validates stored configurations.
// Invalid configurations are reported in the returned error but do not stop the remaining types from syncing.
func SyncPaymentTypes(ctx context.Context, registry *plugins.Registry, paymentTypes store.PaymentTypeStore) error {
	existing, err := paymentTypes.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list payment types: %w", err)
	}
	byType := make(map[string]models.PaymentType, len(existing))
	for _, pt := range existing {
		byType[pt.Type] = pt
	}

	var problems []error
	for _, plugin := range registry.Plugins() {
		pt, ok := byType[plugin.Type()]
		if !ok {
			pt = models.PaymentType{
				Type:      plugin.Type(),
				Name:      plugin.Name(),
				IsEnabled: true,
			}
			if err := paymentTypes.Create(ctx, &pt); err != nil && !errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("failed to create payment type %s: %w", plugin.Type(), err)
			}
			slog.Info("payment type registered", "type", pt.Type)
			continue
		}
		if err := plugin.ValidateConfiguration(plugins.ConfigMap(pt.Configuration)); err != nil {
			slog.Warn("invalid payment type configuration", "type", pt.Type, "error", err)
			problems = append(problems, fmt.Errorf("%s: %w", pt.Type, err))
		}
	}
	return errors.Join(problems...)
}
