package plugins

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"sep_psp/internal/apperror"
	"sep_psp/internal/models"
)

// MerchantLookup loads a merchant with its granted payment types
type MerchantLookup interface {
	FindByID(ctx context.Context, id uint) (*models.WebShopClient, error)
}

// Registry maps payment type keys to plugins. It is populated once by NewRegistry and read-only afterwards,
// so concurrent lookups need no locking.
type Registry struct {
	plugins   map[string]Plugin
	merchants MerchantLookup
}

func NewRegistry(merchants MerchantLookup, plugins ...Plugin) (*Registry, error) {
	r := &Registry{
		plugins:   make(map[string]Plugin, len(plugins)),
		merchants: merchants,
	}
	for _, p := range plugins {
		if _, exists := r.plugins[p.Type()]; exists {
			return nil, fmt.Errorf("plugin type %q registered twice", p.Type())
		}
		r.plugins[p.Type()] = p
	}
	return r, nil
}

// Resolve returns the plugin registered for paymentType
func (r *Registry) Resolve(paymentType string) (Plugin, error) {
	p, ok := r.plugins[paymentType]
	if !ok {
		return nil, apperror.NotFound("payment method %q is not supported", paymentType)
	}
	return p, nil
}

// Plugins returns the registered plugins ordered by type
func (r *Registry) Plugins() []Plugin {
	list := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Type() < list[j].Type() })
	return list
}

// GetAvailableMethods lists the methods a merchant may offer
func (r *Registry) GetAvailableMethods(ctx context.Context, merchantID uint) ([]PaymentMethod, error) {
	client, err := r.merchants.FindByID(ctx, merchantID)
	if err != nil {
		return nil, apperror.NotFound("merchant not found")
	}
	if !client.IsActive() {
		return nil, apperror.Authentication("merchant is %s", strings.ToLower(string(client.Status)))
	}
	return r.MethodsFor(client), nil
}

// Validate reports whether merchantID may use paymentType
func (r *Registry) Validate(ctx context.Context, merchantID uint, paymentType string) (bool, error) {
	methods, err := r.GetAvailableMethods(ctx, merchantID)
	if err != nil {
		return false, err
	}
	for _, m := range methods {
		if m.Type == paymentType {
			return true, nil
		}
	}
	return false, nil
}

// MethodsFor intersects the merchant's enabled payment types with the registered, enabled plugins
func (r *Registry) MethodsFor(client *models.WebShopClient) []PaymentMethod {
	var methods []PaymentMethod
	for _, grant := range client.PaymentMethods {
		pt := grant.PaymentType
		if !grant.Enabled || !pt.IsEnabled {
			continue
		}
		p, ok := r.plugins[pt.Type]
		if !ok || !p.IsEnabled() {
			continue
		}
		name := pt.Name
		if name == "" {
			name = p.Name()
		}
		methods = append(methods, PaymentMethod{Type: pt.Type, Name: name, Description: pt.Description})
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i].Type < methods[j].Type })
	return methods
}

// Grant returns the merchant's grant for paymentType, if any
func Grant(client *models.WebShopClient, paymentType string) (*models.WebShopClientPaymentType, bool) {
	for i := range client.PaymentMethods {
		if client.PaymentMethods[i].PaymentType.Type == paymentType {
			return &client.PaymentMethods[i], true
		}
	}
	return nil, false
}
