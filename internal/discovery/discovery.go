// Package discovery resolves logical service names to base URLs and card BINs to issuing banks.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrUnknownService = errors.New("unknown service")

// Resolver is consumed by everything that calls another service
type Resolver interface {
	ResolveServiceAddress(logicalName string) (string, error)
}

// BINRoute sends cards starting with Prefix to the bank registered under Bank
type BINRoute struct {
	Prefix string `yaml:"prefix"`
	Bank   string `yaml:"bank"`
}

type file struct {
	Services  map[string]string `yaml:"services"`
	BINRoutes []BINRoute        `yaml:"bin_routes"`
}

// Registry is a static service table with environment overrides
type Registry struct {
	services map[string]string
	routes   []BINRoute
	lookup   func(string) string
}

// Load reads the service table from a YAML file; an empty path yields an empty table
func Load(path string) (*Registry, error) {
	r := NewStatic(nil)
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse services file: %w", err)
	}
	for name, addr := range f.Services {
		r.services[strings.ToLower(name)] = strings.TrimRight(addr, "/")
	}
	r.routes = f.BINRoutes
	return r, nil
}

// NewStatic builds a registry from an in-memory table
func NewStatic(services map[string]string, routes ...BINRoute) *Registry {
	r := &Registry{
		services: make(map[string]string),
		routes:   routes,
		lookup:   os.Getenv,
	}
	for name, addr := range services {
		r.services[strings.ToLower(name)] = strings.TrimRight(addr, "/")
	}
	return r
}

// ResolveServiceAddress returns the base URL for logicalName.
// SERVICE_<NAME>_URL in the environment takes precedence over the table.
func (r *Registry) ResolveServiceAddress(logicalName string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(logicalName))
	if env := r.lookup(envKey(name)); env != "" {
		return strings.TrimRight(env, "/"), nil
	}
	if addr, ok := r.services[name]; ok && addr != "" {
		return addr, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownService, logicalName)
}

// RouteBIN returns the bank service for the longest matching BIN prefix
func (r *Registry) RouteBIN(pan string) (string, bool) {
	best := BINRoute{}
	for _, route := range r.routes {
		if strings.HasPrefix(pan, route.Prefix) && len(route.Prefix) > len(best.Prefix) {
			best = route
		}
	}
	return best.Bank, best.Bank != ""
}

func envKey(name string) string {
	return "SERVICE_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name)) + "_URL"
}
