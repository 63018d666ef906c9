package memstore

import (
	"context"
	"sort"
	"sync"

	"sep_psp/internal/models"
	"sep_psp/internal/store"
)

// MerchantStore keeps merchants together with their granted payment types
type MerchantStore struct {
	mu      sync.RWMutex
	clients map[uint]models.WebShopClient
}

func NewMerchantStore(clients ...models.WebShopClient) *MerchantStore {
	s := &MerchantStore{clients: make(map[uint]models.WebShopClient)}
	for _, c := range clients {
		s.Put(c)
	}
	return s
}

// Put adds or replaces a merchant, assigning an id when missing
func (s *MerchantStore) Put(client models.WebShopClient) models.WebShopClient {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client.ID == 0 {
		client.ID = uint(len(s.clients) + 1)
	}
	s.clients[client.ID] = client
	return client
}

func (s *MerchantStore) FindByMerchantID(_ context.Context, merchantID string) (*models.WebShopClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.clients {
		if c.MerchantID == merchantID {
			copied := c
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *MerchantStore) FindByID(_ context.Context, id uint) (*models.WebShopClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *MerchantStore) List(_ context.Context) ([]models.WebShopClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]models.WebShopClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients, nil
}

// PaymentTypeStore keeps the payment type catalogue
type PaymentTypeStore struct {
	mu    sync.Mutex
	types []models.PaymentType
}

func NewPaymentTypeStore(types ...models.PaymentType) *PaymentTypeStore {
	return &PaymentTypeStore{types: types}
}

func (s *PaymentTypeStore) List(_ context.Context) ([]models.PaymentType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PaymentType(nil), s.types...), nil
}

func (s *PaymentTypeStore) Create(_ context.Context, paymentType *models.PaymentType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.types {
		if existing.Type == paymentType.Type {
			return store.ErrDuplicate
		}
	}
	paymentType.ID = uint(len(s.types) + 1)
	s.types = append(s.types, *paymentType)
	return nil
}
