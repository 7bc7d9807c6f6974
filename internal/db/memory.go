package rewards

import (
	"context"
	"fmt"
	"slices"
	"sync"

	models "github.com/glkeru/loyalty/rewards/internal/models"
)

// Хранилище в памяти: локальный запуск и тесты
type MemoryDB struct {
	mu         sync.RWMutex
	customers  map[string]models.Customer
	order      []string // порядок добавления покупателей
	businesses map[string]models.Business
	campaigns  map[string]models.Campaign
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		customers:  make(map[string]models.Customer),
		businesses: make(map[string]models.Business),
		campaigns:  make(map[string]models.Campaign),
	}
}

func cloneCustomer(c models.Customer) models.Customer {
	c.Rewards = slices.Clone(c.Rewards)
	c.UsedRewards = slices.Clone(c.UsedRewards)
	c.Purchases = slices.Clone(c.Purchases)
	return c
}

func (m *MemoryDB) GetCustomer(ctx context.Context, userID string, businessID string) (models.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[models.CustomerKey(userID, businessID)]
	if !ok {
		return models.Customer{}, fmt.Errorf("customer %s %w", userID, models.ErrNotFound)
	}
	return cloneCustomer(c), nil
}

func (m *MemoryDB) CreateCustomer(ctx context.Context, customer models.Customer) (models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := customer.Key()
	if _, ok := m.customers[key]; ok {
		return models.Customer{}, fmt.Errorf("customer %s: %w", customer.UserID, models.ErrConflict)
	}
	customer.Version = 1
	m.customers[key] = cloneCustomer(customer)
	m.order = append(m.order, key)
	return customer, nil
}

func (m *MemoryDB) SaveCustomer(ctx context.Context, customer models.Customer) (models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkCustomer(customer); err != nil {
		return models.Customer{}, err
	}
	customer.Version++
	m.customers[customer.Key()] = cloneCustomer(customer)
	return customer, nil
}

func (m *MemoryDB) checkCustomer(customer models.Customer) error {
	key := customer.Key()
	current, ok := m.customers[key]
	if !ok {
		return fmt.Errorf("customer %s %w", customer.UserID, models.ErrNotFound)
	}
	if current.Version != customer.Version {
		return fmt.Errorf("customer %s: %w", customer.UserID, models.ErrConflict)
	}
	return nil
}

// limit 0 - без ограничений
func (m *MemoryDB) ListCustomers(ctx context.Context, businessID string, limit int) ([]models.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	customers := make([]models.Customer, 0)
	for _, key := range m.order {
		c := m.customers[key]
		if c.BusinessID != businessID {
			continue
		}
		customers = append(customers, cloneCustomer(c))
		if limit > 0 && len(customers) == limit {
			break
		}
	}
	return customers, nil
}

func (m *MemoryDB) GetBusiness(ctx context.Context, businessID string) (models.Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.businesses[businessID]
	if !ok {
		return models.Business{}, fmt.Errorf("business %s %w", businessID, models.ErrNotFound)
	}
	return b, nil
}

func (m *MemoryDB) SaveBusiness(ctx context.Context, business models.Business) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.businesses[business.ID] = business
	return nil
}

func (m *MemoryDB) GetCampaign(ctx context.Context, campaignID string) (models.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return models.Campaign{}, fmt.Errorf("campaign %s %w", campaignID, models.ErrNotFound)
	}
	return c, nil
}

func (m *MemoryDB) SaveCampaign(ctx context.Context, campaign models.Campaign) (models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkCampaign(campaign); err != nil {
		return models.Campaign{}, err
	}
	campaign.Version++
	m.campaigns[campaign.ID] = campaign
	return campaign, nil
}

func (m *MemoryDB) checkCampaign(campaign models.Campaign) error {
	current, ok := m.campaigns[campaign.ID]
	if ok && current.Version != campaign.Version || !ok && campaign.Version != 0 {
		return fmt.Errorf("campaign %s: %w", campaign.ID, models.ErrConflict)
	}
	return nil
}

// обе записи проверяются до изменения любой из них
func (m *MemoryDB) SaveCampaignGrant(ctx context.Context, customer models.Customer, campaign models.Campaign) (models.Customer, models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkCustomer(customer); err != nil {
		return models.Customer{}, models.Campaign{}, err
	}
	if err := m.checkCampaign(campaign); err != nil {
		return models.Customer{}, models.Campaign{}, err
	}
	customer.Version++
	m.customers[customer.Key()] = cloneCustomer(customer)
	campaign.Version++
	m.campaigns[campaign.ID] = campaign
	return customer, campaign, nil
}
