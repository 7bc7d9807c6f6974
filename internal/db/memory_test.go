package rewards

import (
	"context"
	"testing"

	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMemoryCustomerVersion(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryDB()

	created, err := m.CreateCustomer(ctx, models.Customer{ID: uuid.New(), UserID: "u1", BusinessID: "b1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), created.Version)

	_, err = m.CreateCustomer(ctx, models.Customer{UserID: "u1", BusinessID: "b1"})
	require.ErrorIs(t, err, models.ErrConflict)
	require.ErrorIs(t, err, models.ErrStorage)

	created.Points = 10
	saved, err := m.SaveCustomer(ctx, created)
	require.NoError(t, err)
	require.Equal(t, int64(2), saved.Version)

	// устаревшая версия
	created.Points = 20
	_, err = m.SaveCustomer(ctx, created)
	require.ErrorIs(t, err, models.ErrConflict)

	current, err := m.GetCustomer(ctx, "u1", "b1")
	require.NoError(t, err)
	require.Equal(t, int64(10), current.Points)

	_, err = m.SaveCustomer(ctx, models.Customer{UserID: "u2", BusinessID: "b1"})
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = m.GetCustomer(ctx, "u2", "b1")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryCustomerIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryDB()
	_, err := m.CreateCustomer(ctx, models.Customer{UserID: "u1", BusinessID: "b1", Rewards: []models.Reward{
		{RewardTemplate: models.RewardTemplate{ID: "r0"}},
	}})
	require.NoError(t, err)

	c, err := m.GetCustomer(ctx, "u1", "b1")
	require.NoError(t, err)
	c.Rewards[0].ID = "changed"
	c.Rewards = append(c.Rewards, models.Reward{})

	c, err = m.GetCustomer(ctx, "u1", "b1")
	require.NoError(t, err)
	require.Len(t, c.Rewards, 1)
	require.Equal(t, "r0", c.Rewards[0].ID)
}

func TestMemoryListCustomers(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryDB()
	for _, user := range []string{"u1", "u2", "u3"} {
		_, err := m.CreateCustomer(ctx, models.Customer{UserID: user, BusinessID: "b1"})
		require.NoError(t, err)
	}
	_, err := m.CreateCustomer(ctx, models.Customer{UserID: "u1", BusinessID: "b2"})
	require.NoError(t, err)

	customers, err := m.ListCustomers(ctx, "b1", 0)
	require.NoError(t, err)
	require.Len(t, customers, 3)
	require.Equal(t, "u1", customers[0].UserID)
	require.Equal(t, "u3", customers[2].UserID)

	customers, err = m.ListCustomers(ctx, "b1", 2)
	require.NoError(t, err)
	require.Len(t, customers, 2)

	customers, err = m.ListCustomers(ctx, "b3", 0)
	require.NoError(t, err)
	require.Empty(t, customers)
}

func TestMemoryCampaignVersion(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryDB()

	_, err := m.SaveCampaign(ctx, models.Campaign{ID: "c1", Version: 3})
	require.ErrorIs(t, err, models.ErrConflict)

	saved, err := m.SaveCampaign(ctx, models.Campaign{ID: "c1", BusinessID: "b1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), saved.Version)

	saved.RewardedCount++
	saved, err = m.SaveCampaign(ctx, saved)
	require.NoError(t, err)
	require.Equal(t, int64(2), saved.Version)

	_, err = m.SaveCampaign(ctx, models.Campaign{ID: "c1", Version: 1})
	require.ErrorIs(t, err, models.ErrConflict)

	campaign, err := m.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(1), campaign.RewardedCount)

	_, err = m.GetCampaign(ctx, "c2")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryBusiness(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryDB()
	_, err := m.GetBusiness(ctx, "b1")
	require.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, m.SaveBusiness(ctx, models.Business{ID: "b1", Levels: []models.Level{{ID: "l1"}}}))
	b, err := m.GetBusiness(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, b.Levels, 1)
}

func TestMemoryCampaignGrant(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryDB()
	customer, err := m.CreateCustomer(ctx, models.Customer{UserID: "u1", BusinessID: "b1"})
	require.NoError(t, err)
	campaign, err := m.SaveCampaign(ctx, models.Campaign{ID: "c1", BusinessID: "b1"})
	require.NoError(t, err)

	customer.Rewards = append(customer.Rewards, models.Reward{RewardTemplate: models.RewardTemplate{ID: "r3"}})
	campaign.RewardedCount++

	// устаревшая версия кампании: покупатель тоже не меняется
	stale := campaign
	stale.Version = 5
	_, _, err = m.SaveCampaignGrant(ctx, customer, stale)
	require.ErrorIs(t, err, models.ErrConflict)
	current, err := m.GetCustomer(ctx, "u1", "b1")
	require.NoError(t, err)
	require.Empty(t, current.Rewards)
	require.Equal(t, int64(1), current.Version)

	// устаревшая версия покупателя: кампания не меняется
	staleCustomer := customer
	staleCustomer.Version = 7
	_, _, err = m.SaveCampaignGrant(ctx, staleCustomer, campaign)
	require.ErrorIs(t, err, models.ErrConflict)
	saved, err := m.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	require.Zero(t, saved.RewardedCount)

	savedCustomer, savedCampaign, err := m.SaveCampaignGrant(ctx, customer, campaign)
	require.NoError(t, err)
	require.Equal(t, int64(2), savedCustomer.Version)
	require.Equal(t, int64(2), savedCampaign.Version)
	require.Equal(t, int64(1), savedCampaign.RewardedCount)

	current, err = m.GetCustomer(ctx, "u1", "b1")
	require.NoError(t, err)
	require.Len(t, current.Rewards, 1)
}
