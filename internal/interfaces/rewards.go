package rewards

import (
	"context"

	models "github.com/glkeru/loyalty/rewards/internal/models"
)

//go:generate mockgen -destination=./../services/mock_rewards_test.go -package=rewards . Storage,Notifier

type CustomerStorage interface {
	GetCustomer(ctx context.Context, userID string, businessID string) (models.Customer, error)
	CreateCustomer(ctx context.Context, customer models.Customer) (models.Customer, error)
	// сохранение только если Version не изменилась, возвращает запись с новой версией
	SaveCustomer(ctx context.Context, customer models.Customer) (models.Customer, error)
	ListCustomers(ctx context.Context, businessID string, limit int) ([]models.Customer, error)
}

type BusinessStorage interface {
	GetBusiness(ctx context.Context, businessID string) (models.Business, error)
	SaveBusiness(ctx context.Context, business models.Business) error
}

type CampaignStorage interface {
	GetCampaign(ctx context.Context, campaignID string) (models.Campaign, error)
	SaveCampaign(ctx context.Context, campaign models.Campaign) (models.Campaign, error)
	// награды покупателю и счетчик кампании одной транзакцией, обе версии проверяются
	SaveCampaignGrant(ctx context.Context, customer models.Customer, campaign models.Campaign) (models.Customer, models.Campaign, error)
}

type Storage interface {
	CustomerStorage
	BusinessStorage
	CampaignStorage
}

type LevelCache interface {
	GetLevels(ctx context.Context, businessID string) ([]models.Level, error)
	SetLevels(ctx context.Context, businessID string, levels []models.Level) error
	InvalidateLevels(ctx context.Context, businessID string) error
}

// Блокировка записи покупателя на время одной операции
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type Notifier interface {
	Notify(ctx context.Context, userID string, kind string, data any) error
}
