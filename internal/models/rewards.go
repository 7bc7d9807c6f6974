package rewards

import (
	"time"

	"github.com/google/uuid"
)

// Шаблон награды, настраивается бизнесом (уровень или кампания)
type RewardTemplate struct {
	ID           string `bson:"id" json:"id"`
	Name         string `bson:"name" json:"name"`
	Description  string `bson:"description" json:"description"`
	PointCost    *int64 `bson:"pointcost,omitempty" json:"pointCost,omitempty"` // стоимость в баллах, если есть
	PointBonus   int64  `bson:"pointbonus" json:"pointBonus"`                   // баллы, начисляемые при выдаче
	ItemDiscount string `bson:"itemdiscount" json:"itemDiscount"`
	Percent      int32  `bson:"percent" json:"percent"`
	Recognition  string `bson:"recognition" json:"recognition"` // стабильный ключ для проверки повторной выдачи
}

// Выданная награда
type Reward struct {
	RewardTemplate `bson:",inline"`
	InstanceID     uuid.UUID `bson:"instanceid" json:"instanceId"`
	CampaignID     string    `bson:"campaignid,omitempty" json:"campaignId,omitempty"`
	GrantedAt      time.Time `bson:"grantedat" json:"grantedAt"`
}

// Использованная награда
type UsedReward struct {
	Reward    Reward    `bson:"reward" json:"reward"`
	UsedAt    time.Time `bson:"usedat" json:"usedAt"`
	RequestID string    `bson:"requestid,omitempty" json:"requestId,omitempty"` // запрос из очереди
}

type Purchase struct {
	ID        string         `bson:"id" json:"id"`
	Amount    float64        `bson:"amount" json:"amount"`
	Points    int64          `bson:"points" json:"points"`
	CreatedAt time.Time      `bson:"createdat" json:"createdAt"`
	Details   map[string]any `bson:"details,omitempty" json:"details,omitempty"`
}

// Данные покупателя в рамках одного бизнеса
type Customer struct {
	ID          uuid.UUID    `bson:"id" json:"id"`
	UserID      string       `bson:"userid" json:"userId"`
	BusinessID  string       `bson:"businessid" json:"businessId"`
	Points      int64        `bson:"points" json:"points"`
	Rewards     []Reward     `bson:"rewards" json:"rewards"`
	UsedRewards []UsedReward `bson:"usedrewards" json:"usedRewards"`
	Purchases   []Purchase   `bson:"purchases" json:"purchases"`
	LastVisit   time.Time    `bson:"lastvisit" json:"lastVisit"`
	Version     int64        `bson:"version" json:"version"`
}

// Ключ записи покупателя: один писатель на ключ
func (c Customer) Key() string {
	return CustomerKey(c.UserID, c.BusinessID)
}

func CustomerKey(userID, businessID string) string {
	return userID + ":" + businessID
}

type Level struct {
	ID             string           `bson:"id" json:"id"`
	Name           string           `bson:"name" json:"name"`
	RequiredPoints int64            `bson:"requiredpoints" json:"requiredPoints"`
	Rewards        []RewardTemplate `bson:"rewards" json:"rewards"`
}

type Business struct {
	ID     string  `bson:"id" json:"id"`
	Name   string  `bson:"name" json:"name"`
	Levels []Level `bson:"levels" json:"levels"`
}

type Campaign struct {
	ID            string           `bson:"id" json:"id"`
	BusinessID    string           `bson:"businessid" json:"businessId"`
	Name          string           `bson:"name" json:"name"`
	EndRewards    []RewardTemplate `bson:"endrewards" json:"endRewards"`
	RewardedCount int64            `bson:"rewardedcount" json:"rewardedCount"`
	Version       int64            `bson:"version" json:"version"`
}

// Явное изменение свойств покупателя
type PropertiesUpdate struct {
	Points *int64 `json:"points"`
}

// Ключ для проверки повторной выдачи
func (t RewardTemplate) Key() string {
	if t.Recognition != "" {
		return t.Recognition
	}
	return t.ID
}

// Типы push-уведомлений
const (
	NotifyRewardGet = "reward_get"
	NotifyRewardUse = "reward_use"
)
