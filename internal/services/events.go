package rewards

import (
	"context"
	"encoding/json"
	"fmt"

	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Событие покупки из Kafka
type PurchaseEvent struct {
	UserId     string          `json:"userId"`
	BusinessId string          `json:"businessId"`
	Purchase   models.Purchase `json:"purchase"`
	Points     int64           `json:"points"` // начисленные за покупку баллы
}

func ParsePurchase(purchaseJson string) (event PurchaseEvent, err error) {
	err = json.Unmarshal([]byte(purchaseJson), &event)
	if err != nil {
		return PurchaseEvent{}, fmt.Errorf("invalid purchase: %w: %w", models.ErrValidation, err)
	}
	if event.UserId == "" {
		return PurchaseEvent{}, fmt.Errorf("invalid purchase: userId field is required: %w", models.ErrValidation)
	}
	if event.BusinessId == "" {
		return PurchaseEvent{}, fmt.Errorf("invalid purchase: businessId field is required: %w", models.ErrValidation)
	}
	return event, nil
}

// Обработка покупки: история, баллы и награды уровня одной записью.
// Повтор события с тем же id покупки ничего не меняет.
func (s *RewardService) PurchaseProcess(ctx context.Context, purchaseJson string) error {
	event, err := ParsePurchase(purchaseJson)
	if err != nil {
		return err
	}
	s.logger.Info("purchase",
		zap.String("user", event.UserId),
		zap.String("business", event.BusinessId),
		zap.String("purchase", event.Purchase.ID),
		zap.Int64("points", event.Points))

	_, err = s.RecordPurchase(ctx, event.UserId, event.BusinessId, event.Purchase, event.Points)
	return err
}

// Запрос на использование награды из RabbitMQ
type UseRequest struct {
	RequestId  string `json:"requestId"`
	UserId     string `json:"userId"`
	BusinessId string `json:"businessId"`
	RewardId   string `json:"rewardId"`
}

// использование награды, возвращает id запроса для подтверждения
func (s *RewardService) UseProcess(ctx context.Context, useJson string) (requestId string, err error) {
	req := &UseRequest{}
	err = json.Unmarshal([]byte(useJson), req)
	if err != nil {
		return "", fmt.Errorf("invalid use request: %w: %w", models.ErrValidation, err)
	}
	rewardId, err := uuid.Parse(req.RewardId)
	if err != nil {
		return req.RequestId, fmt.Errorf("invalid reward id %q: %w", req.RewardId, models.ErrValidation)
	}
	_, err = s.useReward(ctx, req.UserId, req.BusinessId, rewardId, req.RequestId)
	if err != nil {
		return req.RequestId, err
	}
	return req.RequestId, nil
}
