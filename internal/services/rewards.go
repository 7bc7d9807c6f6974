package rewards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("rewards")

// размер списка покупателей, если limit не задан
const DefaultListLimit = 100

type Options struct {
	GrantPointBonus bool          // начислять баллы при выдаче награды (PointBonus)
	Workers         int           // параллельность массовой выдачи
	NotifyTimeout   time.Duration // таймаут push-уведомления
	SearchLimit     int           // сколько записей просматривать при поиске
}

type RewardService struct {
	logger   *zap.Logger
	db       interf.Storage
	cache    interf.LevelCache
	locker   interf.Locker
	notifier interf.Notifier
	opts     Options
	now      func() time.Time
}

func NewRewardService(logger *zap.Logger, db interf.Storage, cache interf.LevelCache, locker interf.Locker, notifier interf.Notifier, opts Options) *RewardService {
	if locker == nil {
		locker = NewKeyedLocker()
	}
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 5 * time.Second
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 500
	}
	return &RewardService{
		logger:   logger,
		db:       db,
		cache:    cache,
		locker:   locker,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
	}
}

// log
func (s *RewardService) Log(err error) {
	s.logger.Error("Reward Service",
		zap.Error(err),
	)
}

func storageError(op string, err error) error {
	if errors.Is(err, models.ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrStorage, err)
}

func startSpan(ctx context.Context, name, userID, businessID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("business.id", businessID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// выполнение под блокировкой ключа
func (s *RewardService) locked(ctx context.Context, key string, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer unlock()
	return fn()
}

// Загрузка, изменение и сохранение записи покупателя под блокировкой.
// fn возвращает false, если сохранять нечего.
func (s *RewardService) update(ctx context.Context, userID, businessID string, fn func(c *models.Customer) (bool, error)) (customer models.Customer, err error) {
	err = s.locked(ctx, models.CustomerKey(userID, businessID), func() error {
		customer, err = s.modify(ctx, userID, businessID, fn)
		return err
	})
	return customer, err
}

// то же, что update, но вызывающий уже держит блокировку
func (s *RewardService) modify(ctx context.Context, userID, businessID string, fn func(c *models.Customer) (bool, error)) (models.Customer, error) {
	customer, err := s.db.GetCustomer(ctx, userID, businessID)
	if err != nil {
		return models.Customer{}, err
	}
	changed, err := fn(&customer)
	if err != nil {
		return models.Customer{}, err
	}
	if !changed {
		return customer, nil
	}
	saved, err := s.db.SaveCustomer(ctx, customer)
	if err != nil {
		return models.Customer{}, storageError("save customer", err)
	}
	return saved, nil
}

// создать награду из шаблона и добавить в активные
func (s *RewardService) grant(c *models.Customer, tmpl models.RewardTemplate, campaignID string) models.Reward {
	reward := models.Reward{
		RewardTemplate: tmpl,
		InstanceID:     uuid.New(),
		CampaignID:     campaignID,
		GrantedAt:      s.now(),
	}
	c.Rewards = append(c.Rewards, reward)
	if s.opts.GrantPointBonus && tmpl.PointBonus != 0 {
		c.Points = max(c.Points+tmpl.PointBonus, 0)
	}
	return reward
}

// Уведомление отправляется вне критической секции и не влияет на результат операции
func (s *RewardService) notify(userID, kind string, data any) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.NotifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, userID, kind, data); err != nil {
			s.logger.Warn("notify user",
				zap.String("user", userID),
				zap.String("kind", kind),
				zap.Error(err),
			)
		}
	}()
}

// Уровни бизнеса: кэш, затем база
func (s *RewardService) Levels(ctx context.Context, businessID string) ([]models.Level, error) {
	if s.cache != nil {
		levels, err := s.cache.GetLevels(ctx, businessID)
		if err == nil {
			return levels, nil
		}
	}
	business, err := s.db.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetLevels(ctx, businessID, business.Levels); err != nil {
			s.Log(err)
		}
	}
	return business.Levels, nil
}

// Выдать награды уровня покупателю в памяти
func (s *RewardService) GrantLevelRewards(c *models.Customer, levels []models.Level) models.LevelResult {
	level, decisions := PlanLevelRewards(levels, *c)
	result := models.LevelResult{
		Level:      level,
		Points:     c.Points,
		NewRewards: []models.Reward{},
		Decisions:  decisions,
	}
	for _, d := range decisions {
		if d.Outcome == models.Granted {
			result.NewRewards = append(result.NewRewards, s.grant(c, d.Template, ""))
		}
	}
	return result
}

// Пересчет уровня и выдача новых наград уровня. Запись сохраняется один раз,
// только если были выданы награды.
func (s *RewardService) UpdateCustomerLevel(ctx context.Context, userID, businessID string) (result models.LevelResult, err error) {
	ctx, span := startSpan(ctx, "UpdateCustomerLevel", userID, businessID)
	defer func(start time.Time) {
		observe("update_level", start, err)
		endSpan(span, err)
	}(time.Now())

	levels, err := s.Levels(ctx, businessID)
	if err != nil {
		return models.LevelResult{}, err
	}
	err = s.locked(ctx, models.CustomerKey(userID, businessID), func() error {
		result, err = s.updateLevelLocked(ctx, userID, businessID, levels)
		return err
	})
	if err != nil {
		return models.LevelResult{}, err
	}
	s.levelGranted(userID, result)
	return result, nil
}

func (s *RewardService) updateLevelLocked(ctx context.Context, userID, businessID string, levels []models.Level) (result models.LevelResult, err error) {
	_, err = s.modify(ctx, userID, businessID, func(c *models.Customer) (bool, error) {
		result = s.GrantLevelRewards(c, levels)
		return len(result.NewRewards) > 0, nil
	})
	return result, err
}

// метрики и уведомление после успешной выдачи
func (s *RewardService) levelGranted(userID string, result models.LevelResult) {
	for _, d := range result.Decisions {
		grantDecisions.WithLabelValues(d.Outcome.String()).Inc()
	}
	if len(result.NewRewards) == 0 {
		return
	}
	rewardsGranted.WithLabelValues("level").Add(float64(len(result.NewRewards)))
	s.notify(userID, models.NotifyRewardGet, result.NewRewards)
}

// Выдать все награды кампании без проверки повторной выдачи.
// Проверка условий кампании - на стороне вызывающего.
func (s *RewardService) GrantCampaignRewards(ctx context.Context, userID, businessID, campaignID string) (granted []models.Reward, err error) {
	ctx, span := startSpan(ctx, "GrantCampaignRewards", userID, businessID)
	span.SetAttributes(attribute.String("campaign.id", campaignID))
	defer func(start time.Time) {
		observe("grant_campaign", start, err)
		endSpan(span, err)
	}(time.Now())

	// порядок блокировок: кампания, затем покупатель
	err = s.locked(ctx, "campaign:"+campaignID, func() error {
		campaign, err := s.db.GetCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		if campaign.BusinessID != "" && campaign.BusinessID != businessID {
			return fmt.Errorf("campaign %s in business %s: %w", campaignID, businessID, models.ErrNotFound)
		}
		return s.locked(ctx, models.CustomerKey(userID, businessID), func() error {
			granted, err = s.grantCampaignLocked(ctx, userID, businessID, campaign)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if len(granted) > 0 {
		campaignsRewarded.Inc()
		rewardsGranted.WithLabelValues("campaign").Add(float64(len(granted)))
		s.notify(userID, models.NotifyRewardGet, granted)
	}
	return granted, nil
}

// Награды и счетчик кампании сохраняются одной записью в хранилище
func (s *RewardService) grantCampaignLocked(ctx context.Context, userID, businessID string, campaign models.Campaign) ([]models.Reward, error) {
	customer, err := s.db.GetCustomer(ctx, userID, businessID)
	if err != nil {
		return nil, err
	}
	// пустая кампания: ничего не выдаем и не увеличиваем счетчик
	if len(campaign.EndRewards) == 0 {
		return []models.Reward{}, nil
	}
	granted := make([]models.Reward, 0, len(campaign.EndRewards))
	for _, tmpl := range campaign.EndRewards {
		granted = append(granted, s.grant(&customer, tmpl, campaign.ID))
	}
	campaign.RewardedCount++
	if _, _, err := s.db.SaveCampaignGrant(ctx, customer, campaign); err != nil {
		return nil, storageError("save campaign grant", err)
	}
	return granted, nil
}

// Использование награды: активная -> использованная. Повторное использование - ошибка.
func (s *RewardService) UseReward(ctx context.Context, userID, businessID string, instanceID uuid.UUID) (models.UsedReward, error) {
	return s.useReward(ctx, userID, businessID, instanceID, "")
}

// Повтор запроса с тем же requestID возвращает уже записанное использование
func (s *RewardService) useReward(ctx context.Context, userID, businessID string, instanceID uuid.UUID, requestID string) (used models.UsedReward, err error) {
	ctx, span := startSpan(ctx, "UseReward", userID, businessID)
	defer func(start time.Time) {
		observe("use_reward", start, err)
		endSpan(span, err)
	}(time.Now())

	replay := false
	_, err = s.update(ctx, userID, businessID, func(c *models.Customer) (bool, error) {
		i := slices.IndexFunc(c.Rewards, func(r models.Reward) bool {
			return r.InstanceID == instanceID
		})
		if i < 0 {
			if requestID != "" {
				j := slices.IndexFunc(c.UsedRewards, func(u models.UsedReward) bool {
					return u.Reward.InstanceID == instanceID && u.RequestID == requestID
				})
				if j >= 0 {
					used, replay = c.UsedRewards[j], true
					return false, nil
				}
			}
			return false, fmt.Errorf("reward %s is not active: %w: %w", instanceID, models.ErrNotFound, models.ErrInvalidState)
		}
		used = models.UsedReward{Reward: c.Rewards[i], UsedAt: s.now(), RequestID: requestID}
		c.Rewards = slices.Delete(c.Rewards, i, i+1)
		c.UsedRewards = append(c.UsedRewards, used)
		return true, nil
	})
	if err != nil {
		return models.UsedReward{}, err
	}
	if !replay {
		rewardsUsed.Inc()
		s.notify(userID, models.NotifyRewardUse, used)
	}
	return used, nil
}

// Выдать награду вручную
func (s *RewardService) AddReward(ctx context.Context, userID, businessID string, tmpl models.RewardTemplate) (reward models.Reward, err error) {
	ctx, span := startSpan(ctx, "AddReward", userID, businessID)
	defer func() { endSpan(span, err) }()

	if tmpl.Name == "" {
		return models.Reward{}, fmt.Errorf("reward name is required: %w", models.ErrValidation)
	}
	_, err = s.update(ctx, userID, businessID, func(c *models.Customer) (bool, error) {
		reward = s.grant(c, tmpl, "")
		return true, nil
	})
	if err != nil {
		return models.Reward{}, err
	}
	rewardsGranted.WithLabelValues("manual").Inc()
	s.notify(userID, models.NotifyRewardGet, []models.Reward{reward})
	return reward, nil
}

// Выдать награду всем покупателям бизнеса. Возвращает кол-во награжденных.
func (s *RewardService) RewardAllCustomers(ctx context.Context, businessID string, tmpl models.RewardTemplate) (int, error) {
	if tmpl.Name == "" {
		return 0, fmt.Errorf("reward name is required: %w", models.ErrValidation)
	}
	customers, err := s.db.ListCustomers(ctx, businessID, 0)
	if err != nil {
		return 0, err
	}

	var rewarded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, c := range customers {
		userID := c.UserID
		g.Go(func() error {
			if _, err := s.AddReward(gctx, userID, businessID, tmpl); err != nil {
				return fmt.Errorf("reward customer %s: %w", userID, err)
			}
			rewarded.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(rewarded.Load()), err
}

// Добавить покупку. Баланс баллов не изменяется.
func (s *RewardService) AddPurchase(ctx context.Context, userID, businessID string, purchase models.Purchase) ([]models.Purchase, error) {
	purchase = s.preparePurchase(purchase)
	customer, err := s.update(ctx, userID, businessID, func(c *models.Customer) (bool, error) {
		return s.appendPurchase(c, purchase), nil
	})
	if err != nil {
		return nil, err
	}
	return customer.Purchases, nil
}

// Покупка, начисленные баллы и награды уровня одной записью.
// Покупка с уже известным ID повторно не добавляется и баллы не начисляются.
func (s *RewardService) RecordPurchase(ctx context.Context, userID, businessID string, purchase models.Purchase, points int64) (models.LevelResult, error) {
	purchase = s.preparePurchase(purchase)
	return s.adjustCustomer(ctx, "RecordPurchase", userID, businessID, func(c *models.Customer) {
		if s.appendPurchase(c, purchase) {
			c.Points = max(c.Points+points, 0)
		}
	})
}

func (s *RewardService) preparePurchase(purchase models.Purchase) models.Purchase {
	if purchase.ID == "" {
		purchase.ID = uuid.NewString()
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = s.now()
	}
	return purchase
}

// false, если покупка уже есть в истории
func (s *RewardService) appendPurchase(c *models.Customer, purchase models.Purchase) bool {
	if slices.ContainsFunc(c.Purchases, func(p models.Purchase) bool { return p.ID == purchase.ID }) {
		return false
	}
	c.Purchases = append(c.Purchases, purchase)
	c.LastVisit = s.now()
	return true
}

// Явное изменение баланса с последующим пересчетом уровня
func (s *RewardService) UpdateProperties(ctx context.Context, userID, businessID string, props models.PropertiesUpdate) (models.LevelResult, error) {
	if props.Points != nil && *props.Points < 0 {
		return models.LevelResult{}, fmt.Errorf("points must not be negative: %w", models.ErrValidation)
	}
	return s.adjustCustomer(ctx, "UpdateProperties", userID, businessID, func(c *models.Customer) {
		if props.Points != nil {
			c.Points = *props.Points
		}
	})
}

// Добавить баллы к балансу
func (s *RewardService) AddPoints(ctx context.Context, userID, businessID string, points int64) (models.LevelResult, error) {
	return s.adjustCustomer(ctx, "AddPoints", userID, businessID, func(c *models.Customer) {
		c.Points = max(c.Points+points, 0)
	})
}

// изменение покупателя и пересчет уровня в одной критической секции
func (s *RewardService) adjustCustomer(ctx context.Context, name, userID, businessID string, fn func(c *models.Customer)) (result models.LevelResult, err error) {
	ctx, span := startSpan(ctx, name, userID, businessID)
	defer func() { endSpan(span, err) }()

	levels, err := s.Levels(ctx, businessID)
	if err != nil {
		return models.LevelResult{}, err
	}
	err = s.locked(ctx, models.CustomerKey(userID, businessID), func() error {
		// изменения и награды уровня сохраняются одной записью
		_, err := s.modify(ctx, userID, businessID, func(c *models.Customer) (bool, error) {
			points, purchases := c.Points, len(c.Purchases)
			fn(c)
			changed := c.Points != points || len(c.Purchases) != purchases
			result = s.GrantLevelRewards(c, levels)
			return changed || len(result.NewRewards) > 0, nil
		})
		return err
	})
	if err != nil {
		return models.LevelResult{}, err
	}
	s.levelGranted(userID, result)
	return result, nil
}

// Покупатель присоединяется к бизнесу: создать запись и выдать награды начального уровня
func (s *RewardService) JoinBusiness(ctx context.Context, userID, businessID string) (models.Customer, models.LevelResult, error) {
	if userID == "" || businessID == "" {
		return models.Customer{}, models.LevelResult{}, fmt.Errorf("user and business are required: %w", models.ErrValidation)
	}
	if _, err := s.db.GetBusiness(ctx, businessID); err != nil {
		return models.Customer{}, models.LevelResult{}, err
	}
	_, err := s.db.GetCustomer(ctx, userID, businessID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		_, err = s.db.CreateCustomer(ctx, models.Customer{
			ID:          uuid.New(),
			UserID:      userID,
			BusinessID:  businessID,
			Rewards:     []models.Reward{},
			UsedRewards: []models.UsedReward{},
			Purchases:   []models.Purchase{},
			LastVisit:   s.now(),
		})
		// запись уже создана параллельным запросом
		if err != nil && !errors.Is(err, models.ErrConflict) {
			return models.Customer{}, models.LevelResult{}, storageError("create customer", err)
		}
	case err != nil:
		return models.Customer{}, models.LevelResult{}, err
	}

	result, err := s.UpdateCustomerLevel(ctx, userID, businessID)
	if err != nil {
		return models.Customer{}, models.LevelResult{}, err
	}
	customer, err := s.db.GetCustomer(ctx, userID, businessID)
	if err != nil {
		return models.Customer{}, models.LevelResult{}, err
	}
	return customer, result, nil
}

func (s *RewardService) GetCustomer(ctx context.Context, userID, businessID string) (models.Customer, error) {
	return s.db.GetCustomer(ctx, userID, businessID)
}

// Список покупателей бизнеса. limit 0 - без ограничений, отрицательный - DefaultListLimit.
// При поиске просматривается не больше SearchLimit записей.
func (s *RewardService) ListCustomers(ctx context.Context, businessID string, limit int, search string) ([]models.Customer, error) {
	if limit < 0 {
		limit = DefaultListLimit
	}
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return s.db.ListCustomers(ctx, businessID, limit)
	}

	customers, err := s.db.ListCustomers(ctx, businessID, s.opts.SearchLimit)
	if err != nil {
		return nil, err
	}
	found := make([]models.Customer, 0)
	for _, c := range customers {
		j, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		if strings.Contains(strings.ToLower(string(j)), search) {
			found = append(found, c)
		}
		if limit > 0 && len(found) == limit {
			break
		}
	}
	return found, nil
}

func (s *RewardService) GetBusiness(ctx context.Context, businessID string) (models.Business, error) {
	return s.db.GetBusiness(ctx, businessID)
}

// Сохранить бизнес и его уровни
func (s *RewardService) SaveBusiness(ctx context.Context, business models.Business) (models.Business, error) {
	if business.ID == "" {
		return models.Business{}, fmt.Errorf("business id is required: %w", models.ErrValidation)
	}
	for i := range business.Levels {
		lvl := &business.Levels[i]
		if lvl.RequiredPoints < 0 {
			return models.Business{}, fmt.Errorf("level %q: required points must not be negative: %w", lvl.Name, models.ErrValidation)
		}
		if lvl.ID == "" {
			lvl.ID = uuid.NewString()
		}
		prepareTemplates(lvl.Rewards)
	}
	if err := s.db.SaveBusiness(ctx, business); err != nil {
		return models.Business{}, storageError("save business", err)
	}
	if s.cache != nil {
		if err := s.cache.InvalidateLevels(ctx, business.ID); err != nil {
			s.Log(err)
		}
	}
	return business, nil
}

func (s *RewardService) GetCampaign(ctx context.Context, campaignID string) (models.Campaign, error) {
	return s.db.GetCampaign(ctx, campaignID)
}

func (s *RewardService) SaveCampaign(ctx context.Context, campaign models.Campaign) (saved models.Campaign, err error) {
	if campaign.BusinessID == "" {
		return models.Campaign{}, fmt.Errorf("campaign business is required: %w", models.ErrValidation)
	}
	if campaign.ID == "" {
		campaign.ID = uuid.NewString()
	}
	prepareTemplates(campaign.EndRewards)
	err = s.locked(ctx, "campaign:"+campaign.ID, func() error {
		// счетчик выдач меняется только при выдаче наград
		current, err := s.db.GetCampaign(ctx, campaign.ID)
		switch {
		case err == nil:
			campaign.Version = current.Version
			campaign.RewardedCount = current.RewardedCount
		case errors.Is(err, models.ErrNotFound):
			campaign.Version = 0
			campaign.RewardedCount = 0
		default:
			return err
		}
		saved, err = s.db.SaveCampaign(ctx, campaign)
		if err != nil {
			return storageError("save campaign", err)
		}
		return nil
	})
	if err != nil {
		return models.Campaign{}, err
	}
	return saved, nil
}

// id и ключ распознавания для новых шаблонов
func prepareTemplates(templates []models.RewardTemplate) {
	for i := range templates {
		if templates[i].ID == "" {
			templates[i].ID = uuid.NewString()
		}
		if templates[i].Recognition == "" {
			templates[i].Recognition = uuid.NewString()
		}
	}
}
