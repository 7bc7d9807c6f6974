package rewards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Хранилище в PostgreSQL: награды, использованные награды и покупки - jsonb
type RewardsPG struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS customers (
	uuid        UUID PRIMARY KEY,
	userid      TEXT NOT NULL,
	businessid  TEXT NOT NULL,
	points      BIGINT NOT NULL DEFAULT 0 CHECK (points >= 0),
	rewards     JSONB NOT NULL DEFAULT '[]',
	usedrewards JSONB NOT NULL DEFAULT '[]',
	purchases   JSONB NOT NULL DEFAULT '[]',
	lastvisit   TIMESTAMPTZ,
	version     BIGINT NOT NULL DEFAULT 1,
	UNIQUE (userid, businessid)
);
CREATE TABLE IF NOT EXISTS businesses (
	id     TEXT PRIMARY KEY,
	name   TEXT NOT NULL DEFAULT '',
	levels JSONB NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS campaigns (
	id            TEXT PRIMARY KEY,
	businessid    TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	endrewards    JSONB NOT NULL DEFAULT '[]',
	rewardedcount BIGINT NOT NULL DEFAULT 0,
	version       BIGINT NOT NULL DEFAULT 1
);`

const uniqueViolation = "23505"

func NewRewardsPG(ctx context.Context, dsn string, logger *zap.Logger) (*RewardsPG, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	p := &RewardsPG{pool, logger}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return p, nil
}

func (p *RewardsPG) Close() {
	p.pool.Close()
}

func (p *RewardsPG) logSQL(err error, sql string, args []any) {
	p.logger.Error("SQL error",
		zap.Error(err),
		zap.String("query", sql),
		zap.Any("args", args),
	)
}

var customerColumns = []string{"uuid", "userid", "businessid", "points", "rewards", "usedrewards", "purchases", "lastvisit", "version"}

func scanCustomer(row pgx.Row) (models.Customer, error) {
	var c models.Customer
	var pguuid pgtype.UUID
	var lastVisit pgtype.Timestamptz
	var rewards, used, purchases []byte
	err := row.Scan(&pguuid, &c.UserID, &c.BusinessID, &c.Points, &rewards, &used, &purchases, &lastVisit, &c.Version)
	if err != nil {
		return models.Customer{}, err
	}
	c.ID, _ = uuid.FromBytes(pguuid.Bytes[:])
	if lastVisit.Status == pgtype.Present {
		c.LastVisit = lastVisit.Time
	}
	if err := json.Unmarshal(rewards, &c.Rewards); err != nil {
		return models.Customer{}, err
	}
	if err := json.Unmarshal(used, &c.UsedRewards); err != nil {
		return models.Customer{}, err
	}
	if err := json.Unmarshal(purchases, &c.Purchases); err != nil {
		return models.Customer{}, err
	}
	return c, nil
}

// jsonb значения записи покупателя
func customerJSON(c models.Customer) (rewards, used, purchases string, err error) {
	r, err := json.Marshal(nonNil(c.Rewards))
	if err != nil {
		return
	}
	u, err := json.Marshal(nonNil(c.UsedRewards))
	if err != nil {
		return
	}
	pr, err := json.Marshal(nonNil(c.Purchases))
	if err != nil {
		return
	}
	return string(r), string(u), string(pr), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (p *RewardsPG) GetCustomer(ctx context.Context, userID string, businessID string) (models.Customer, error) {
	sql, args, err := sq.Select(customerColumns...).
		From("customers").
		Where(sq.Eq{"userid": userID, "businessid": businessID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		p.logSQL(err, sql, args)
		return models.Customer{}, err
	}
	c, err := scanCustomer(p.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Customer{}, fmt.Errorf("customer %s %w", userID, models.ErrNotFound)
		}
		return models.Customer{}, err
	}
	return c, nil
}

func (p *RewardsPG) CreateCustomer(ctx context.Context, customer models.Customer) (models.Customer, error) {
	rewards, used, purchases, err := customerJSON(customer)
	if err != nil {
		return models.Customer{}, err
	}
	customer.Version = 1
	sql, args, err := sq.Insert("customers").
		Columns(customerColumns...).
		Values(customer.ID, customer.UserID, customer.BusinessID, customer.Points, rewards, used, purchases, customer.LastVisit, customer.Version).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		p.logSQL(err, sql, args)
		return models.Customer{}, err
	}
	_, err = p.pool.Exec(ctx, sql, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.Customer{}, fmt.Errorf("customer %s: %w", customer.UserID, models.ErrConflict)
		}
		p.logSQL(err, sql, args)
		return models.Customer{}, err
	}
	return customer, nil
}

// пул или транзакция
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Обновление только при совпадении версии
func (p *RewardsPG) SaveCustomer(ctx context.Context, customer models.Customer) (models.Customer, error) {
	return p.saveCustomer(ctx, p.pool, customer)
}

func (p *RewardsPG) saveCustomer(ctx context.Context, q execer, customer models.Customer) (models.Customer, error) {
	rewards, used, purchases, err := customerJSON(customer)
	if err != nil {
		return models.Customer{}, err
	}
	sql, args, err := sq.Update("customers").
		Set("points", customer.Points).
		Set("rewards", rewards).
		Set("usedrewards", used).
		Set("purchases", purchases).
		Set("lastvisit", customer.LastVisit).
		Set("version", customer.Version+1).
		Where(sq.Eq{"userid": customer.UserID, "businessid": customer.BusinessID, "version": customer.Version}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		p.logSQL(err, sql, args)
		return models.Customer{}, err
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		p.logSQL(err, sql, args)
		return models.Customer{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.Customer{}, fmt.Errorf("customer %s: %w", customer.UserID, models.ErrConflict)
	}
	customer.Version++
	return customer, nil
}

func (p *RewardsPG) ListCustomers(ctx context.Context, businessID string, limit int) ([]models.Customer, error) {
	query := sq.Select(customerColumns...).
		From("customers").
		Where(sq.Eq{"businessid": businessID}).
		OrderBy("lastvisit DESC").
		PlaceholderFormat(sq.Dollar)
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	sql, args, err := query.ToSql()
	if err != nil {
		p.logSQL(err, sql, args)
		return nil, err
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]models.Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (p *RewardsPG) GetBusiness(ctx context.Context, businessID string) (models.Business, error) {
	var b models.Business
	var levels []byte
	row := p.pool.QueryRow(ctx, "SELECT id, name, levels FROM businesses WHERE id = $1", businessID)
	err := row.Scan(&b.ID, &b.Name, &levels)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Business{}, fmt.Errorf("business %s %w", businessID, models.ErrNotFound)
		}
		return models.Business{}, err
	}
	if err := json.Unmarshal(levels, &b.Levels); err != nil {
		return models.Business{}, err
	}
	return b, nil
}

func (p *RewardsPG) SaveBusiness(ctx context.Context, business models.Business) error {
	levels, err := json.Marshal(nonNil(business.Levels))
	if err != nil {
		return err
	}
	sql, args, err := sq.Insert("businesses").
		Columns("id", "name", "levels").
		Values(business.ID, business.Name, string(levels)).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, levels = EXCLUDED.levels").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		p.logSQL(err, sql, args)
		return err
	}
	_, err = p.pool.Exec(ctx, sql, args...)
	return err
}

func (p *RewardsPG) GetCampaign(ctx context.Context, campaignID string) (models.Campaign, error) {
	var c models.Campaign
	var endRewards []byte
	row := p.pool.QueryRow(ctx, "SELECT id, businessid, name, endrewards, rewardedcount, version FROM campaigns WHERE id = $1", campaignID)
	err := row.Scan(&c.ID, &c.BusinessID, &c.Name, &endRewards, &c.RewardedCount, &c.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Campaign{}, fmt.Errorf("campaign %s %w", campaignID, models.ErrNotFound)
		}
		return models.Campaign{}, err
	}
	if err := json.Unmarshal(endRewards, &c.EndRewards); err != nil {
		return models.Campaign{}, err
	}
	return c, nil
}

func (p *RewardsPG) SaveCampaign(ctx context.Context, campaign models.Campaign) (models.Campaign, error) {
	return p.saveCampaign(ctx, p.pool, campaign)
}

func (p *RewardsPG) saveCampaign(ctx context.Context, q execer, campaign models.Campaign) (models.Campaign, error) {
	endRewards, err := json.Marshal(nonNil(campaign.EndRewards))
	if err != nil {
		return models.Campaign{}, err
	}

	var sql string
	var args []any
	if campaign.Version == 0 {
		sql, args, err = sq.Insert("campaigns").
			Columns("id", "businessid", "name", "endrewards", "rewardedcount", "version").
			Values(campaign.ID, campaign.BusinessID, campaign.Name, string(endRewards), campaign.RewardedCount, 1).
			PlaceholderFormat(sq.Dollar).
			ToSql()
	} else {
		sql, args, err = sq.Update("campaigns").
			Set("name", campaign.Name).
			Set("endrewards", string(endRewards)).
			Set("rewardedcount", campaign.RewardedCount).
			Set("version", campaign.Version+1).
			Where(sq.Eq{"id": campaign.ID, "version": campaign.Version}).
			PlaceholderFormat(sq.Dollar).
			ToSql()
	}
	if err != nil {
		p.logSQL(err, sql, args)
		return models.Campaign{}, err
	}

	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.Campaign{}, fmt.Errorf("campaign %s: %w", campaign.ID, models.ErrConflict)
		}
		p.logSQL(err, sql, args)
		return models.Campaign{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.Campaign{}, fmt.Errorf("campaign %s: %w", campaign.ID, models.ErrConflict)
	}
	campaign.Version++
	return campaign, nil
}

// Покупатель и счетчик кампании в одной транзакции
func (p *RewardsPG) SaveCampaignGrant(ctx context.Context, customer models.Customer, campaign models.Campaign) (models.Customer, models.Campaign, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return models.Customer{}, models.Campaign{}, err
	}
	defer tx.Rollback(ctx)

	savedCustomer, err := p.saveCustomer(ctx, tx, customer)
	if err != nil {
		return models.Customer{}, models.Campaign{}, err
	}
	savedCampaign, err := p.saveCampaign(ctx, tx, campaign)
	if err != nil {
		return models.Customer{}, models.Campaign{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Customer{}, models.Campaign{}, err
	}
	return savedCustomer, savedCampaign, nil
}
