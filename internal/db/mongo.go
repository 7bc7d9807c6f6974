package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	models "github.com/glkeru/loyalty/rewards/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type RewardsDB struct {
	mgo        *mongo.Client
	customers  *mongo.Collection
	businesses *mongo.Collection
	campaigns  *mongo.Collection
}

func NewRewardsDB(addr string, database string) (*RewardsDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if addr == "" {
		return nil, fmt.Errorf("env REWARDS_MONGO_ADDR is not set")
	}

	options := options.Client().ApplyURI("mongodb://" + addr)
	client, err := mongo.Connect(ctx, options)
	if err != nil {
		return nil, err
	}
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, err
	}
	db := client.Database(database)
	r := &RewardsDB{
		mgo:        client,
		customers:  db.Collection("customers"),
		businesses: db.Collection("businesses"),
		campaigns:  db.Collection("campaigns"),
	}
	if err := r.createIndexes(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// одна запись покупателя на пару пользователь/бизнес
func (r *RewardsDB) createIndexes(ctx context.Context) error {
	_, err := r.customers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userid", Value: 1}, {Key: "businessid", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = r.businesses.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = r.campaigns.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *RewardsDB) Close(ctx context.Context) error {
	return r.mgo.Disconnect(ctx)
}

func (r *RewardsDB) GetCustomer(ctx context.Context, userID string, businessID string) (models.Customer, error) {
	var customer models.Customer
	filter := bson.M{"userid": userID, "businessid": businessID}
	err := r.customers.FindOne(ctx, filter).Decode(&customer)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Customer{}, fmt.Errorf("customer %s %w", userID, models.ErrNotFound)
		}
		return models.Customer{}, err
	}
	return customer, nil
}

func (r *RewardsDB) CreateCustomer(ctx context.Context, customer models.Customer) (models.Customer, error) {
	customer.Version = 1
	_, err := r.customers.InsertOne(ctx, customer)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.Customer{}, fmt.Errorf("customer %s: %w", customer.UserID, models.ErrConflict)
		}
		return models.Customer{}, err
	}
	return customer, nil
}

// Замена документа только при совпадении версии
func (r *RewardsDB) SaveCustomer(ctx context.Context, customer models.Customer) (models.Customer, error) {
	filter := bson.M{
		"userid":     customer.UserID,
		"businessid": customer.BusinessID,
		"version":    customer.Version,
	}
	customer.Version++
	result, err := r.customers.ReplaceOne(ctx, filter, customer)
	if err != nil {
		return models.Customer{}, err
	}
	if result.MatchedCount == 0 {
		return models.Customer{}, fmt.Errorf("customer %s: %w", customer.UserID, models.ErrConflict)
	}
	return customer, nil
}

func (r *RewardsDB) ListCustomers(ctx context.Context, businessID string, limit int) ([]models.Customer, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.customers.Find(ctx, bson.M{"businessid": businessID}, opts)
	if err != nil {
		return nil, err
	}
	customers := make([]models.Customer, 0)
	if err := cursor.All(ctx, &customers); err != nil {
		return nil, err
	}
	return customers, nil
}

func (r *RewardsDB) GetBusiness(ctx context.Context, businessID string) (models.Business, error) {
	var business models.Business
	err := r.businesses.FindOne(ctx, bson.M{"id": businessID}).Decode(&business)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Business{}, fmt.Errorf("business %s %w", businessID, models.ErrNotFound)
		}
		return models.Business{}, err
	}
	return business, nil
}

func (r *RewardsDB) SaveBusiness(ctx context.Context, business models.Business) error {
	filter := bson.M{"id": business.ID}
	_, err := r.businesses.ReplaceOne(ctx, filter, business, options.Replace().SetUpsert(true))
	return err
}

func (r *RewardsDB) GetCampaign(ctx context.Context, campaignID string) (models.Campaign, error) {
	var campaign models.Campaign
	err := r.campaigns.FindOne(ctx, bson.M{"id": campaignID}).Decode(&campaign)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Campaign{}, fmt.Errorf("campaign %s %w", campaignID, models.ErrNotFound)
		}
		return models.Campaign{}, err
	}
	return campaign, nil
}

func (r *RewardsDB) SaveCampaign(ctx context.Context, campaign models.Campaign) (models.Campaign, error) {
	// новая кампания
	if campaign.Version == 0 {
		campaign.Version = 1
		_, err := r.campaigns.InsertOne(ctx, campaign)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return models.Campaign{}, fmt.Errorf("campaign %s: %w", campaign.ID, models.ErrConflict)
			}
			return models.Campaign{}, err
		}
		return campaign, nil
	}
	// обновление
	filter := bson.M{"id": campaign.ID, "version": campaign.Version}
	campaign.Version++
	result, err := r.campaigns.ReplaceOne(ctx, filter, campaign)
	if err != nil {
		return models.Campaign{}, err
	}
	if result.MatchedCount == 0 {
		return models.Campaign{}, fmt.Errorf("campaign %s: %w", campaign.ID, models.ErrConflict)
	}
	return campaign, nil
}

// Покупатель и кампания в одной транзакции (нужен replica set)
func (r *RewardsDB) SaveCampaignGrant(ctx context.Context, customer models.Customer, campaign models.Campaign) (models.Customer, models.Campaign, error) {
	session, err := r.mgo.StartSession()
	if err != nil {
		return models.Customer{}, models.Campaign{}, err
	}
	defer session.EndSession(ctx)

	var savedCustomer models.Customer
	var savedCampaign models.Campaign
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		var err error
		savedCustomer, err = r.SaveCustomer(sc, customer)
		if err != nil {
			return nil, err
		}
		savedCampaign, err = r.SaveCampaign(sc, campaign)
		return nil, err
	})
	if err != nil {
		return models.Customer{}, models.Campaign{}, err
	}
	return savedCustomer, savedCampaign, nil
}
