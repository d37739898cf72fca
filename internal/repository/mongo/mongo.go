// Package mongo implements the server stores on MongoDB.
package mongo

import (
	"context"
	"loyalty-app/internal/config"
	"loyalty-app/internal/logger"
	"loyalty-app/internal/repository/db"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	collectionCodes    = "redeem_codes"
	collectionHistory  = "point_history"
	collectionUsers    = "users"
	collectionFAQs     = "faqs"
	collectionProducts = "products"
)

// Ensure MongoDB implements db.Database interface
var _ db.Database = (*MongoDB)(nil)

// MongoDB implements db.Database on a MongoDB database
type MongoDB struct {
	client   *mongo.Client
	codes    *mongo.Collection
	history  *mongo.Collection
	users    *mongo.Collection
	faqs     *mongo.Collection
	products *mongo.Collection
	now      func() time.Time
}

// NewMongoDB connects to MongoDB and ensures the indexes the stores rely on
func NewMongoDB(ctx context.Context, cfg config.MongoConfig) (*MongoDB, error) {
	logger.Log.WithField("database", cfg.Database).Info("Connecting to MongoDB")

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.URI).SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to mongodb")
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "error pinging mongodb")
	}

	m := newMongoDB(client, cfg.Database)
	if err := m.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	logger.Log.Info("Successfully connected to MongoDB")
	return m, nil
}

func newMongoDB(client *mongo.Client, database string) *MongoDB {
	d := client.Database(database)
	return &MongoDB{
		client:   client,
		codes:    d.Collection(collectionCodes),
		history:  d.Collection(collectionHistory),
		users:    d.Collection(collectionUsers),
		faqs:     d.Collection(collectionFAQs),
		products: d.Collection(collectionProducts),
		now:      time.Now,
	}
}

func (m *MongoDB) ensureIndexes(ctx context.Context) error {
	unique := func(key string) mongo.IndexModel {
		return mongo.IndexModel{Keys: bson.D{{Key: key, Value: 1}}, Options: options.Index().SetUnique(true)}
	}

	if _, err := m.codes.Indexes().CreateOne(ctx, unique("code")); err != nil {
		return errors.Wrap(err, "error creating redeem code index")
	}
	if _, err := m.users.Indexes().CreateOne(ctx, unique("userId")); err != nil {
		return errors.Wrap(err, "error creating user index")
	}
	if _, err := m.history.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
	}); err != nil {
		return errors.Wrap(err, "error creating point history index")
	}
	return nil
}

// Ping checks the primary is reachable
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// RedeemCode claims the code with a single conditional update before any points are credited,
// so a code can be spent at most once even under concurrent requests. If crediting fails the
// claim is released.
func (m *MongoDB) RedeemCode(ctx context.Context, code, userID, displayName string) (*db.RedeemResult, error) {
	now := m.now().UTC()

	var claimed db.RedeemCode
	err := m.codes.FindOneAndUpdate(ctx,
		bson.M{"code": code, "used": false},
		bson.M{"$set": bson.M{"used": true, "usedBy": userID, "usedAt": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&claimed)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, m.missingCodeError(ctx, code)
		}
		return nil, errors.Wrap(err, "error claiming redeem code")
	}

	history := db.PointHistory{
		ID:        newID(),
		UserID:    userID,
		Code:      code,
		Points:    claimed.Points,
		CreatedAt: now,
	}
	if _, err := m.history.InsertOne(ctx, history); err != nil {
		m.releaseCode(ctx, code, userID)
		return nil, errors.Wrap(err, "error recording point history")
	}

	set := bson.M{"updatedAt": now}
	if displayName != "" {
		set["displayName"] = displayName
	}
	var user db.User
	err = m.users.FindOneAndUpdate(ctx,
		bson.M{"userId": userID},
		bson.M{
			"$inc":         bson.M{"points": claimed.Points},
			"$set":         set,
			"$setOnInsert": bson.M{"createdAt": now},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&user)
	if err != nil {
		if _, delErr := m.history.DeleteOne(ctx, bson.M{"_id": history.ID}); delErr != nil {
			logger.Log.WithError(delErr).WithField("history_id", history.ID).Error("Failed to remove point history after credit failure")
		}
		m.releaseCode(ctx, code, userID)
		return nil, errors.Wrap(err, "error crediting points")
	}

	logger.Log.WithFields(logrus.Fields{
		"code":         code,
		"user_id":      userID,
		"points":       claimed.Points,
		"total_points": user.Points,
	}).Info("Redeemed code")

	return &db.RedeemResult{Code: claimed, PointsAdded: claimed.Points, TotalPoints: user.Points}, nil
}

func (m *MongoDB) missingCodeError(ctx context.Context, code string) error {
	count, err := m.codes.CountDocuments(ctx, bson.M{"code": code})
	if err != nil {
		return errors.Wrap(err, "error looking up redeem code")
	}
	if count == 0 {
		return db.ErrCodeNotFound
	}
	return db.ErrCodeAlreadyUsed
}

func (m *MongoDB) releaseCode(ctx context.Context, code, userID string) {
	_, err := m.codes.UpdateOne(ctx,
		bson.M{"code": code, "usedBy": userID},
		bson.M{"$set": bson.M{"used": false}, "$unset": bson.M{"usedBy": "", "usedAt": ""}},
	)
	if err != nil {
		logger.Log.WithError(err).WithFields(logrus.Fields{"code": code, "user_id": userID}).Error("Failed to release redeem code")
	}
}

// GetUser returns the user's balance
func (m *MongoDB) GetUser(ctx context.Context, userID string) (*db.User, error) {
	var user db.User
	if err := m.users.FindOne(ctx, bson.M{"userId": userID}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, db.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "error retrieving user")
	}
	return &user, nil
}

// GetPointHistory returns the newest entries first
func (m *MongoDB) GetPointHistory(ctx context.Context, userID string, limit int) ([]db.PointHistory, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.history.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "error querying point history")
	}
	defer cursor.Close(ctx)

	history := []db.PointHistory{}
	if err := cursor.All(ctx, &history); err != nil {
		return nil, errors.Wrap(err, "error decoding point history")
	}
	return history, nil
}

// CreateCodes inserts unused codes
func (m *MongoDB) CreateCodes(ctx context.Context, codes []db.RedeemCode) error {
	if len(codes) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(codes))
	for _, c := range codes {
		c.Used = false
		c.UsedBy = nil
		c.UsedAt = nil
		if c.CreatedAt.IsZero() {
			c.CreatedAt = m.now().UTC()
		}
		docs = append(docs, c)
	}

	if _, err := m.codes.InsertMany(ctx, docs); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return db.ErrCodeExists
		}
		return errors.Wrap(err, "error inserting redeem codes")
	}

	logger.Log.WithField("count", len(codes)).Info("Created redeem codes")
	return nil
}
