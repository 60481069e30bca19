package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ecosort/apiserver/config"
	"github.com/ecosort/apiserver/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection    = "users"
	analysesCollection = "device_analyses"
	countersCollection = "counters"
	mongoOpTimeout     = 5 * time.Second
)

// OpenMongo connects to MongoDB and ensures the indexes the repositories rely on.
func OpenMongo(ctx context.Context, cfg config.MongoConfig) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	if err := ensureMongoIndexes(ctx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return db, nil
}

func ensureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	_, err := db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create users index: %w", err)
	}

	_, err = db.Collection(analysesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create analyses index: %w", err)
	}
	return nil
}

// nextSequence hands out monotonically increasing integer ids per collection.
func nextSequence(ctx context.Context, db *mongo.Database, name string) (int, error) {
	var counter struct {
		Seq int `bson:"seq"`
	}
	err := db.Collection(countersCollection).FindOneAndUpdate(
		ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", name, err)
	}
	return counter.Seq, nil
}

// MongoUserRepository handles persistence for users in MongoDB.
type MongoUserRepository struct {
	db   *mongo.Database
	coll *mongo.Collection
}

func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{db: db, coll: db.Collection(usersCollection)}
}

func (r *MongoUserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var user types.User
	if err := r.coll.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *MongoUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	id, err := nextSequence(ctx, r.db, usersCollection)
	if err != nil {
		return types.User{}, err
	}
	user.ID = id
	user.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	if _, err := r.coll.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, err
	}
	return user, nil
}

// MongoAnalysisRepository handles persistence for device analyses in MongoDB.
type MongoAnalysisRepository struct {
	db   *mongo.Database
	coll *mongo.Collection
}

func NewMongoAnalysisRepository(db *mongo.Database) *MongoAnalysisRepository {
	return &MongoAnalysisRepository{db: db, coll: db.Collection(analysesCollection)}
}

func (r *MongoAnalysisRepository) ListByUser(ctx context.Context, userID int) ([]types.DeviceAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := r.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	analyses := make([]types.DeviceAnalysis, 0)
	if err := cursor.All(ctx, &analyses); err != nil {
		return nil, err
	}
	return analyses, nil
}

func (r *MongoAnalysisRepository) Get(ctx context.Context, id int) (types.DeviceAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var analysis types.DeviceAnalysis
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&analysis); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.DeviceAnalysis{}, ErrNotFound
		}
		return types.DeviceAnalysis{}, err
	}
	return analysis, nil
}

func (r *MongoAnalysisRepository) Create(ctx context.Context, in types.NewDeviceAnalysis) (types.DeviceAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	id, err := nextSequence(ctx, r.db, analysesCollection)
	if err != nil {
		return types.DeviceAnalysis{}, err
	}

	// Mongo stores milliseconds; truncate so the returned record matches a later read.
	analysis := types.FromNew(id, in, time.Now().UTC().Truncate(time.Millisecond))
	if _, err := r.coll.InsertOne(ctx, analysis); err != nil {
		return types.DeviceAnalysis{}, err
	}
	return analysis, nil
}
