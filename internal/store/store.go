// Package store provides the database connection and document operations for PixelDepot.
// It handles the connection to a MongoDB database and provides methods to store
// and retrieve assets and player scores.
package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/pixeldepot/pixeldepot/internal/constants"
	"github.com/pixeldepot/pixeldepot/internal/models"
	"github.com/ubuntu/decorate"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ErrNotFound is returned when no document matches the requested id.
var ErrNotFound = errors.New("document not found")

const dbTimeout = 10 * time.Second

// Config holds the configuration for connecting to the MongoDB database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// URI is a full connection string. When set it wins over the discrete fields.
	URI string
}

type dbCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*mongoopts.InsertOneOptions) (*mongo.InsertOneResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*mongoopts.FindOptions) (*mongo.Cursor, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*mongoopts.FindOneOptions) *mongo.SingleResult
	DeleteOne(ctx context.Context, filter interface{}, opts ...*mongoopts.DeleteOptions) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*mongoopts.CountOptions) (int64, error)
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*mongoopts.AggregateOptions) (*mongo.Cursor, error)
}

type dbClient interface {
	Collection(name string) dbCollection
	Ping(ctx context.Context, rp *readpref.ReadPref) error
	Disconnect(ctx context.Context) error
}

// mongoClient adapts a mongo driver client to dbClient, binding the target database.
type mongoClient struct {
	client *mongo.Client
	db     *mongo.Database
}

func (c mongoClient) Collection(name string) dbCollection {
	return c.db.Collection(name)
}

func (c mongoClient) Ping(ctx context.Context, rp *readpref.ReadPref) error {
	return c.client.Ping(ctx, rp)
}

func (c mongoClient) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Manager manages the MongoDB client and the document operations.
type Manager struct {
	client dbClient
}

type options struct {
	newClient func(ctx context.Context, uri, dbName string) (dbClient, error)
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// New creates a store manager holding a MongoDB client built from the provided configuration.
// Note: The connection is validated with a ping, but it is not maintained.
func New(ctx context.Context, cfg Config, args ...Options) (*Manager, error) {
	opts := options{
		newClient: func(ctx context.Context, uri, dbName string) (dbClient, error) {
			client, err := mongo.Connect(ctx, mongoopts.Client().ApplyURI(uri))
			if err != nil {
				return nil, err
			}
			return mongoClient{client: client, db: client.Database(dbName)}, nil
		},
	}

	for _, opt := range args {
		opt(&opts)
	}

	client, err := opts.newClient(ctx, cfg.ConnectionString(), cfg.Database())
	if err != nil {
		return nil, fmt.Errorf("unable to create database client: %w", err)
	}

	slog.Debug("Testing database connection", "host", cfg.Host, "port", cfg.Port)
	pingCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(pingCtx)
		return nil, fmt.Errorf("unable to ping database: %v", err)
	}

	slog.Info("Successfully pinged MongoDB database", "host", cfg.Host, "port", cfg.Port)
	return &Manager{client: client}, nil
}

// UploadAsset inserts the asset into the collection for kind and returns the new document id.
func (db Manager) UploadAsset(ctx context.Context, kind string, asset models.Asset) (id string, err error) {
	defer decorate.OnError(&err, "failed to upload asset")

	coll, err := db.collection(kind)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	res, err := coll.InsertOne(ctx, asset)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("upload canceled: %v", err)
		}
		return "", err
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// ListAssets returns the summaries of all assets of the given kind, in insertion order.
// The base64 payload is excluded server side.
func (db Manager) ListAssets(ctx context.Context, kind string) (assets []models.AssetSummary, err error) {
	defer decorate.OnError(&err, "failed to list assets")

	coll, err := db.collection(kind)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cur, err := coll.Find(ctx, bson.M{}, mongoopts.Find().
		SetProjection(bson.M{"content": 0}).
		SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	assets = []models.AssetSummary{}
	if err := cur.All(ctx, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// GetAsset returns a single asset document, including its encoded payload.
func (db Manager) GetAsset(ctx context.Context, kind, id string) (asset models.Asset, err error) {
	defer decorate.OnError(&err, "failed to get asset")

	coll, err := db.collection(kind)
	if err != nil {
		return models.Asset{}, err
	}

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		// A malformed id can not match any document.
		return models.Asset{}, ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	err = coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&asset)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Asset{}, ErrNotFound
	}
	if err != nil {
		return models.Asset{}, err
	}
	return asset, nil
}

// AssetContent returns the asset metadata along with its decoded file bytes.
func (db Manager) AssetContent(ctx context.Context, kind, id string) (models.Asset, []byte, error) {
	asset, err := db.GetAsset(ctx, kind, id)
	if err != nil {
		return models.Asset{}, nil, err
	}

	data, err := base64.StdEncoding.DecodeString(asset.Content)
	if err != nil {
		return models.Asset{}, nil, fmt.Errorf("corrupted content for asset %s: %v", id, err)
	}
	return asset, data, nil
}

// DeleteAsset removes an asset document.
func (db Manager) DeleteAsset(ctx context.Context, kind, id string) (err error) {
	defer decorate.OnError(&err, "failed to delete asset")

	coll, err := db.collection(kind)
	if err != nil {
		return err
	}

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	res, err := coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertScore records a player score and returns the new document id.
func (db Manager) InsertScore(ctx context.Context, score models.PlayerScore) (id string, err error) {
	defer decorate.OnError(&err, "failed to insert score")

	coll, err := db.collection(constants.ScoresKind)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	res, err := coll.InsertOne(ctx, score)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("insert canceled: %v", err)
		}
		return "", err
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// ListScores returns all recorded scores in insertion order, optionally
// filtered by exact player name.
func (db Manager) ListScores(ctx context.Context, player string) (scores []models.PlayerScore, err error) {
	defer decorate.OnError(&err, "failed to list scores")

	coll, err := db.collection(constants.ScoresKind)
	if err != nil {
		return nil, err
	}

	filter := bson.M{}
	if player != "" {
		filter["player_name"] = player
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cur, err := coll.Find(ctx, filter, mongoopts.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	scores = []models.PlayerScore{}
	if err := cur.All(ctx, &scores); err != nil {
		return nil, err
	}
	return scores, nil
}

// Stats describes the size of a collection.
type Stats struct {
	Documents int64
	Bytes     int64
}

// CollectionStats returns the document count and the total BSON size of the
// collection backing the given kind.
func (db Manager) CollectionStats(ctx context.Context, kind string) (stats Stats, err error) {
	defer decorate.OnError(&err, "failed to collect stats")

	coll, err := db.collection(kind)
	if err != nil {
		return Stats{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	count, err := coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return Stats{}, err
	}

	cur, err := coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "bytes", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$bsonSize", Value: "$$ROOT"}}}}},
		}}},
	})
	if err != nil {
		return Stats{}, err
	}
	defer cur.Close(ctx)

	var result struct {
		Bytes int64 `bson:"bytes"`
	}
	if cur.Next(ctx) {
		if err := cur.Decode(&result); err != nil {
			return Stats{}, err
		}
	}
	if err := cur.Err(); err != nil {
		return Stats{}, err
	}

	return Stats{Documents: count, Bytes: result.Bytes}, nil
}

func (db Manager) collection(kind string) (dbCollection, error) {
	if db.client == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return db.client.Collection(models.CollectionName(kind)), nil
}

// Close disconnects the database client.
//
// If the client is already closed, it does nothing.
// If the client does not disconnect within 10 seconds, it returns an error.
func (db *Manager) Close() error {
	if db.client == nil {
		return nil
	}

	client := db.client
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
		defer cancel()
		err = client.Disconnect(ctx)
	}()

	select {
	case <-done:
		db.client = nil
		if err != nil {
			return fmt.Errorf("failed to disconnect from database: %v", err)
		}
		return nil
	case <-time.After(dbTimeout):
		return fmt.Errorf("timeout while closing database, connection may still be open")
	}
}

// ConnectionString is a helper method that returns a MongoDB connection string.
// It does not check the validity of the configuration values.
//
// Security warning: the returned string may include credentials.
func (c Config) ConnectionString() string {
	if c.URI != "" {
		return c.URI
	}

	host := c.Host
	if c.Port != 0 {
		host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}

	var user *url.Userinfo
	if c.User != "" {
		user = url.User(c.User)
		if c.Password != "" {
			user = url.UserPassword(c.User, c.Password)
		}
	}

	u := &url.URL{
		Scheme: "mongodb",
		User:   user,
		Host:   host,
		Path:   c.Database(),
	}
	return u.String()
}

// Database returns the database name targeted by the configuration.
//
// A full connection string carries its own database path, matching how older
// deployments resolved the default database from the connection string.
func (c Config) Database() string {
	if c.URI != "" {
		if u, err := url.Parse(c.URI); err == nil {
			if name := strings.TrimPrefix(u.Path, "/"); name != "" {
				return name
			}
		}
	}

	if c.Name != "" {
		return c.Name
	}
	return constants.DefaultDBName
}
