package clinic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo defaults.
const (
	DefaultMongoDatabase   = "triagepipe"
	DefaultMongoCollection = "clinics"
	mongoConnectTimeout    = 10 * time.Second
)

// MongoDirectory reads clinics from a MongoDB collection.
type MongoDirectory struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// MongoOpts holds configuration for the Mongo directory.
type MongoOpts struct {
	Database   string
	Collection string
}

// MongoOption configures MongoOpts.
type MongoOption func(*MongoOpts)

// WithMongoDatabase sets the database name.
func WithMongoDatabase(name string) MongoOption {
	return func(o *MongoOpts) { o.Database = name }
}

// WithMongoCollection sets the collection name.
func WithMongoCollection(name string) MongoOption {
	return func(o *MongoOpts) { o.Collection = name }
}

// NewMongoDirectory connects to uri and verifies the connection.
func NewMongoDirectory(ctx context.Context, uri string, opts ...MongoOption) (*MongoDirectory, error) {
	cfg := MongoOpts{Database: DefaultMongoDatabase, Collection: DefaultMongoCollection}
	for _, opt := range opts {
		opt(&cfg)
	}

	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	slog.Info("MongoDirectory: connected", "database", cfg.Database, "collection", cfg.Collection)
	return &MongoDirectory{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// Clinics implements Directory.
func (d *MongoDirectory) Clinics(ctx context.Context, countryCode string) ([]models.Clinic, error) {
	countryCode = strings.ToUpper(strings.TrimSpace(countryCode))
	if countryCode == "" {
		return nil, nil
	}
	cur, err := d.collection.Find(ctx, bson.M{"country_code": countryCode})
	if err != nil {
		return nil, fmt.Errorf("failed to query clinics: %w", err)
	}
	var out []models.Clinic
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode clinics: %w", err)
	}
	slog.Debug("MongoDirectory.Clinics", "country", countryCode, "count", len(out))
	return out, nil
}

// Close disconnects from MongoDB.
func (d *MongoDirectory) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}
