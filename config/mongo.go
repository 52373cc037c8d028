package config

import (
	"context"
	"crypto/tls"
	"errors"
	"os"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var MongoClient *mongo.Client

const defaultMongoPool = 10

// mongoClientOptions builds client options for the session sink. The sink
// writes one summary per session and a transcript entry per utterance, so a
// small pool is enough. MONGO_TLS_INSECURE skips certificate checks for a
// local replica set with a self-signed cert.
func mongoClientOptions(uri string) *options.ClientOptions {
	pool := uint64(defaultMongoPool)
	if v, err := strconv.ParseUint(os.Getenv("MONGO_MAX_POOL"), 10, 64); err == nil && v > 0 {
		pool = v
	}

	opts := options.Client().ApplyURI(uri).
		SetAppName("crisishelp").
		SetServerSelectionTimeout(20 * time.Second).
		SetConnectTimeout(15 * time.Second).
		SetMaxPoolSize(pool).
		SetMinPoolSize(1)

	if os.Getenv("MONGO_TLS_INSECURE") == "true" {
		opts = opts.SetTLSConfig(&tls.Config{
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS12,
		})
	}
	return opts
}

// InitMongo connects the session sink's Mongo client and pings it.
func InitMongo() error {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		return errors.New("MONGO_URI environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, mongoClientOptions(uri))
	if err != nil {
		return err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return err
	}

	MongoClient = client
	return nil
}
