package mongo

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/troikatech/carecall/pkg/logger"
)

const (
	defaultAppName     = "carecall"
	defaultMaxPoolSize = 50
	connectTimeout     = 10 * time.Second
)

// Options describes how to reach the datastore.
type Options struct {
	URI    string
	DBName string
	// Username and Password override any credentials embedded in URI.
	// The datastore service key is passed as Password.
	Username string
	Password string

	AppName     string
	MaxPoolSize uint64
	// PreferSecondary routes reads to replicas when available. Profile
	// lookups tolerate slightly stale data; writes always go to the primary.
	PreferSecondary bool
}

// Client is a connected handle on one database.
type Client struct {
	client   *mongo.Client
	database *mongo.Database
}

func clientOptions(opts Options) *options.ClientOptions {
	if opts.AppName == "" {
		opts.AppName = defaultAppName
	}
	if opts.MaxPoolSize == 0 {
		opts.MaxPoolSize = defaultMaxPoolSize
	}

	co := options.Client().
		ApplyURI(opts.URI).
		SetAppName(opts.AppName).
		SetMaxPoolSize(opts.MaxPoolSize).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(time.Minute).
		SetServerSelectionTimeout(5 * time.Second).
		SetRetryReads(true)

	if opts.PreferSecondary {
		co.SetReadPreference(readpref.SecondaryPreferred())
	}
	if opts.Password != "" {
		// Keep authSource and authMechanism from the URI.
		var cred options.Credential
		if co.Auth != nil {
			cred = *co.Auth
		}
		if opts.Username != "" {
			cred.Username = opts.Username
		}
		cred.Password = opts.Password
		cred.PasswordSet = true
		co.SetAuth(cred)
	}
	return co
}

// NewClient connects and pings the server before returning.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	logger.Log.Info("MongoDB connected",
		zap.String("uri", maskURI(opts.URI)),
		zap.String("database", opts.DBName),
		zap.Bool("prefer_secondary", opts.PreferSecondary),
	)

	return &Client{client: client, database: client.Database(opts.DBName)}, nil
}

// Wrap adapts an already connected database handle.
func Wrap(db *mongo.Database) *Client {
	return &Client{client: db.Client(), database: db}
}

func (c *Client) Collection(name string) *mongo.Collection {
	return c.database.Collection(name)
}

// Ping is used by the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// maskURI hides credentials embedded in a connection string.
func maskURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword("redacted", "redacted")
	}
	return u.Redacted()
}
