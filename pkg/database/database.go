package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/BartekS5/esync/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/elastic/go-elasticsearch/v7"
	_ "github.com/microsoft/go-mssqldb"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ElasticOptions locates and authenticates one cluster.
type ElasticOptions struct {
	Address    string
	Username   string
	Password   string
	CACertFile string
}

// ElasticConfig translates cluster settings into a client config. Transport
// level retries are disabled; retry policy belongs to the caller.
func ElasticConfig(c ElasticOptions) (elasticsearch.Config, error) {
	var caCert []byte
	if c.CACertFile != "" {
		pem, err := os.ReadFile(c.CACertFile)
		if err != nil {
			return elasticsearch.Config{}, fmt.Errorf("failed to read CA certificate '%s': %w", c.CACertFile, err)
		}
		caCert = pem
	}
	return elasticsearch.Config{
		Addresses:    []string{c.Address},
		Username:     c.Username,
		Password:     c.Password,
		CACert:       caCert,
		DisableRetry: true,
		Logger:       &esLogger{},
	}, nil
}

// ConnectElastic builds a client and pings the cluster until it answers or
// the ping budget runs out.
func ConnectElastic(c ElasticOptions) (*elasticsearch.Client, error) {
	cfg, err := ElasticConfig(c)
	if err != nil {
		return nil, err
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Elasticsearch client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = backoff.Retry(func() error {
		res, err := client.Info(client.Info.WithContext(ctx))
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			// Credentials and permissions do not fix themselves.
			if res.StatusCode == 401 || res.StatusCode == 403 {
				return backoff.Permanent(fmt.Errorf("cluster refused credentials: %s", res.Status()))
			}
			return fmt.Errorf("cluster info failed: %s", res.Status())
		}
		return nil
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
	if err != nil {
		return nil, fmt.Errorf("error connecting to Elasticsearch at %s (ping failed): %w", c.Address, err)
	}

	logger.Infof("Successfully connected to Elasticsearch at %s.", c.Address)
	return client, nil
}

func ConnectSQL(connString string) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", connString)
	if err != nil {
		return nil, fmt.Errorf("error opening SQL database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to SQL database (ping failed): %w", err)
	}

	logger.Info("Successfully connected to MS SQL Server.")
	return db, nil
}

func ConnectMongo(connString string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connString))
	if err != nil {
		return nil, fmt.Errorf("error creating MongoDB client: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()

	err = client.Ping(pingCtx, readpref.Primary())
	if err != nil {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer disconnectCancel()
		_ = client.Disconnect(disconnectCtx)

		return nil, fmt.Errorf("error connecting to MongoDB (ping failed): %w", err)
	}

	logger.Info("Successfully connected to MongoDB.")
	return client, nil
}
