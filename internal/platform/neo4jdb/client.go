// Package neo4jdb owns the driver handle for the graph projection. It only
// dials and verifies the connection; all Cypher lives in internal/graph.
package neo4jdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/knograph/knograph-backend/internal/platform/envutil"
	"github.com/knograph/knograph-backend/internal/platform/logger"
)

// Client wraps one shared driver. Database may be empty, in which case the
// server's default database is used.
type Client struct {
	Driver   neo4j.DriverWithContext
	Database string
	log      *logger.Logger
}

// NewFromEnv dials the instance named by NEO4J_URI and fails fast when it is
// unreachable. An unset NEO4J_URI returns (nil, nil): the caller decides
// whether running without the projection is acceptable.
func NewFromEnv(log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("neo4jdb: logger required")
	}

	uri := strings.TrimSpace(envutil.GetEnv("NEO4J_URI", "", log))
	if uri == "" {
		return nil, nil
	}

	user := envutil.GetEnv("NEO4J_USER", "neo4j", log)
	password := envutil.GetEnv("NEO4J_PASSWORD", "", log)
	database := envutil.GetEnv("NEO4J_DATABASE", "", log)
	timeout := time.Duration(envutil.GetEnvAsInt("NEO4J_TIMEOUT_SECONDS", 10, log)) * time.Second
	maxPool := envutil.GetEnvAsInt("NEO4J_MAX_POOL_SIZE", 50, log)

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""), func(cfg *neo4j.Config) {
		cfg.MaxConnectionPoolSize = maxPool
		cfg.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4jdb: init driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4jdb: verify connectivity: %w", err)
	}
	log.Info("Connected to Neo4j", "database", database)

	return &Client{
		Driver:   driver,
		Database: database,
		log:      log.With("client", "Neo4jDB"),
	}, nil
}

// Close is nil-safe so shutdown paths can defer it unconditionally.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := c.Driver.Close(ctx)
	c.Driver = nil
	return err
}
