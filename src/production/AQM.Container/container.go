package container

import (
	"context"
	"fmt"
	"sync"

	config "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Config"
	logger "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Logger"
	implementation "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Repository/Implementation"
	"gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Startup/health"
	"go.mongodb.org/mongo-driver/mongo"
)

// Container owns the process-wide MongoDB client and its cleanup
type Container struct {
	dbConfig config.DatabaseConfig
	logger   *logger.Logger
	// verifyStore makes the first connect fail when the server is unreachable
	verifyStore bool

	client      *mongo.Client
	readingRepo *implementation.MongoReadingRepository

	mu           sync.Mutex
	cleanupFuncs []func() error
}

// SubscriberContainer manages dependencies for the MQTT subscriber service
type SubscriberContainer struct {
	*Container
	config *config.SubscriberConfig
}

// DashboardContainer manages dependencies for the dashboard service and the CLI
type DashboardContainer struct {
	*Container
	config *config.DashboardConfig
}

// NewSubscriberContainer loads subscriber configuration and initializes logging
func NewSubscriberContainer() (*SubscriberContainer, error) {
	cfg, err := config.LoadSubscriberConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriber configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging).WithService("aqm-subscriber")
	ctr := newContainer(cfg.Database, log)
	ctr.verifyStore = true
	return &SubscriberContainer{
		Container: ctr,
		config:    cfg,
	}, nil
}

// NewDashboardContainer loads dashboard configuration and initializes logging.
// Overrides run after loading and before the logger is built.
// The store is not pinged on connect; each render pass reports its own status.
func NewDashboardContainer(service string, overrides ...func(*config.DashboardConfig)) (*DashboardContainer, error) {
	cfg, err := config.LoadDashboardConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load dashboard configuration: %w", err)
	}
	for _, override := range overrides {
		override(cfg)
	}

	log := logger.NewLogger(&cfg.Logging).WithService(service)
	return &DashboardContainer{
		Container: newContainer(cfg.Database, log),
		config:    cfg,
	}, nil
}

func newContainer(dbConfig config.DatabaseConfig, log *logger.Logger) *Container {
	return &Container{
		dbConfig: dbConfig,
		logger:   log,
	}
}

// GetConfig returns the subscriber configuration
func (c *SubscriberContainer) GetConfig() *config.SubscriberConfig {
	return c.config
}

// GetConfig returns the dashboard configuration
func (c *DashboardContainer) GetConfig() *config.DashboardConfig {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

func (c *Container) databaseLocked() (*mongo.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	client, err := health.ConnectMongo(c.dbConfig, c.verifyStore)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c.client = client
	c.cleanupFuncs = append(c.cleanupFuncs, func() error {
		return client.Disconnect(context.Background())
	})
	c.logger.Logger.Info().Str("database", c.dbConfig.Database).Str("collection", c.dbConfig.Collection).Msg("Connected to MongoDB")
	return client, nil
}

// GetReadingRepository returns the reading repository, creating indexes on first use
func (c *Container) GetReadingRepository(ctx context.Context) (*implementation.MongoReadingRepository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readingRepo != nil {
		return c.readingRepo, nil
	}

	client, err := c.databaseLocked()
	if err != nil {
		return nil, err
	}

	repo := implementation.NewMongoReadingRepository(health.GetCollection(client, c.dbConfig), c.dbConfig.OperationTimeout)
	if err := repo.EnsureIndexes(ctx); err != nil {
		// Reads still work without the index, only slower
		c.logger.ErrorWithError(err, "Failed to ensure reading indexes")
	}
	c.readingRepo = repo
	return repo, nil
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown runs cleanup functions in reverse registration order
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	var firstErr error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	c.logger.Debug("Container shutdown complete")
	return firstErr
}
