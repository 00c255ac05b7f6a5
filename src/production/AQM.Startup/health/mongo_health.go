package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"time"

	config "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectMongo creates a MongoDB client. With verify it pings the primary before
// returning; without it the first operation finds out whether the server is there.
func ConnectMongo(cfg config.DatabaseConfig, verify bool) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.URI)
	clientOptions.SetServerSelectionTimeout(cfg.ConnectTimeout)
	clientOptions.SetConnectTimeout(cfg.ConnectTimeout)

	if cfg.CertKeyFile != "" {
		tlsCfg, err := certKeyTLSConfig(cfg.CertKeyFile)
		if err != nil {
			return nil, err
		}
		clientOptions.SetTLSConfig(tlsCfg)
		clientOptions.SetAuth(options.Credential{AuthMechanism: "MONGODB-X509"})
	}

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}

	if !verify {
		return client, nil
	}

	// Test the connection
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping MongoDB: %w", err)
	}

	return client, nil
}

// GetCollection returns the readings collection named by the configuration
func GetCollection(client *mongo.Client, cfg config.DatabaseConfig) *mongo.Collection {
	return client.Database(cfg.Database).Collection(cfg.Collection)
}

// certKeyTLSConfig loads a PEM file holding both the client certificate and its key
func certKeyTLSConfig(path string) (*tls.Config, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read MongoDB key file: %w", err)
	}
	cert, err := tls.X509KeyPair(pem, pem)
	if err != nil {
		return nil, fmt.Errorf("invalid MongoDB key file %s: %w", path, err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// Pinger is satisfied by the reading repository
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports store connectivity for the health endpoints
type HealthChecker struct {
	store  Pinger
	extras map[string]func() bool
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(store Pinger) *HealthChecker {
	return &HealthChecker{store: store, extras: make(map[string]func() bool)}
}

// AddCheck registers an extra boolean check such as MQTT connectivity
func (h *HealthChecker) AddCheck(name string, check func() bool) {
	h.extras[name] = check
}

// GetHealthStatus returns the current health status and whether everything is ok
func (h *HealthChecker) GetHealthStatus(ctx context.Context) (map[string]interface{}, bool) {
	checks := make(map[string]interface{})
	healthy := true

	if err := h.store.Ping(ctx); err != nil {
		healthy = false
		checks["mongodb"] = map[string]interface{}{"status": "error", "error": err.Error()}
	} else {
		checks["mongodb"] = map[string]interface{}{"status": "ok"}
	}

	for name, check := range h.extras {
		if check() {
			checks[name] = map[string]interface{}{"status": "ok"}
		} else {
			healthy = false
			checks[name] = map[string]interface{}{"status": "error"}
		}
	}

	status := "ok"
	if !healthy {
		status = "degraded"
	}
	return map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}, healthy
}
