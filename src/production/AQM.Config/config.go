package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// SubscriberConfig holds configuration for the MQTT subscriber service
type SubscriberConfig struct {
	Server   ServerConfig
	MQTT     MQTTConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Logging  LoggingConfig
}

// DashboardConfig holds configuration for the dashboard service and the operator CLI
type DashboardConfig struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Dashboard DashboardSettings
	Logging   LoggingConfig
	CORS      CORSConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `envconfig:"PORT" default:"8501"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
}

// DatabaseConfig holds MongoDB configuration
type DatabaseConfig struct {
	URI              string        `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017"`
	Database         string        `envconfig:"MONGODB_DATABASE" default:"iot"`
	Collection       string        `envconfig:"MONGODB_COLLECTION" default:"sensor_readings"`
	CertKeyFile      string        `envconfig:"MONGODB_CERT_KEY_FILE"`
	ConnectTimeout   time.Duration `envconfig:"MONGODB_CONNECT_TIMEOUT" default:"20s"`
	OperationTimeout time.Duration `envconfig:"MONGODB_OPERATION_TIMEOUT" default:"5s"`
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerHost  string        `envconfig:"BROKER_HOST" default:"localhost"`
	BrokerPort  int           `envconfig:"BROKER_PORT" default:"1883"`
	BrokerUser  string        `envconfig:"BROKER_USER"`
	BrokerPass  string        `envconfig:"BROKER_PASS"`
	UseTLS      bool          `envconfig:"BROKER_TLS" default:"false"`
	CACertPath  string        `envconfig:"BROKER_CA_FILE"`
	Topic       string        `envconfig:"MQTT_TOPIC" default:"iot"`
	ErrorTopic  string        `envconfig:"ERROR_TOPIC"`
	ClientID    string        `envconfig:"MQTT_CLIENT_ID" default:"aqm-subscriber"`
	QoS         byte          `envconfig:"MQTT_QOS" default:"0"`
	KeepAlive   time.Duration `envconfig:"MQTT_KEEP_ALIVE" default:"60s"`
	PingTimeout time.Duration `envconfig:"MQTT_PING_TIMEOUT" default:"10s"`
}

// IngestConfig controls parsing and store-write durability in the subscriber
type IngestConfig struct {
	ParserMode    string        `envconfig:"PARSER_MODE" default:"positional"`
	RetryAttempts int           `envconfig:"STORE_RETRY_ATTEMPTS" default:"3"`
	RetryDelay    time.Duration `envconfig:"STORE_RETRY_DELAY" default:"500ms"`
	BreakerLimit  int           `envconfig:"STORE_BREAKER_FAILURES" default:"5"`
	BreakerReset  time.Duration `envconfig:"STORE_BREAKER_RESET" default:"30s"`
	SpoolPath     string        `envconfig:"SPOOL_PATH" default:"spool/readings.jsonl"`
}

// DashboardSettings holds render-pass tuning
type DashboardSettings struct {
	Timezone        string `envconfig:"DASHBOARD_TIMEZONE" default:"Local"`
	TrendLimit      int    `envconfig:"TREND_LIMIT" default:"50"`
	HistoryPageSize int    `envconfig:"HISTORY_PAGE_SIZE" default:"100"`
	Title           string `envconfig:"DASHBOARD_TITLE" default:"IoT Sensor Analysis Dashboard"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `envconfig:"LOG_LEVEL" default:"info"`
	Format       string `envconfig:"LOG_FORMAT" default:"text"` // json or text
	Output       string `envconfig:"LOG_OUTPUT" default:"stdout"` // stdout, stderr, or file path
	EnableCaller bool   `envconfig:"LOG_ENABLE_CALLER" default:"false"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	AllowedMethods   []string `envconfig:"CORS_ALLOWED_METHODS" default:"GET,OPTIONS"`
	AllowedHeaders   []string `envconfig:"CORS_ALLOWED_HEADERS" default:"Origin,Content-Type,Accept"`
	ExposedHeaders   []string `envconfig:"CORS_EXPOSED_HEADERS" default:"Content-Length,Content-Disposition,X-Request-ID"`
	AllowCredentials bool     `envconfig:"CORS_ALLOW_CREDENTIALS" default:"false"`
	MaxAge           int      `envconfig:"CORS_MAX_AGE" default:"43200"` // 12 hours
}

// LoadSubscriberConfig loads configuration for the MQTT subscriber service
func LoadSubscriberConfig() (*SubscriberConfig, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &SubscriberConfig{}
	sections := []interface{}{&cfg.Server, &cfg.MQTT, &cfg.Database, &cfg.Ingest, &cfg.Logging}
	if err := process(sections...); err != nil {
		return nil, err
	}
	// The health server has its own port variable so both services can share one .env
	cfg.Server.Port = getEnv("INGESTOR_PORT", "9003")
	cfg.Ingest.ParserMode = strings.ToLower(strings.TrimSpace(cfg.Ingest.ParserMode))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadDashboardConfig loads configuration for the dashboard service
func LoadDashboardConfig() (*DashboardConfig, error) {
	_ = godotenv.Load()

	cfg := &DashboardConfig{}
	sections := []interface{}{&cfg.Server, &cfg.Database, &cfg.Dashboard, &cfg.Logging, &cfg.CORS}
	if err := process(sections...); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func process(sections ...interface{}) error {
	for _, section := range sections {
		if err := envconfig.Process("", section); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
	}
	return nil
}

// Validate validates the subscriber configuration
func (c *SubscriberConfig) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if c.MQTT.Topic == "" {
		return fmt.Errorf("MQTT_TOPIC is required")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2")
	}
	switch c.Ingest.ParserMode {
	case "positional", "labeled":
	default:
		return fmt.Errorf("PARSER_MODE must be positional or labeled, got %q", c.Ingest.ParserMode)
	}
	if c.Ingest.RetryAttempts < 1 {
		return fmt.Errorf("STORE_RETRY_ATTEMPTS must be at least 1")
	}
	return nil
}

// Validate validates the dashboard configuration
func (c *DashboardConfig) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if _, err := c.Dashboard.Location(); err != nil {
		return fmt.Errorf("invalid DASHBOARD_TIMEZONE: %w", err)
	}
	if c.Dashboard.TrendLimit < 1 {
		return fmt.Errorf("TREND_LIMIT must be positive")
	}
	if c.Dashboard.HistoryPageSize < 1 {
		return fmt.Errorf("HISTORY_PAGE_SIZE must be positive")
	}
	return nil
}

// Validate validates the database section
func (d DatabaseConfig) Validate() error {
	if d.URI == "" {
		return fmt.Errorf("MONGODB_URI is required")
	}
	if d.Database == "" || d.Collection == "" {
		return fmt.Errorf("MONGODB_DATABASE and MONGODB_COLLECTION are required")
	}
	return nil
}

// Location resolves the display timezone
func (d DashboardSettings) Location() (*time.Location, error) {
	if d.Timezone == "" || d.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(d.Timezone)
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (m MQTTConfig) GetMQTTBrokerURL() string {
	scheme := "tcp"
	if m.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.BrokerHost, m.BrokerPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
