package config

import (
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"tendril-api"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"tendril"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`

	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic for connector lifecycle events
	KafkaConnectorEventsTopic string `env:"KAFKA_CONNECTOR_EVENTS_TOPIC" env-default:"connector-events"`

	// Content Store base URL
	ContentStoreURL string `env:"CONTENT_STORE_URL" env-default:"http://localhost:8080"`
	// Content Store API key
	ContentStoreAPIKey string `env:"CONTENT_STORE_API_KEY" env-default:""`
	// Content Store request timeout
	ContentStoreTimeout time.Duration `env:"CONTENT_STORE_TIMEOUT" env-default:"30s"`

	// Connection service base URL (resolves connection IDs to credentials)
	ConnectionsURL string `env:"CONNECTIONS_URL" env-default:"http://localhost:8081"`
	// Connection service API key
	ConnectionsAPIKey string `env:"CONNECTIONS_API_KEY" env-default:""`
	// Connection service request timeout
	ConnectionsTimeout time.Duration `env:"CONNECTIONS_TIMEOUT" env-default:"10s"`

	// Zendesk API request timeout
	ZendeskTimeout time.Duration `env:"ZENDESK_TIMEOUT" env-default:"30s"`

	// Workflow command stream name
	WorkflowCommandStream string `env:"WORKFLOW_COMMAND_STREAM" env-default:"tendril:workflow:commands"`
	// Workflow consumer group name
	WorkflowConsumerGroup string `env:"WORKFLOW_CONSUMER_GROUP" env-default:"tendril-workers"`
	// Workflow consumer name (defaults to hostname if empty)
	WorkflowConsumerName string `env:"WORKFLOW_CONSUMER_NAME" env-default:""`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads the environment into a Config. A local .env file is applied
// first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
