package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"access-verifier/internal/util"
)

// UnknownRFIDPolicy decides what happens when a scanned tag resolves to
// no employee: deny outright or queue for human review.
type UnknownRFIDPolicy string

const (
	UnknownRFIDDeny   UnknownRFIDPolicy = "deny"
	UnknownRFIDReview UnknownRFIDPolicy = "review"
)

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	CertFile     string
	KeyFile      string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers           []string
	EvidenceTopic     string
	EmergencyTopic    string
	UnlockTopic       string
	NotificationTopic string
	ConsumerGroup     string
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type ElasticsearchConfig struct {
	URL            string
	Username       string
	Password       string
	EmbeddingIndex string
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type FaceServiceConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// VerificationConfig carries the decision policy knobs.
type VerificationConfig struct {
	SimilarityThreshold float64
	EmbeddingDim        int
	SessionTimeout      time.Duration
	TickInterval        time.Duration
	CandidateLimit      int
	UnknownRFID         UnknownRFIDPolicy
	EmergencyHold       time.Duration
}

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	S3            S3Config
	FaceService   FaceServiceConfig
	Verification  VerificationConfig
}

// LoadConfig reads configuration from the environment, optionally seeded
// from a .env file in the working directory.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: util.GetEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         util.GetEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  util.GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: util.GetEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  util.GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    util.GetEnvBool("SERVER_ENABLE_TLS", false),
			CertFile:     util.GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:      util.GetEnv("SERVER_KEY_FILE", ""),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      util.GetEnv("REDIS_URL", "redis://localhost:6379"),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			PoolSize: util.GetEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    util.GetEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: util.GetEnv("SCYLLA_KEYSPACE", "access_control"),
			Username: util.GetEnv("SCYLLA_USERNAME", ""),
			Password: util.GetEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:           util.GetEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			EvidenceTopic:     util.GetEnv("KAFKA_EVIDENCE_TOPIC", "access.evidence"),
			EmergencyTopic:    util.GetEnv("KAFKA_EMERGENCY_TOPIC", "access.emergency"),
			UnlockTopic:       util.GetEnv("KAFKA_UNLOCK_TOPIC", "access.unlock"),
			NotificationTopic: util.GetEnv("KAFKA_NOTIFICATION_TOPIC", "access.notifications"),
			ConsumerGroup:     util.GetEnv("KAFKA_CONSUMER_GROUP", "access-verifier"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      util.GetEnv("CLICKHOUSE_URL", "http://localhost:8123"),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "access_audit"),
			Username: util.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:            util.GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:       util.GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password:       util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
			EmbeddingIndex: util.GetEnv("ELASTICSEARCH_EMBEDDING_INDEX", "employee-embeddings"),
		},
		S3: S3Config{
			Bucket:    util.GetEnv("S3_BUCKET", "verification-images"),
			Region:    util.GetEnv("S3_REGION", "us-east-1"),
			Endpoint:  util.GetEnv("S3_ENDPOINT", ""),
			AccessKey: util.GetEnv("S3_ACCESS_KEY", ""),
			SecretKey: util.GetEnv("S3_SECRET_KEY", ""),
		},
		FaceService: FaceServiceConfig{
			URL:        util.GetEnv("FACE_SERVICE_URL", "http://localhost:5001"),
			Timeout:    util.GetEnvDuration("FACE_SERVICE_TIMEOUT", 10*time.Second),
			MaxRetries: util.GetEnvInt("FACE_SERVICE_MAX_RETRIES", 3),
			Backoff:    util.GetEnvDuration("FACE_SERVICE_BACKOFF", 500*time.Millisecond),
		},
		Verification: VerificationConfig{
			SimilarityThreshold: util.GetEnvFloat("VERIFICATION_SIMILARITY_THRESHOLD", 0.85),
			EmbeddingDim:        util.GetEnvInt("VERIFICATION_EMBEDDING_DIM", 128),
			SessionTimeout:      util.GetEnvDuration("VERIFICATION_SESSION_TIMEOUT", 20*time.Second),
			TickInterval:        util.GetEnvDuration("VERIFICATION_TICK_INTERVAL", 1*time.Second),
			CandidateLimit:      util.GetEnvInt("VERIFICATION_CANDIDATE_LIMIT", 3),
			UnknownRFID:         parseUnknownRFIDPolicy(util.GetEnv("VERIFICATION_UNKNOWN_RFID_POLICY", "review")),
			EmergencyHold:       util.GetEnvDuration("VERIFICATION_EMERGENCY_HOLD", 15*time.Second),
		},
	}

	return cfg
}

func parseUnknownRFIDPolicy(raw string) UnknownRFIDPolicy {
	switch raw {
	case string(UnknownRFIDDeny):
		return UnknownRFIDDeny
	default:
		return UnknownRFIDReview
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
