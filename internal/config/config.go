package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/joho/godotenv"
)

const (
	LockBackendRedis     = "redis"
	LockBackendZookeeper = "zookeeper"

	OracleModeHTTP = "http"
	OracleModeCEL  = "cel"
)

type Config struct {
	AppPort   string
	LogLevel  string
	LogPretty bool

	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBSSLMode     string
	MigrationsDir string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers           string
	KafkaClientID          string
	KafkaGroupID           string
	KafkaRetryGroupID      string
	KafkaInstanceID        string
	KafkaTopicPartitions   int
	KafkaRetryPartitions   int
	KafkaReplicationFactor int
	KafkaRetryDelay        time.Duration
	EventDrivenEnabled     bool

	Strategy       domain.Strategy
	CASMaxAttempts int
	CASBackoff     time.Duration
	RegisterTTL    time.Duration
	BudgetCacheTTL time.Duration

	LockBackend     string
	LockTTL         time.Duration
	LockWaitTimeout time.Duration
	ZKServers       []string

	CouponCacheTTL time.Duration

	RuleOracleMode    string
	RuleOracleURL     string
	RuleOracleTimeout time.Duration
	RulesFile         string
	EvalPoolSize      int

	RateRPS            float64
	RateBurst          int
	CORSAllowedOrigins []string

	OTelEnabled     bool
	OTelEndpoint    string
	OTelInsecure    bool
	OTelServiceName string
	OTelSampleRatio float64
}

// Load reads the environment, after merging an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	instanceID := os.Getenv("KAFKA_INSTANCE_ID")
	if instanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceID = "unknown"
		} else {
			instanceID = hostname
		}
	}

	strategy, err := domain.ParseStrategy(getEnv("RESERVATION_STRATEGY", string(domain.StrategyDurable)))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppPort:   getEnv("APP_PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getBool("LOG_PRETTY", false),

		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "coupondb"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "db/migrations"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		KafkaBrokers:           getEnv("KAFKA_BROKERS", "kafka:9092"),
		KafkaClientID:          getEnv("KAFKA_CLIENT_ID", "coupon-budget"),
		KafkaGroupID:           getEnv("KAFKA_GROUP_ID", "budget-consumers"),
		KafkaRetryGroupID:      getEnv("KAFKA_RETRY_GROUP_ID", "budget-retry"),
		KafkaInstanceID:        instanceID,
		KafkaTopicPartitions:   getInt("KAFKA_TOPIC_PARTITIONS", 3),
		KafkaRetryPartitions:   getInt("KAFKA_RETRY_PARTITIONS", 1),
		KafkaReplicationFactor: getInt("KAFKA_REPLICATION_FACTOR", 1),
		KafkaRetryDelay:        getDuration("KAFKA_RETRY_DELAY", 5*time.Second),
		EventDrivenEnabled:     getBool("EVENT_DRIVEN_ENABLED", true),

		Strategy:       strategy,
		CASMaxAttempts: getInt("CAS_MAX_ATTEMPTS", 3),
		CASBackoff:     getDuration("CAS_BACKOFF", 10*time.Millisecond),
		RegisterTTL:    getDuration("REGISTER_TTL", 180*time.Second),
		BudgetCacheTTL: getDuration("BUDGET_CACHE_TTL", 168*time.Hour),

		LockBackend:     strings.ToLower(getEnv("LOCK_BACKEND", LockBackendRedis)),
		LockTTL:         getDuration("LOCK_TTL", 15*time.Second),
		LockWaitTimeout: getDuration("LOCK_WAIT_TIMEOUT", 3*time.Second),
		ZKServers:       splitList(getEnv("ZK_SERVERS", "localhost:2181")),

		CouponCacheTTL: getDuration("COUPON_CACHE_TTL", 48*time.Hour),

		RuleOracleMode:    strings.ToLower(getEnv("RULE_ORACLE_MODE", OracleModeHTTP)),
		RuleOracleURL:     getEnv("RULE_ORACLE_URL", "http://rule-service:8081"),
		RuleOracleTimeout: getDuration("RULE_ORACLE_TIMEOUT", 3*time.Second),
		RulesFile:         getEnv("RULES_FILE", "configs/rules.yaml"),
		EvalPoolSize:      getInt("EVAL_POOL_SIZE", 20),

		RateRPS:            getFloat("RATE_RPS", 50),
		RateBurst:          getInt("RATE_BURST", 100),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),

		OTelEnabled:     getBool("OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTelServiceName: getEnv("OTEL_SERVICE_NAME", "coupon-budget"),
		OTelSampleRatio: getFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.LockBackend {
	case LockBackendRedis, LockBackendZookeeper:
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend)
	}
	switch c.RuleOracleMode {
	case OracleModeHTTP, OracleModeCEL:
	default:
		return fmt.Errorf("unknown RULE_ORACLE_MODE %q", c.RuleOracleMode)
	}
	if c.LockBackend == LockBackendZookeeper && len(c.ZKServers) == 0 {
		return fmt.Errorf("ZK_SERVERS is required for the zookeeper lock backend")
	}
	if c.CASMaxAttempts <= 0 {
		return fmt.Errorf("CAS_MAX_ATTEMPTS must be positive")
	}
	return nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

func (c *Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

func (c *Config) TopicPartitions() int32 {
	return int32(c.KafkaTopicPartitions)
}

func (c *Config) RetryPartitions() int32 {
	return int32(c.KafkaRetryPartitions)
}

func (c *Config) ReplicationFactor() int16 {
	return int16(c.KafkaReplicationFactor)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt falls back on unparsable or negative values.
func getInt(key string, fallback int) int {
	parsed, err := strconv.Atoi(os.Getenv(key))
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getBool(key string, fallback bool) bool {
	parsed, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(os.Getenv(key))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getFloat(key string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
