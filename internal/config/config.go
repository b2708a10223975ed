package config

import (
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	MinIO     MinIOConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type MongoConfig struct {
	URI    string
	DBName string
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

type JWTConfig struct {
	Secret         string
	ExpirationTime time.Duration
}

// WebSocketConfig carries the delivery-layer timings. The defaults match
// the client contract: one push retry after RetryDelay, presence flips to
// offline only after OfflineGrace without a reconnect.
type WebSocketConfig struct {
	HeartbeatInterval   time.Duration
	InactivityThreshold time.Duration
	RetryDelay          time.Duration
	OfflineGrace        time.Duration
}

var (
	configInstance *Config
	once           sync.Once
)

func LoadConfig() (*Config, error) {
	once.Do(func() {
		viper.SetDefault("DOLPHDIVE_HOST", "")
		viper.SetDefault("DOLPHDIVE_PORT", "8080")
		viper.SetDefault("DOLPHDIVE_READ_TIMEOUT", 30*time.Second)
		viper.SetDefault("DOLPHDIVE_WRITE_TIMEOUT", 30*time.Second)
		viper.SetDefault("DOLPHDIVE_IDLE_TIMEOUT", 60*time.Second)
		viper.SetDefault("DOLPHDIVE_JWT_SECRET", "secret")
		viper.SetDefault("DOLPHDIVE_JWT_EXPIRE", "168h")
		viper.SetDefault("DOLPHDIVE_HEARTBEAT_INTERVAL", 30*time.Second)
		viper.SetDefault("DOLPHDIVE_INACTIVITY_THRESHOLD", 120*time.Second)
		viper.SetDefault("DOLPHDIVE_RETRY_DELAY", 5*time.Second)
		viper.SetDefault("DOLPHDIVE_OFFLINE_GRACE", 5*time.Second)
		viper.SetDefault("POSTGRES_HOST", "localhost")
		viper.SetDefault("POSTGRES_PORT", "5432")
		viper.SetDefault("POSTGRES_USER", "postgres")
		viper.SetDefault("POSTGRES_PASSWORD", "password")
		viper.SetDefault("POSTGRES_DB", "dolphdive")
		viper.SetDefault("POSTGRES_SSLMODE", "disable")
		viper.SetDefault("MONGO_URI", "mongodb://localhost:27017")
		viper.SetDefault("MONGO_DB", "dolphdive")
		viper.SetDefault("REDIS_ADDR", "localhost:6379")
		viper.SetDefault("REDIS_PASSWORD", "")
		viper.SetDefault("REDIS_DB", 0)
		viper.SetDefault("REDIS_MAX_RETRIES", 3)
		viper.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
		viper.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
		viper.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)
		viper.SetDefault("REDIS_POOL_SIZE", 100)
		viper.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
		viper.SetDefault("KAFKA_BROKERS", []string{"localhost:9092"})
		viper.SetDefault("KAFKA_TOPIC", "dolphdive.message-events")
		viper.SetDefault("MINIO_ENDPOINT", "localhost:9000")
		viper.SetDefault("MINIO_ACCESS_KEY", "minioadmin")
		viper.SetDefault("MINIO_SECRET_KEY", "minioadmin")
		viper.SetDefault("MINIO_BUCKET", "dolphdive-attachments")
		viper.AutomaticEnv()

		configInstance = &Config{
			Server: ServerConfig{
				Host:         viper.GetString("DOLPHDIVE_HOST"),
				Port:         viper.GetString("DOLPHDIVE_PORT"),
				ReadTimeout:  viper.GetDuration("DOLPHDIVE_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("DOLPHDIVE_WRITE_TIMEOUT"),
				IdleTimeout:  viper.GetDuration("DOLPHDIVE_IDLE_TIMEOUT"),
			},
			Database: DatabaseConfig{
				Host:     viper.GetString("POSTGRES_HOST"),
				Port:     viper.GetString("POSTGRES_PORT"),
				User:     viper.GetString("POSTGRES_USER"),
				Password: viper.GetString("POSTGRES_PASSWORD"),
				DBName:   viper.GetString("POSTGRES_DB"),
				SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
			},
			Mongo: MongoConfig{
				URI:    viper.GetString("MONGO_URI"),
				DBName: viper.GetString("MONGO_DB"),
			},
			Redis: RedisConfig{
				Addr:         viper.GetString("REDIS_ADDR"),
				Password:     viper.GetString("REDIS_PASSWORD"),
				DB:           viper.GetInt("REDIS_DB"),
				MaxRetries:   viper.GetInt("REDIS_MAX_RETRIES"),
				DialTimeout:  viper.GetDuration("REDIS_DIAL_TIMEOUT"),
				ReadTimeout:  viper.GetDuration("REDIS_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("REDIS_WRITE_TIMEOUT"),
				PoolSize:     viper.GetInt("REDIS_POOL_SIZE"),
				MinIdleConns: viper.GetInt("REDIS_MIN_IDLE_CONNS"),
			},
			Kafka: KafkaConfig{
				Brokers: viper.GetStringSlice("KAFKA_BROKERS"),
				Topic:   viper.GetString("KAFKA_TOPIC"),
			},
			MinIO: MinIOConfig{
				Endpoint:  viper.GetString("MINIO_ENDPOINT"),
				AccessKey: viper.GetString("MINIO_ACCESS_KEY"),
				SecretKey: viper.GetString("MINIO_SECRET_KEY"),
				Bucket:    viper.GetString("MINIO_BUCKET"),
			},
			JWT: JWTConfig{
				Secret:         viper.GetString("DOLPHDIVE_JWT_SECRET"),
				ExpirationTime: viper.GetDuration("DOLPHDIVE_JWT_EXPIRE"),
			},
			WebSocket: WebSocketConfig{
				HeartbeatInterval:   viper.GetDuration("DOLPHDIVE_HEARTBEAT_INTERVAL"),
				InactivityThreshold: viper.GetDuration("DOLPHDIVE_INACTIVITY_THRESHOLD"),
				RetryDelay:          viper.GetDuration("DOLPHDIVE_RETRY_DELAY"),
				OfflineGrace:        viper.GetDuration("DOLPHDIVE_OFFLINE_GRACE"),
			},
		}
	})

	return configInstance, nil
}
