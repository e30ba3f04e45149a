package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port      string
	Env       string
	ClientURL string

	PayOSClientID    string
	PayOSAPIKey      string
	PayOSChecksumKey string
	PayOSBaseURL     string

	MongoURI string
	MongoDB  string

	RedisURL string
	CartTTL  time.Duration

	KafkaBrokers       string
	PaymentEventsTopic string
}

func Load() Config {
	return Config{
		Port:      getEnv("PORT", "8080"),
		Env:       getEnv("ENV", "development"),
		ClientURL: getEnv("CLIENT_URL", "http://localhost:3000"),

		PayOSClientID:    getEnv("PAYOS_CLIENT_ID", ""),
		PayOSAPIKey:      getEnv("PAYOS_API_KEY", ""),
		PayOSChecksumKey: getEnv("PAYOS_CHECKSUM_KEY", ""),
		PayOSBaseURL:     getEnv("PAYOS_BASE_URL", ""),

		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:  getEnv("MONGO_DB", "storefront"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),
		CartTTL:  time.Hour * time.Duration(getEnvInt("CART_TTL_HOURS", 24*7)),

		KafkaBrokers:       getEnv("KAFKA_BROKERS", "localhost:9092"),
		PaymentEventsTopic: getEnv("PAYMENT_EVENTS_TOPIC", "payment.events"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}
