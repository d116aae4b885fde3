package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr             string
	DatabaseURL      string
	JWTSecret        string
	EncryptionSecret string // мастер-ключ для шифрования биржевых ключей
	MetricsUser      string
	MetricsPassword  string
}

func Load() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: .env file not found")
	}

	cfg := &Config{
		Addr:             getEnv("ADDR", ":8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		EncryptionSecret: os.Getenv("ENCRYPTION_SECRET"),
		MetricsUser:      getEnv("METRICS_USER", "metrics"),
		MetricsPassword:  os.Getenv("METRICS_PASSWORD"),
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
