package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverLevelDB  = "leveldb"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Store    StoreConfig
	Auth     AuthConfig
	Ledger   LedgerConfig
	Log      LogConfig
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Port int
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	DBName     string
	SSLMode    string
	TestDBName string // Separate database for testing
}

// StoreConfig selects the keyed store backend
type StoreConfig struct {
	Driver      string // "postgres" or "leveldb"
	LevelDBPath string
}

// AuthConfig holds the authentication configuration
type AuthConfig struct {
	JWTSecret      string
	TokenTTL       time.Duration
	PasswordScheme string // "sha256" or "bcrypt"
}

// LedgerConfig tunes the ledger engine
type LedgerConfig struct {
	AppendRetries int
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode,
	)
}

// LoadConfig loads the configuration from environment variables. A .env
// file in the working directory, if present, is loaded first and never
// overrides variables already set.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnvAsInt("DB_PORT", 5432),
			Username:   getEnv("DB_USERNAME", "postgres"),
			Password:   getEnv("DB_PASSWORD", "password"),
			DBName:     getEnv("DB_NAME", "medchain"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			TestDBName: getEnv("TEST_DB_NAME", "medchain_test"),
		},
		Store: StoreConfig{
			Driver:      getEnv("STORE_DRIVER", DriverLevelDB),
			LevelDBPath: getEnv("LEVELDB_PATH", "data/medchain"),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", "your-secret-key-here"),
			TokenTTL:       getEnvAsDuration("TOKEN_TTL", 24*time.Hour),
			PasswordScheme: getEnv("PASSWORD_SCHEME", "sha256"),
		},
		Ledger: LedgerConfig{
			AppendRetries: getEnvAsInt("LEDGER_APPEND_RETRIES", 3),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
