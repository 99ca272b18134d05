package config

import (
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"
)

// LoadEnv loads variables from a .env file if present.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Infof("no .env file found: %v", err)
	}
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// GetIntEnv returns an int environment variable or a default value.
func GetIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetDurationEnv parses a time.Duration ("30s", "5m") or returns defaultVal.
func GetDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		log.Warnf("invalid duration for %s=%q, using %s", key, val, defaultVal)
	}
	return defaultVal
}

// GetBoolEnv parses a boolean environment variable or returns defaultVal.
func GetBoolEnv(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// IsProduction checks if the app runs in production mode.
func IsProduction() bool {
	return GetEnv("ENV", "development") == "production"
}

// OCSConfig locates the charging system endpoint.
type OCSConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// SweeperConfig drives the recovery sweeper cadence.
type SweeperConfig struct {
	Enabled     bool
	Interval    time.Duration
	GracePeriod time.Duration
	Timeout     time.Duration
	BatchSize   int
}

// LoadOCS reads the OCS_* variables.
func LoadOCS() OCSConfig {
	return OCSConfig{
		BaseURL:  GetEnv("OCS_BASE_URL", "http://localhost:9090/ocs"),
		Username: GetEnv("OCS_USERNAME", ""),
		Password: GetEnv("OCS_PASSWORD", ""),
		Timeout:  GetDurationEnv("OCS_TIMEOUT", 10*time.Second),
	}
}

// LoadSweeper reads the SWEEP_* variables.
func LoadSweeper() SweeperConfig {
	return SweeperConfig{
		Enabled:     GetBoolEnv("SWEEP_ENABLED", true),
		Interval:    GetDurationEnv("SWEEP_INTERVAL", time.Minute),
		GracePeriod: GetDurationEnv("SWEEP_GRACE_PERIOD", 2*time.Minute),
		Timeout:     GetDurationEnv("SWEEP_TIMEOUT", 45*time.Second),
		BatchSize:   GetIntEnv("SWEEP_BATCH_SIZE", 50),
	}
}
