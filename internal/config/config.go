package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeLocal    Mode = "local"
	ModeFirebase Mode = "firebase"
)

const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

type Config struct {
	Mode Mode

	StorageBackend string // "memory", "sqlite" or "firestore"
	SQLitePath     string

	GCPProjectID   string
	FirebaseAPIKey string
	IdentityURL    string // Identity Toolkit base URL, overridable for the auth emulator

	HistoryLimit     int
	NotifyPermission bool // what the device answers when asked for notification permission
	LogLevel         string
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Load reads a .env file when present, then the environment, and validates the result.
func Load() (*Config, error) {
	// a missing .env is fine, the process environment is used as is
	_ = godotenv.Load()

	modeStr := getEnv("POCKETPAL_MODE", "local")
	var mode Mode
	switch modeStr {
	case "firebase":
		mode = ModeFirebase
	default:
		mode = ModeLocal
	}

	defaultBackend := BackendMemory
	if mode == ModeFirebase {
		defaultBackend = BackendFirestore
	}

	cfg := &Config{
		Mode: mode,

		StorageBackend: getEnv("POCKETPAL_STORAGE_BACKEND", defaultBackend),
		SQLitePath:     getEnv("POCKETPAL_SQLITE_PATH", "pocketpal.db"),

		GCPProjectID:   getEnv("POCKETPAL_GCP_PROJECT", ""),
		FirebaseAPIKey: getEnv("POCKETPAL_FIREBASE_API_KEY", ""),
		IdentityURL:    getEnv("POCKETPAL_IDENTITY_URL", "https://identitytoolkit.googleapis.com/v1"),

		HistoryLimit:     getIntEnv("POCKETPAL_HISTORY_LIMIT", 20),
		NotifyPermission: getBoolEnv("POCKETPAL_NOTIFY_PERMISSION", true),
		LogLevel:         getEnv("POCKETPAL_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return errors.New("POCKETPAL_SQLITE_PATH is required for the sqlite storage backend")
		}
	case BackendFirestore:
		if c.GCPProjectID == "" {
			return errors.New("POCKETPAL_GCP_PROJECT is required for the firestore storage backend")
		}
	default:
		return fmt.Errorf("unknown POCKETPAL_STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.Mode == ModeFirebase && c.FirebaseAPIKey == "" {
		return errors.New("POCKETPAL_FIREBASE_API_KEY must be set in firebase mode")
	}
	if c.HistoryLimit <= 0 {
		return errors.New("POCKETPAL_HISTORY_LIMIT must be positive")
	}
	return nil
}
