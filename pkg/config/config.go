package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the bot engine.
type Config struct {
	Port string

	// Database
	DBPath string

	// Bot engine
	CycleInterval  time.Duration
	InitialBalance float64
	PaperDefault   bool

	// Automation
	AutomationPoll  time.Duration
	AutomationRules string // optional YAML rule file loaded at startup

	// MT5 bridge
	MT5BridgeURL string

	// Auth
	JWTSecret string

	Version string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/botcore.db")
	}

	return &Config{
		Port:            getEnv("PORT", "8080"),
		DBPath:          dbPath,
		CycleInterval:   time.Duration(getEnvInt("CYCLE_INTERVAL_SECONDS", 10)) * time.Second,
		InitialBalance:  getEnvFloat("INITIAL_BALANCE", 10000.0),
		PaperDefault:    getEnv("PAPER_DEFAULT", "true") == "true",
		AutomationPoll:  time.Duration(getEnvInt("AUTOMATION_POLL_SECONDS", 10)) * time.Second,
		AutomationRules: getEnv("AUTOMATION_RULES", ""),
		MT5BridgeURL:    getEnv("MT5_BRIDGE_URL", "http://localhost:5001"),
		JWTSecret:       getEnv("JWT_SECRET", "dev-secret"),
		Version:         getEnv("VERSION", "dev"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
