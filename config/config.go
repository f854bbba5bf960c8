package config

import (
	"log"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Values come from the environment (optionally via a .env file) with
// simple defaults suitable for local development.
type Config struct {
	JWTSecret  string // symmetric key for invite and session tokens
	ListenAddr string // address the HTTP/WebSocket server binds to
	WsURL      string // public websocket base URL, embedded in tokens
	HTTPURL    string // public HTTP base URL, used to mint track URLs
	ServerName string // human-readable server name, embedded in tokens
	ServerID   string // stable server identifier

	LogLevel      string
	LogPath       string
	LogMaxSize    int // megabytes per rotated file
	LogMaxBackups int
	LogMaxAge     int // days
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	port := getEnv("PORT", "8080")

	return &Config{
		JWTSecret:  getEnv("JWT_SECRET", "change-me"),
		ListenAddr: ":" + port,
		WsURL:      getEnv("WS_URL", "ws://localhost:"+port+"/ws"),
		HTTPURL:    getEnv("HTTP_URL", "http://localhost:"+port+"/"),
		ServerName: getEnv("SERVER_NAME", "spinfm"),
		ServerID:   getEnv("SERVER_ID", uuid.NewString()),

		LogLevel:      getEnv("LOG_LEVEL", "debug"),
		LogPath:       getEnv("LOG_PATH", ""),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 28),
	}
}
