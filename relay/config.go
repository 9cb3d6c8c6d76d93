package relay

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the relay server settings.
type Config struct {
	// Addr is the listen address, for example ":8090".
	Addr string

	// AllowedOrigins lists origins allowed to connect. "*" allows all.
	AllowedOrigins []string

	// LogLevel is a logrus level name.
	LogLevel string
}

// LoadConfig reads configuration from the environment, loading a .env file
// first when one exists.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		Addr:           getEnv("CALLRELAY_ADDR", ":8090"),
		AllowedOrigins: splitOrigins(getEnv("CALLRELAY_ALLOWED_ORIGINS", "*")),
		LogLevel:       getEnv("CALLRELAY_LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitOrigins(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
