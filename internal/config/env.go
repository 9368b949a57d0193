package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Env struct {
	AppAddr           string
	GinMode           string
	DBDSN             string
	Store             string
	JWTSecret         string
	JWTExpiryHours    int
	LogLevel          string
	CORSAllowOrigins  []string
	SeedAdminEmail    string
	SeedAdminPassword string
}

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

// LoadEnv reads an optional .env file and then the process environment.
func LoadEnv() Env {
	_ = godotenv.Load()

	store := strings.ToLower(getEnv("STORE", StoreMySQL))
	if store != StoreMemory {
		store = StoreMySQL
	}

	return Env{
		AppAddr:           getEnv("APP_ADDR", ":8080"),
		GinMode:           getEnv("GIN_MODE", ""),
		DBDSN:             getEnv("DB_DSN", "root:@tcp(127.0.0.1:3306)/shuttle?parseTime=true&loc=UTC&charset=utf8mb4&timeout=5s&readTimeout=30s&writeTimeout=30s"),
		Store:             store,
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTExpiryHours:    getEnvInt("JWT_EXPIRY_HOURS", 24),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		CORSAllowOrigins:  splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		SeedAdminEmail:    getEnv("SEED_ADMIN_EMAIL", ""),
		SeedAdminPassword: getEnv("SEED_ADMIN_PASSWORD", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
