/*
Package config loads runtime configuration from the environment.

PURPOSE:
  Single place that reads environment variables (optionally seeded from
  a .env file via godotenv) and hands a typed Config to main. Domain
  packages never read the environment directly.

VARIABLES:
  PORT                  HTTP listen port             (default 8080)
  DB_PATH               SQLite database path         (default ./koinox.db)
  LOG_LEVEL             debug|info|warn|error        (default info)
  CARRY_FORWARD_POLICY  clamp_zero|propagate_credit  (default clamp_zero)
  BALANCE_CACHE_TTL     Go duration for the apartment
                        balance read-cache           (default 5m)
*/
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/oikos/expense-engine/building"
)

type Config struct {
	Port               int
	DBPath             string
	LogLevel           string
	CarryForwardPolicy building.CarryForwardPolicy
	BalanceCacheTTL    time.Duration
}

// Load reads configuration from .env (if present) and the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment variables")
	}

	return Config{
		Port:               getEnvAsInt("PORT", 8080),
		DBPath:             getEnv("DB_PATH", "./koinox.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CarryForwardPolicy: carryPolicy(getEnv("CARRY_FORWARD_POLICY", "clamp_zero")),
		BalanceCacheTTL:    getEnvAsDuration("BALANCE_CACHE_TTL", 5*time.Minute),
	}
}

func carryPolicy(s string) building.CarryForwardPolicy {
	switch s {
	case "propagate_credit":
		return building.PropagateCredit
	case "clamp_zero":
		return building.ClampZero
	default:
		log.Printf("invalid CARRY_FORWARD_POLICY %q, using clamp_zero", s)
		return building.ClampZero
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("invalid integer for %s (%q), using default %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("invalid duration for %s (%q), using default %s", key, valueStr, fallback)
	return fallback
}
