package config

import (
	"strings"
)

// envPrefix namespaces variables that map straight onto config paths:
// VIDEOHUB_OUTBOX__BATCH_SIZE -> outbox.batch_size.
const envPrefix = "VIDEOHUB_"

// legacyEnv keeps the variable names of earlier deployments working.
var legacyEnv = map[string]string{
	"DATABASE_HOST":      "database.host",
	"DATABASE_PORT":      "database.port",
	"DATABASE_USER":      "database.user",
	"DATABASE_PASS":      "database.pass",
	"DATABASE_NAME":      "database.name",
	"CACHE_HOST":         "redis.host",
	"CACHE_PORT":         "redis.port",
	"CACHE_PASS":         "redis.pass",
	"CACHE_DB":           "redis.db",
	"SERVER_ADDRESS":     "http.address",
	"CONTEXT_TIMEOUT":    "http.request_timeout",
	"NATS_URL":           "broker.url",
	"BROKER_DRIVER":      "broker.driver",
	"LOG_LEVEL":          "logging.level",
	"LOG_FORMAT":         "logging.format",
	"TRANSCODER_URL":     "transcoder.url",
	"BLOOM_BACKEND":      "membership.backend",
	"RECONCILE_INTERVAL": "jobs.reconcile_interval",
}

// legacySeconds lists legacy variables that carry bare seconds.
var legacySeconds = map[string]bool{
	"CONTEXT_TIMEOUT": true,
}

func envTransform(key, value string) (string, any) {
	if path, ok := legacyEnv[key]; ok {
		if legacySeconds[key] && isDigits(value) {
			value += "s"
		}
		return path, value
	}
	if !strings.HasPrefix(key, envPrefix) {
		return "", nil
	}
	path := strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.ReplaceAll(path, "__", "."), value
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
