package config

import (
	"os"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BUNDLE_FETCH_"

// ApplyEnv overrides settings from BUNDLE_FETCH_* environment variables,
// named after the upper-cased setting keys (BUNDLE_FETCH_URL_PREFIX,
// BUNDLE_FETCH_MAX_PARALLEL_REQUESTS, ...). Values that do not parse are
// ignored. BUNDLE_FETCH_EXPECTED_FAILURE_CODES is a comma-separated list.
func (s *Settings) ApplyEnv() {
	s.MaxParallelRequests = parseIntEnv("MAX_PARALLEL_REQUESTS", s.MaxParallelRequests)
	s.RetryCooldownSeconds = parseFloatEnv("RETRY_COOLDOWN_SECONDS", s.RetryCooldownSeconds)
	s.MaxAttempts = parseIntEnv("MAX_ATTEMPTS", s.MaxAttempts)
	s.ExpectedFailureCodes = parseIntListEnv("EXPECTED_FAILURE_CODES", s.ExpectedFailureCodes)
	s.TickIntervalMs = parseIntEnv("TICK_INTERVAL_MS", s.TickIntervalMs)

	s.URLPrefix = getEnv("URL_PREFIX", s.URLPrefix)
	s.AppendPlatformSegment = parseBoolEnv("APPEND_PLATFORM_SEGMENT", s.AppendPlatformSegment)
	s.Platform = getEnv("PLATFORM", s.Platform)
	s.ManifestName = getEnv("MANIFEST_NAME", s.ManifestName)

	s.RequestTimeoutSeconds = parseFloatEnv("REQUEST_TIMEOUT_SECONDS", s.RequestTimeoutSeconds)
	s.UserAgent = getEnv("USER_AGENT", s.UserAgent)

	s.CachePath = getEnv("CACHE_PATH", s.CachePath)
	s.OutputPath = getEnv("OUTPUT_PATH", s.OutputPath)
	s.FileNameFormat = getEnv("FILE_NAME_FORMAT", s.FileNameFormat)
	s.ListenAddr = getEnv("LISTEN_ADDR", s.ListenAddr)

	s.LogLevel = getEnv("LOG_LEVEL", s.LogLevel)
	s.LogFile = getEnv("LOG_FILE", s.LogFile)
	s.LogMaxSizeMB = parseIntEnv("LOG_MAX_SIZE_MB", s.LogMaxSizeMB)
	s.LogMaxBackups = parseIntEnv("LOG_MAX_BACKUPS", s.LogMaxBackups)
	s.LogMaxAgeDays = parseIntEnv("LOG_MAX_AGE_DAYS", s.LogMaxAgeDays)
	s.LogCompress = parseBoolEnv("LOG_COMPRESS", s.LogCompress)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseIntListEnv(key string, defaultValue []int) []int {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return defaultValue
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, n)
	}
	return out
}
