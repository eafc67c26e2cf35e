package config

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/handiism/bundle-fetcher/internal/bundle"
	"github.com/handiism/bundle-fetcher/internal/cache"
	"github.com/handiism/bundle-fetcher/internal/download"
	"github.com/handiism/bundle-fetcher/internal/http"
	"github.com/handiism/bundle-fetcher/internal/logger"
	"github.com/handiism/bundle-fetcher/internal/model"
)

// ErrInvalid is wrapped by every error Validate returns.
var ErrInvalid = errors.New("config: invalid settings")

// Settings holds all configuration options.
type Settings struct {
	// Scheduler settings
	MaxParallelRequests  int     `json:"max_parallel_requests" yaml:"max_parallel_requests"`
	RetryCooldownSeconds float64 `json:"retry_cooldown_seconds" yaml:"retry_cooldown_seconds"`
	MaxAttempts          int     `json:"max_attempts" yaml:"max_attempts"`
	ExpectedFailureCodes []int   `json:"expected_failure_codes" yaml:"expected_failure_codes"`
	TickIntervalMs       int     `json:"tick_interval_ms" yaml:"tick_interval_ms"`

	// Source settings
	URLPrefix             string `json:"url_prefix" yaml:"url_prefix"`
	AppendPlatformSegment bool   `json:"append_platform_segment" yaml:"append_platform_segment"`
	Platform              string `json:"platform" yaml:"platform"` // empty: detected from the OS
	ManifestName          string `json:"manifest_name" yaml:"manifest_name"`

	// Transport settings
	RequestTimeoutSeconds float64 `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	UserAgent             string  `json:"user_agent" yaml:"user_agent"`

	// Storage settings
	CachePath      string `json:"cache_path" yaml:"cache_path"` // empty disables the cache
	OutputPath     string `json:"output_path" yaml:"output_path"`
	FileNameFormat string `json:"file_name_format" yaml:"file_name_format"`

	// Status API
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"` // empty disables the API

	// Logging
	LogLevel      string `json:"log_level" yaml:"log_level"`
	LogFile       string `json:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `json:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `json:"log_max_backups" yaml:"log_max_backups"`
	LogMaxAgeDays int    `json:"log_max_age_days" yaml:"log_max_age_days"`
	LogCompress   bool   `json:"log_compress" yaml:"log_compress"`
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	cacheDir, err := os.UserCacheDir()
	cachePath := ""
	if err == nil {
		cachePath = filepath.Join(cacheDir, "bundle-fetch")
	}
	return &Settings{
		MaxParallelRequests:  download.DefaultMaxParallelRequests,
		RetryCooldownSeconds: download.DefaultRetryCooldown.Seconds(),
		MaxAttempts:          bundle.DefaultMaxAttempts,
		ExpectedFailureCodes: []int{404},
		TickIntervalMs:       int(download.DefaultTickInterval / time.Millisecond),

		AppendPlatformSegment: true,

		RequestTimeoutSeconds: http.DefaultTimeout.Seconds(),
		UserAgent:             http.DefaultUserAgent,

		CachePath:      cachePath,
		OutputPath:     filepath.Join("bundles", "{platform}"),
		FileNameFormat: "{name}",

		LogLevel:      "info",
		LogMaxSizeMB:  100,
		LogMaxBackups: 3,
		LogMaxAgeDays: 28,
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads settings from a YAML (.yaml, .yml) or JSON file. Keys missing
// from the file keep their default values. A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, errors.Wrap(err, "read config")
	}

	settings := DefaultSettings()
	if isYAML(path) {
		err = yaml.Unmarshal(data, settings)
	} else {
		err = json.Unmarshal(data, settings)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	return settings, nil
}

// Save writes settings to path, as YAML or JSON depending on the extension.
func (s *Settings) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(s)
	} else {
		data, err = json.MarshalIndent(s, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "encode config")
	}

	return os.WriteFile(path, data, 0644)
}

// Validate reports the first setting that cannot be used.
func (s *Settings) Validate() error {
	switch {
	case s.MaxParallelRequests < 1:
		return errors.Wrap(ErrInvalid, "max_parallel_requests must be at least 1")
	case s.MaxAttempts < 1:
		return errors.Wrap(ErrInvalid, "max_attempts must be at least 1")
	case s.RetryCooldownSeconds < 0:
		return errors.Wrap(ErrInvalid, "retry_cooldown_seconds must not be negative")
	case s.TickIntervalMs < 1:
		return errors.Wrap(ErrInvalid, "tick_interval_ms must be at least 1")
	case s.RequestTimeoutSeconds <= 0:
		return errors.Wrap(ErrInvalid, "request_timeout_seconds must be positive")
	}

	if strings.TrimSpace(s.URLPrefix) == "" {
		return errors.Wrap(ErrInvalid, "url_prefix is required")
	}
	u, err := url.Parse(s.URLPrefix)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Wrapf(ErrInvalid, "url_prefix %q is not an http(s) URL", s.URLPrefix)
	}

	for _, code := range s.ExpectedFailureCodes {
		if code < 100 || code > 599 {
			return errors.Wrapf(ErrInvalid, "expected failure code %d is not an HTTP status", code)
		}
	}

	if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
		return errors.Wrapf(ErrInvalid, "log_level %q", s.LogLevel)
	}
	return nil
}

// ToSchedulerOptions converts settings to scheduler options. Logger and
// OnEvent are left for the caller.
func (s *Settings) ToSchedulerOptions() download.Options {
	return download.Options{
		MaxParallelRequests: s.MaxParallelRequests,
		RetryCooldown:       seconds(s.RetryCooldownSeconds),
	}
}

// TickInterval returns the scheduler tick period.
func (s *Settings) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMs) * time.Millisecond
}

// ToLoaderConfig converts settings to a bundle.Config.
func (s *Settings) ToLoaderConfig() bundle.Config {
	return bundle.Config{
		URLPrefix:             s.URLPrefix,
		Platform:              s.Platform,
		AppendPlatformSegment: s.AppendPlatformSegment,
		ManifestName:          s.ManifestName,
		MaxAttempts:           s.MaxAttempts,
		ExpectedFailureCodes:  append([]int{}, s.ExpectedFailureCodes...),
	}
}

// ToClientOptions converts settings to HTTP client options.
func (s *Settings) ToClientOptions() http.Options {
	return http.Options{
		Timeout:   seconds(s.RequestTimeoutSeconds),
		UserAgent: s.UserAgent,
	}
}

// ToLoggerConfig converts settings to a logger.Config.
func (s *Settings) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:      s.LogLevel,
		OutputFile: s.LogFile,
		MaxSize:    s.LogMaxSizeMB,
		MaxBackups: s.LogMaxBackups,
		MaxAge:     s.LogMaxAgeDays,
		Compress:   s.LogCompress,
	}
}

// ToPathConfig converts settings to PathConfig.
func (s *Settings) ToPathConfig() *model.PathConfig {
	return &model.PathConfig{
		OutputPath:     s.OutputPath,
		FileNameFormat: s.FileNameFormat,
	}
}

// ToCacheOptions returns the cache options and whether caching is enabled.
func (s *Settings) ToCacheOptions() (cache.OpenOptions, bool) {
	if strings.TrimSpace(s.CachePath) == "" {
		return cache.OpenOptions{}, false
	}
	return cache.OpenOptions{Path: s.CachePath}, true
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
