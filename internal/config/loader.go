package config

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), getenv); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct fills tagged fields from the environment, recursing into the
// section structs. A field reads its env tag, then envAlt, then default.
func loadStruct(v reflect.Value, getenv func(string) string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fieldVal, getenv); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value := getenv(envName)
		if alt := field.Tag.Get("envAlt"); value == "" && alt != "" {
			value = getenv(alt)
		}
		if value == "" {
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		field.Set(reflect.ValueOf(splitList(value)))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// splitList splits a comma-separated value, dropping blank entries.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateImport()...)
	errs = append(errs, c.validateRate()...)

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("METRICS_PATH (%q) must start with /", c.Metrics.Path))
	}
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateStorage checks pool settings only when PostgreSQL is selected.
func (c *Config) validateStorage() []string {
	switch strings.ToLower(c.Storage.Backend) {
	case BackendMemory:
		return nil
	case BackendPostgres:
	default:
		return []string{fmt.Sprintf("STORAGE_BACKEND (%q) must be one of: memory, postgres", c.Storage.Backend)}
	}

	var errs []string
	db := c.Database
	if db.URL == "" {
		errs = append(errs, "DATABASE_URL is required when STORAGE_BACKEND is postgres")
	}
	if db.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if db.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if db.MaxConns < db.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", db.MaxConns, db.MinConns))
	}
	return errs
}

func (c *Config) validateServer() []string {
	var errs []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	return errs
}

func (c *Config) validateImport() []string {
	var errs []string
	positive := []struct {
		env string
		ok  bool
	}{
		{"IMPORT_MAX_FILE_SIZE", c.Import.MaxFileSize > 0},
		{"IMPORT_MAX_CONCURRENT", c.Import.MaxConcurrent > 0},
		{"IMPORT_MAX_WAIT_TIME", c.Import.MaxWaitTime > 0},
		{"IMPORT_TIMEOUT", c.Import.Timeout > 0},
	}
	for _, p := range positive {
		if !p.ok {
			errs = append(errs, p.env+" must be positive")
		}
	}
	if c.Import.Workers < 0 {
		errs = append(errs, "IMPORT_WORKERS must be non-negative")
	}
	return errs
}

// validateRate ignores the limits while rate limiting is disabled.
func (c *Config) validateRate() []string {
	if !c.Rate.Enabled {
		return nil
	}
	var errs []string
	if c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.ImportLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_IMPORT must be positive when rate limiting is enabled")
	}
	if c.Rate.Burst <= 0 {
		errs = append(errs, "RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	return errs
}

// LogValue renders the configuration for structured logs. The database URL
// and API keys are masked.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Group("server",
			slog.String("addr", c.Server.Addr()),
			slog.Duration("read_timeout", c.Server.ReadTimeout),
			slog.Duration("request_timeout", c.Server.RequestTimeout),
		),
		slog.Group("storage",
			slog.String("backend", c.Storage.Backend),
			slog.String("database_url", masked(c.Database.URL)),
			slog.Int("max_conns", c.Database.MaxConns),
			slog.Int("min_conns", c.Database.MinConns),
		),
		slog.Group("import",
			slog.Int64("max_file_size", c.Import.MaxFileSize),
			slog.Int("max_concurrent", c.Import.MaxConcurrent),
			slog.Int("workers", c.Import.Workers),
			slog.Duration("timeout", c.Import.Timeout),
		),
		slog.Group("rate",
			slog.Bool("enabled", c.Rate.Enabled),
			slog.Int("requests_per_minute", c.Rate.RequestsPerMinute),
			slog.Int("import_limit", c.Rate.ImportLimit),
		),
		slog.Group("security",
			slog.Bool("require_api_key", c.Security.RequireAPIKey),
			slog.String("api_keys", fmt.Sprintf("[%d MASKED]", len(c.Security.APIKeys))),
		),
		slog.Group("logging",
			slog.String("level", c.Logging.Level),
			slog.String("format", c.Logging.Format),
		),
	)
}

func masked(s string) string {
	if s == "" {
		return ""
	}
	return "[MASKED]"
}
