package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	DefaultArchiveRoot   = "/data/"
	DefaultPathFormatter = "{SITEID}/{DAY-OBS}/"
	DefaultFpackPath     = "/usr/bin/fpack"
	DefaultFpackArgs     = "-S -"
	DefaultZipPrefix     = "framedata"
)

const (
	defaultMaxUploadSize   = 50 * 1024 * 1024
	defaultUploadRateLimit = 120
	defaultIngestWorkers   = 2
	defaultFpackTimeout    = 2 * time.Minute
)

// ConfigPathEnvVar overrides the YAML config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

var defaultConfigPaths = []string{"config.yaml", "config.yml", "/etc/framearchive/config.yaml"}

type Config struct {
	// directory under which every frame path is resolved
	ArchiveRoot string `koanf:"archive_root" validate:"required"`

	// sqlite catalog
	DatabasePath string `koanf:"database_path" validate:"required"`

	// path template is mandatory for ingestion; filename template is optional
	PathFormatter     string `koanf:"path_formatter"`
	FilenameFormatter string `koanf:"filename_formatter"`

	// download urls are built as HTTPRoot + RootURL + frames/{id}/download/
	HTTPRoot string `koanf:"http_root" validate:"required,url"`
	RootURL  string `koanf:"root_url" validate:"required"`

	// external compressor, fed through stdin
	FpackPath    string        `koanf:"fpack_path" validate:"required"`
	FpackArgs    string        `koanf:"fpack_args"`
	FpackTimeout time.Duration `koanf:"fpack_timeout" validate:"gt=0"`

	// remote profile endpoint used for token introspection; empty disables auth
	AuthProfileURL string `koanf:"auth_profile_url" validate:"omitempty,url"`

	CORSAllowedOrigins string `koanf:"cors_allowed_origins"`
	MaxUploadSize      int64  `koanf:"max_upload_size" validate:"gt=0"`
	UploadRateLimit    int    `koanf:"upload_rate_limit" validate:"gte=0"`
	IngestWorkers      int    `koanf:"ingest_workers" validate:"gt=0"`
	ZipPrefix          string `koanf:"zip_prefix" validate:"required"`

	Port      string `koanf:"port" validate:"required"`
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format" validate:"omitempty,oneof=json console"`
}

func defaultConfig() Config {
	return Config{
		ArchiveRoot:        DefaultArchiveRoot,
		DatabasePath:       "frames.db",
		PathFormatter:      DefaultPathFormatter,
		HTTPRoot:           "http://localhost/",
		RootURL:            "/",
		FpackPath:          DefaultFpackPath,
		FpackArgs:          DefaultFpackArgs,
		FpackTimeout:       defaultFpackTimeout,
		CORSAllowedOrigins: "http://localhost:5173",
		MaxUploadSize:      defaultMaxUploadSize,
		UploadRateLimit:    defaultUploadRateLimit,
		IngestWorkers:      defaultIngestWorkers,
		ZipPrefix:          DefaultZipPrefix,
		Port:               "8080",
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// envKeys maps recognised environment variables onto config keys. anything
// else in the environment is ignored.
var envKeys = map[string]string{
	"ARCHIVE_ROOT":         "archive_root",
	"DATABASE_PATH":        "database_path",
	"PATH_FORMATTER":       "path_formatter",
	"FILENAME_FORMATTER":   "filename_formatter",
	"HTTP_ROOT":            "http_root",
	"ROOT_URL":             "root_url",
	"FPACK_PATH":           "fpack_path",
	"FPACK_ARGS":           "fpack_args",
	"FPACK_TIMEOUT":        "fpack_timeout",
	"AUTH_PROFILE_URL":     "auth_profile_url",
	"CORS_ALLOWED_ORIGINS": "cors_allowed_origins",
	"MAX_UPLOAD_SIZE":      "max_upload_size",
	"UPLOAD_RATE_LIMIT":    "upload_rate_limit",
	"INGEST_WORKERS":       "ingest_workers",
	"ZIP_PREFIX":           "zip_prefix",
	"PORT":                 "port",
	"LOG_LEVEL":            "log_level",
	"LOG_FORMAT":           "log_format",
}

func envTransform(key string) string {
	return envKeys[key]
}

// LoadConfig layers defaults, an optional YAML file and the environment, in
// that order of precedence.
func LoadConfig() (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load config defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	absRoot, err := filepath.Abs(cfg.ArchiveRoot)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for archive root '%s': %w", cfg.ArchiveRoot, err)
	}
	cfg.ArchiveRoot = absRoot

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate checks struct constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// FpackArgv splits FpackArgs on whitespace.
func (c Config) FpackArgv() []string {
	return strings.Fields(c.FpackArgs)
}

// AllowedOrigins splits the comma separated CORS origin list.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// AuthEnabled reports whether bearer tokens are checked against a profile endpoint.
func (c Config) AuthEnabled() bool {
	return c.AuthProfileURL != ""
}
