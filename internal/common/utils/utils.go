package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
)

// ConfigEnv names the environment variable holding the config file path
const ConfigEnv = "DRIVEFETCH_CONFIG"

// LoadConfig loads configuration from file. An empty path falls back to
// DRIVEFETCH_CONFIG and then to configs/config.yaml; a missing file yields defaults.
func LoadConfig(path string) (*types.Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv(ConfigEnv)
		explicit = path != ""
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			applyEnvOverrides(config)
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(config)

	return config, nil
}

// DefaultConfig returns default configuration
func DefaultConfig() *types.Config {
	return &types.Config{
		Remote: types.RemoteConfig{
			BaseURL:           "https://drive.bitcasa.com",
			FolderEndpoint:    "/portal/v2/folders",
			DownloadEndpoint:  "/portal/v2/files",
			LogoutEndpoint:    "/logout",
			SocketTimeout:     100,
			RequestTimeout:    60,
			RequestsPerSecond: 0,
			RequestBurst:      1,
		},
		Auth: types.AuthConfig{
			CookieFile: "./cookies",
			CSRFCookie: "tkey_csrf0portal",
		},
		Session: types.SessionConfig{
			MaxConnections: 8,
		},
		Workers: types.WorkersConfig{
			List:     4,
			Download: 4,
			Move:     2,
			Upload:   2,
		},
		Traversal: types.TraversalConfig{
			Root:        "/",
			MaxDepth:    1,
			Destination: "./downloads",
		},
		Transfer: types.TransferConfig{
			ChunkSize:        1024 * 1024,
			MaxRetries:       3,
			SizeRetries:      3,
			MaxAttempts:      3,
			ProgressInterval: 20,
			Retry: types.RetryConfig{
				InitialDelay: 5000,
				MaxDelay:     60000,
				Multiplier:   1,
				Increment:    5000,
			},
		},
		Jobs: types.JobsConfig{
			StoreConfig: types.StoreConfig{
				Driver: "sqlite",
				DSN:    "./drivefetch.db",
			},
			MaxRetries: 3,
			MaxWait:    5,
		},
		Results: types.StoreConfig{
			Driver: "sqlite",
			DSN:    "./drivefetch.db",
		},
		Database: types.DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Name:           "drivefetch",
			User:           "postgres",
			Password:       os.Getenv("DB_PASSWORD"),
			MaxConnections: 20,
		},
		Logging: types.LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *types.Config) {
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		config.Database.Password = dbPassword
	}
	if cookieFile := os.Getenv("DRIVEFETCH_COOKIE_FILE"); cookieFile != "" {
		config.Auth.CookieFile = cookieFile
	}
	if level := os.Getenv("DRIVEFETCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ValidateConfig checks the configuration before any work starts
func ValidateConfig(config *types.Config) error {
	if strings.TrimSpace(config.Remote.BaseURL) == "" {
		return apperrors.ConfigError("remote.base_url", "must not be empty")
	}
	if config.Remote.SocketTimeout < 0 {
		return apperrors.ConfigError("remote.socket_timeout", "must not be negative")
	}
	if config.Session.MaxConnections < 0 {
		return apperrors.ConfigError("session.max_connections", "must not be negative")
	}
	for _, c := range types.Categories {
		if config.Workers.ForCategory(c) < 1 {
			return apperrors.ConfigError("workers."+string(c), "must be at least 1")
		}
	}
	if config.Traversal.MaxDepth < 0 {
		return apperrors.ConfigError("traversal.max_depth", "must not be negative")
	}
	if config.Transfer.ChunkSize <= 0 {
		return apperrors.ConfigError("transfer.chunk_size", "must be positive")
	}
	if config.Transfer.MaxRetries < 1 {
		return apperrors.ConfigError("transfer.max_retries", "must be at least 1")
	}
	if config.Transfer.SizeRetries < 1 {
		return apperrors.ConfigError("transfer.size_retries", "must be at least 1")
	}
	if config.Transfer.ProgressInterval < 0 {
		return apperrors.ConfigError("transfer.progress_interval", "must not be negative")
	}
	if err := validateStore("jobs", config.Jobs.StoreConfig); err != nil {
		return err
	}
	if err := validateStore("results", config.Results); err != nil {
		return err
	}
	switch strings.ToLower(config.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return apperrors.ConfigError("logging.level", "unknown level "+config.Logging.Level)
	}
	return nil
}

func validateStore(prefix string, store types.StoreConfig) error {
	switch store.Driver {
	case "memory", "postgres":
		return nil
	case "sqlite":
		if store.DSN == "" {
			return apperrors.ConfigError(prefix+".dsn", "sqlite requires a database path")
		}
		return nil
	default:
		return apperrors.ConfigError(prefix+".driver", "unsupported driver "+store.Driver)
	}
}

// GenerateID generates a unique ID for entities
func GenerateID() string {
	return uuid.New().String()
}

// FormatSize renders a byte count with a binary unit suffix
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatSpeed renders a throughput in bytes per second
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond < 0 {
		bytesPerSecond = 0
	}
	return FormatSize(int64(bytesPerSecond)) + "/s"
}

// FormatDuration renders a duration as h/m/s
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
