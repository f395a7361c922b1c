package types

// Config represents application configuration
type Config struct {
	Remote    RemoteConfig    `yaml:"remote"`
	Auth      AuthConfig      `yaml:"auth"`
	Session   SessionConfig   `yaml:"session"`
	Workers   WorkersConfig   `yaml:"workers"`
	Traversal TraversalConfig `yaml:"traversal"`
	Transfer  TransferConfig  `yaml:"transfer"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Results   StoreConfig     `yaml:"results"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Status    StatusConfig    `yaml:"status"`
}

// RemoteConfig describes the cloud-storage API endpoints
type RemoteConfig struct {
	BaseURL           string  `yaml:"base_url"`
	FolderEndpoint    string  `yaml:"folder_endpoint"`
	DownloadEndpoint  string  `yaml:"download_endpoint"`
	LogoutEndpoint    string  `yaml:"logout_endpoint"`
	SocketTimeout     int     `yaml:"socket_timeout"`  // seconds
	RequestTimeout    int     `yaml:"request_timeout"` // seconds, metadata requests only
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	RequestBurst      int     `yaml:"request_burst"`
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	CookieFile string `yaml:"cookie_file"`
	CSRFCookie string `yaml:"csrf_cookie"`
}

// SessionConfig represents session pool configuration
type SessionConfig struct {
	MaxConnections int `yaml:"max_connections"`
}

// WorkersConfig holds the concurrency bound of each job category
type WorkersConfig struct {
	List     int `yaml:"list"`
	Download int `yaml:"download"`
	Move     int `yaml:"move"`
	Upload   int `yaml:"upload"`
}

// ForCategory returns the worker count configured for a category
func (w WorkersConfig) ForCategory(c Category) int {
	switch c {
	case CategoryList:
		return w.List
	case CategoryDownload:
		return w.Download
	case CategoryMove:
		return w.Move
	case CategoryUpload:
		return w.Upload
	default:
		return 0
	}
}

// TraversalConfig represents folder traversal configuration
type TraversalConfig struct {
	Root        string `yaml:"root"`
	MaxDepth    int    `yaml:"max_depth"`
	Destination string `yaml:"destination"`
	MoveTo      string `yaml:"move_to"`
}

// TransferConfig represents file transfer configuration
type TransferConfig struct {
	ChunkSize        int         `yaml:"chunk_size"`
	MaxRetries       int         `yaml:"max_retries"`
	SizeRetries      int         `yaml:"size_retries"`
	MaxAttempts      int         `yaml:"max_attempts"`
	ProgressInterval int         `yaml:"progress_interval"` // seconds
	Retry            RetryConfig `yaml:"retry"`
}

// RetryConfig represents retry configuration
type RetryConfig struct {
	InitialDelay int     `yaml:"initial_delay"` // milliseconds
	MaxDelay     int     `yaml:"max_delay"`     // milliseconds
	Multiplier   float64 `yaml:"multiplier"`
	Increment    int     `yaml:"increment"` // milliseconds added per attempt
}

// JobsConfig represents job persistence configuration
type JobsConfig struct {
	StoreConfig `yaml:",inline"`
	MaxRetries  int `yaml:"max_retries"`
	MaxWait     int `yaml:"max_wait"` // seconds
}

// StoreConfig selects a persistence backend
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite", "postgres" or "memory"
	DSN    string `yaml:"dsn"`
}

// DatabaseConfig represents PostgreSQL connection configuration
type DatabaseConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Name           string `yaml:"name"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	MaxConnections int    `yaml:"max_connections"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"` // "stdout", "stderr", "discard" or a file path
	Quiet  bool   `yaml:"quiet"`
}

// StatusConfig represents the optional status HTTP endpoint
type StatusConfig struct {
	Addr string `yaml:"addr"`
}
