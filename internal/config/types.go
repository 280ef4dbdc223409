package config

// Config is the complete mirrorhost configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Worker  WorkerConfig  `yaml:"worker"`
	API     APIConfig     `yaml:"api,omitempty"`
	History HistoryConfig `yaml:"history,omitempty"`
}

// ServiceConfig defines core host settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	// StateDir holds host-owned files: the PID lock and the history journal.
	// The worker's own database lives wherever worker.db_path points.
	StateDir string `yaml:"state_dir"`
}

// WorkerConfig defines how the backend worker is launched.
type WorkerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
	Dir     string   `yaml:"dir,omitempty"`
	// DBPath is the worker's SQLite database, passed as --db.
	DBPath string `yaml:"db_path"`
	// ConfigPath is the worker's own config.yml, passed as --config and sent
	// as the base "config" reference on streaming queries.
	ConfigPath string `yaml:"config_path"`
}

// APIConfig defines the local HTTP API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// APIKey, when set, requires a bearer token on every /v1 route.
	APIKey string `yaml:"api_key,omitempty"`
}

// HistoryConfig defines the query/import journal.
type HistoryConfig struct {
	// Path of the journal database. Defaults to history.db under state_dir.
	Path string `yaml:"path,omitempty"`
}
