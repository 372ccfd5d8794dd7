package config

import "relaychat/internal/transport"

// Config is the relayd / client configuration file.
//
// Every section is optional; Defaults() fills what a file leaves out.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Server  ServerConfig  `json:"server"`
	Client  ClientConfig  `json:"client"`
	Ring    RingConfig    `json:"ring"`
	Debug   DebugConfig   `json:"debug,omitempty"`
	Stats   StatsConfig   `json:"stats,omitempty"`
	Storage StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`

	// MessageRate caps relayed-message log lines per second. 0 uses the
	// default; negative disables message lines entirely.
	MessageRate int `json:"message_rate,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ServerConfig controls the relay listener.
type ServerConfig struct {
	Addr     string `json:"addr"`
	ReadSize int    `json:"read_size,omitempty"`

	// WriteTimeout bounds each per-peer write during a broadcast (Go duration
	// string). "0s" keeps the unbounded write.
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// ClientConfig is the default target of the terminal stream client.
type ClientConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	DialTimeout string `json:"dial_timeout,omitempty"`
}

// RingConfig names the shared-memory ring. Dir empty means /dev/shm when
// present, the temp dir otherwise.
type RingConfig struct {
	Name string `json:"name"`
	Dir  string `json:"dir,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (healthz, metrics,
// pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StatsConfig schedules the periodic relay report. Schedule accepts a cron
// spec, a cron descriptor ("@every 1m", "@hourly"), a bare duration ("30s")
// or an "HH:MM" interval ("00:15" is every 15 minutes).
type StatsConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional peer lifecycle audit.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./relayd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

const (
	DefaultServerAddr    = ":8080"
	DefaultClientHost    = "127.0.0.1"
	DefaultClientPort    = 8080
	DefaultDialTimeout   = "5s"
	DefaultRingName      = "relaychat"
	DefaultDebugAddr     = "127.0.0.1:6060"
	DefaultStats         = "@every 1m"
	DefaultMessageRate   = 20
	DefaultStorageDriver = "none"
)

// Defaults is the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true, MessageRate: DefaultMessageRate},
		Server:  ServerConfig{Addr: DefaultServerAddr, ReadSize: transport.ServerReadSize, WriteTimeout: "0s"},
		Client:  ClientConfig{Host: DefaultClientHost, Port: DefaultClientPort, DialTimeout: DefaultDialTimeout},
		Ring:    RingConfig{Name: DefaultRingName},
		Debug:   DebugConfig{Addr: DefaultDebugAddr},
		Stats:   StatsConfig{Schedule: DefaultStats},
		Storage: StorageConfig{Driver: DefaultStorageDriver},
	}
}
