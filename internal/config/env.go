package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every overlay variable, e.g. RELAYCHAT_SERVER_ADDR.
const EnvPrefix = "RELAYCHAT_"

// envOverlay holds the variables that may override a file value. Pointer
// fields stay nil when the variable is unset, so only set variables win.
type envOverlay struct {
	LogLevel      *string `env:"LOG_LEVEL"`
	LogConsole    *bool   `env:"LOG_CONSOLE"`
	LogFile       *string `env:"LOG_FILE"`
	MessageRate   *int    `env:"LOG_MESSAGE_RATE"`
	ServerAddr    *string `env:"SERVER_ADDR"`
	ReadSize      *int    `env:"SERVER_READ_SIZE"`
	WriteTimeout  *string `env:"SERVER_WRITE_TIMEOUT"`
	ClientHost    *string `env:"CLIENT_HOST"`
	ClientPort    *int    `env:"CLIENT_PORT"`
	DialTimeout   *string `env:"CLIENT_DIAL_TIMEOUT"`
	RingName      *string `env:"RING_NAME"`
	RingDir       *string `env:"RING_DIR"`
	DebugEnabled  *bool   `env:"DEBUG_ENABLED"`
	DebugAddr     *string `env:"DEBUG_ADDR"`
	DebugToken    *string `env:"DEBUG_TOKEN"`
	StatsEnabled  *bool   `env:"STATS_ENABLED"`
	StatsSchedule *string `env:"STATS_SCHEDULE"`
	StorageDriver *string `env:"STORAGE_DRIVER"`
	StoragePath   *string `env:"STORAGE_PATH"`
}

// ApplyEnv overlays RELAYCHAT_* variables onto cfg. environ nil means the
// process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var o envOverlay
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.Logging.Console, o.LogConsole)
	if o.LogFile != nil {
		cfg.Logging.File.Enabled = *o.LogFile != ""
		cfg.Logging.File.Path = *o.LogFile
	}
	set(&cfg.Logging.MessageRate, o.MessageRate)
	set(&cfg.Server.Addr, o.ServerAddr)
	set(&cfg.Server.ReadSize, o.ReadSize)
	set(&cfg.Server.WriteTimeout, o.WriteTimeout)
	set(&cfg.Client.Host, o.ClientHost)
	set(&cfg.Client.Port, o.ClientPort)
	set(&cfg.Client.DialTimeout, o.DialTimeout)
	set(&cfg.Ring.Name, o.RingName)
	set(&cfg.Ring.Dir, o.RingDir)
	set(&cfg.Debug.Enabled, o.DebugEnabled)
	set(&cfg.Debug.Addr, o.DebugAddr)
	set(&cfg.Debug.Token, o.DebugToken)
	set(&cfg.Stats.Enabled, o.StatsEnabled)
	set(&cfg.Stats.Schedule, o.StatsSchedule)
	set(&cfg.Storage.Driver, o.StorageDriver)
	set(&cfg.Storage.Path, o.StoragePath)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
