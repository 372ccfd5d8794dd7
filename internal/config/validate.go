package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"relaychat/internal/transport"
	logx "relaychat/pkg/logx"
)

// normalize trims strings and fills empty values that have a default.
func normalize(cfg *Config) {
	cfg.Logging.Level = strings.TrimSpace(cfg.Logging.Level)
	if cfg.Logging.MessageRate == 0 {
		cfg.Logging.MessageRate = DefaultMessageRate
	}

	cfg.Server.Addr = strings.TrimSpace(cfg.Server.Addr)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	if cfg.Server.ReadSize == 0 {
		cfg.Server.ReadSize = transport.ServerReadSize
	}

	cfg.Client.Host = strings.TrimSpace(cfg.Client.Host)
	if cfg.Client.Host == "" {
		cfg.Client.Host = DefaultClientHost
	}
	if cfg.Client.Port == 0 {
		cfg.Client.Port = DefaultClientPort
	}

	cfg.Ring.Name = strings.TrimSpace(cfg.Ring.Name)
	if cfg.Ring.Name == "" {
		cfg.Ring.Name = DefaultRingName
	}

	cfg.Debug.Addr = strings.TrimSpace(cfg.Debug.Addr)
	if cfg.Debug.Addr == "" {
		cfg.Debug.Addr = DefaultDebugAddr
	}

	cfg.Stats.Schedule = strings.TrimSpace(cfg.Stats.Schedule)
	if cfg.Stats.Schedule == "" {
		cfg.Stats.Schedule = DefaultStats
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
}

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	if _, port, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		errs = append(errs, fmt.Errorf("server.addr: %w", err))
	} else if err := checkPort("server.addr", port, true); err != nil {
		errs = append(errs, err)
	}
	if cfg.Server.ReadSize < 0 {
		errs = append(errs, fmt.Errorf("server.read_size: must be > 0"))
	}
	if _, err := ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout); err != nil {
		errs = append(errs, err)
	}

	if cfg.Client.Port < 1 || cfg.Client.Port > 65535 {
		errs = append(errs, fmt.Errorf("client.port: %d out of range", cfg.Client.Port))
	}
	if _, err := ParseDurationField("client.dial_timeout", cfg.Client.DialTimeout); err != nil {
		errs = append(errs, err)
	}

	if strings.ContainsAny(cfg.Ring.Name, `/\`) || cfg.Ring.Name == "." || cfg.Ring.Name == ".." {
		errs = append(errs, fmt.Errorf("ring.name: %q is not a plain name", cfg.Ring.Name))
	}

	if cfg.Debug.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Debug.Addr); err != nil {
			errs = append(errs, fmt.Errorf("debug.addr: %w", err))
		}
		for path, raw := range map[string]string{
			"debug.read_timeout":  cfg.Debug.ReadTimeout,
			"debug.write_timeout": cfg.Debug.WriteTimeout,
			"debug.idle_timeout":  cfg.Debug.IdleTimeout,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				errs = append(errs, err)
			}
		}
	}

	switch cfg.Storage.Driver {
	case "none":
	case "file", "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path: required for driver %q", cfg.Storage.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	return errors.Join(errs...)
}

func checkPort(path, raw string, allowZero bool) error {
	p, err := strconv.Atoi(raw)
	if err != nil {
		if _, lerr := net.LookupPort("tcp", raw); lerr == nil {
			return nil
		}
		return fmt.Errorf("%s: invalid port %q", path, raw)
	}
	if p < 0 || p > 65535 || (p == 0 && !allowZero) {
		return fmt.Errorf("%s: port %d out of range", path, p)
	}
	return nil
}

// ParseDurationField parses a Go duration string found at path. Empty means
// zero; negative durations are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
