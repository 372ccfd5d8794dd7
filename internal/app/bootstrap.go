package app

import (
	"time"

	"relaychat/internal/config"
	"relaychat/internal/observability/pprof"
	"relaychat/internal/relay"
	"relaychat/internal/stats"
	logx "relaychat/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapDebugConfig(cfg *config.Config) (pprof.Config, error) {
	d := cfg.Debug
	rt, err := config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 10*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	wt, err := config.ParseDurationField("debug.write_timeout", d.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, 60*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:       d.Enabled,
		Addr:          d.Addr,
		Prefix:        d.Prefix,
		Token:         d.Token,
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}

func mapStatsConfig(cfg *config.Config) stats.Config {
	return stats.Config{
		Enabled:  cfg.Stats.Enabled,
		Schedule: cfg.Stats.Schedule,
		Timezone: cfg.Stats.Timezone,
	}
}

// relayOptions maps the server section. Only the write timeout can change at
// runtime (see applyWriteTimeout); the listener and read size cannot.
func relayOptions(cfg *config.Config) ([]relay.Option, error) {
	wt, err := writeTimeout(cfg)
	if err != nil {
		return nil, err
	}
	return []relay.Option{
		relay.WithReadSize(cfg.Server.ReadSize),
		relay.WithWriteTimeout(wt),
	}, nil
}

func writeTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout)
}
