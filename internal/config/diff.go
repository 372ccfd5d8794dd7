package config

import (
	"sort"
	"strings"

	logx "relaychat/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
// It also reports whether the change needs a restart to take effect, which
// is the case for the listen address, the read size and the ring.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 20)
	restart := false

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Int("logging.message_rate", newCfg.Logging.MessageRate),
		)
	}

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		// write_timeout is applied live; the listener and read size are not.
		if oldCfg.Server.Addr != newCfg.Server.Addr || oldCfg.Server.ReadSize != newCfg.Server.ReadSize {
			restart = true
		}
		attrs = append(attrs,
			logx.String("server.addr", newCfg.Server.Addr),
			logx.Int("server.read_size", newCfg.Server.ReadSize),
			logx.String("server.write_timeout", strings.TrimSpace(newCfg.Server.WriteTimeout)),
		)
	}

	if oldCfg.Client != newCfg.Client {
		changed = append(changed, "client")
		attrs = append(attrs,
			logx.String("client.host", newCfg.Client.Host),
			logx.Int("client.port", newCfg.Client.Port),
		)
	}

	if oldCfg.Ring != newCfg.Ring {
		changed = append(changed, "ring")
		restart = true
		attrs = append(attrs, logx.String("ring.name", newCfg.Ring.Name))
	}

	// Debug (never log token)
	od, nd := oldCfg.Debug, newCfg.Debug
	tokenChanged := strings.TrimSpace(od.Token) != strings.TrimSpace(nd.Token)
	od.Token, nd.Token = "", ""
	if od != nd || tokenChanged {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.String("debug.prefix", strings.TrimSpace(newCfg.Debug.Prefix)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
			logx.Bool("debug.allow_insecure", newCfg.Debug.AllowInsecure),
		)
	}

	if oldCfg.Stats != newCfg.Stats {
		changed = append(changed, "stats")
		attrs = append(attrs,
			logx.Bool("stats.enabled", newCfg.Stats.Enabled),
			logx.String("stats.schedule", newCfg.Stats.Schedule),
		)
	}

	// Storage: path presence only.
	oldS, newS := oldCfg.Storage, newCfg.Storage
	if oldS.Driver != newS.Driver || strings.TrimSpace(oldS.BusyTimeout) != strings.TrimSpace(newS.BusyTimeout) || oldS.Path != newS.Path {
		changed = append(changed, "storage")
		restart = true
		attrs = append(attrs,
			logx.String("storage.driver", newS.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newS.BusyTimeout)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, restart
}
