package app

import (
	"time"

	"relaychat/internal/config"
	"relaychat/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	switch sc.Driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: sc.Path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{Driver: sc.Driver, Path: sc.Path}, true, nil
	}
}
