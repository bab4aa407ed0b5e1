package storage

import (
	"context"
	"fmt"
	log "log/slog"

	"github.com/mrlauy/ghome-bridge/config"
	"github.com/mrlauy/ghome-bridge/device"
)

// Open returns the persister selected by the store driver, or nil for the in-memory store.
func Open(ctx context.Context, cfg config.StoreConfig) (device.Persister, error) {
	var (
		persister device.Persister
		err       error
	)
	switch cfg.Driver {
	case "", "memory":
		log.Info("device state is kept in memory only")
		return nil, nil
	case "buntdb":
		log.Info("persist device state in buntdb", "path", cfg.Path)
		persister, err = OpenBunt(cfg.Path)
	case "redis":
		log.Info("persist device state in redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		persister, err = DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	case "sqlite", "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store driver %s needs a dsn", cfg.Driver)
		}
		log.Info("persist device state in sql database", "driver", cfg.Driver)
		persister, err = OpenSQL(cfg.Driver, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return persister, nil
}
