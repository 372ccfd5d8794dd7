// Package app wires relayd together: config, logging, the relay engine,
// the peer audit, metrics, the debug server and the stats reporter.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"relaychat/internal/config"
	"relaychat/internal/eventbus"
	"relaychat/internal/observability/metrics"
	"relaychat/internal/observability/pprof"
	"relaychat/internal/relay"
	"relaychat/internal/runtime/supervisor"
	"relaychat/internal/stats"
	"relaychat/internal/storage"
	logx "relaychat/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	metrics *metrics.Relay
	sink    *noticeSink
	engine  *relay.Engine
	debug   *pprof.Service
	stats   *stats.Reporter

	started time.Time
}

// New loads the config and builds every component. Nothing listens until
// Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   store,
		metrics: metrics.New(),
	}
	a.sink = newNoticeSink(log, store, cfg.Logging.MessageRate)
	a.debug = pprof.New(dcfg, log, pprof.WithMetrics(a.metrics.Handler()), pprof.WithHealth(func() any { return a.Health() }))
	a.stats = stats.New(mapStatsConfig(cfg), a.metrics.Snapshot, log)
	a.metrics.WatchDropped("notices_dropped_total", "Relay notices dropped because an observer lagged", a.bus.Dropped)
	return a, nil
}

// Addr is the relay listener address once started.
func (a *App) Addr() net.Addr {
	if a.engine == nil {
		return nil
	}
	return a.engine.Addr()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Health is what /healthz reports.
func (a *App) Health() any {
	h := map[string]any{
		"status": "ok",
		"uptime": time.Since(a.started).Round(time.Second).String(),
		"stats":  a.metrics.Snapshot(),
	}
	if a.engine != nil {
		h["peers"] = a.engine.Peers()
		h["addr"] = a.engine.Addr().String()
	}
	if a.sup != nil {
		snap := a.sup.Snapshot()
		h["tasks"] = snap.Tasks
		if snap.FirstError != "" {
			h["status"] = "degraded"
			h["first_error"] = snap.FirstError
		}
	}
	return h
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.started = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, err := mapDebugConfig(c); err != nil {
			return err
		}
		if _, err := relayOptions(c); err != nil {
			return err
		}
		return a.stats.Validate(mapStatsConfig(c))
	})

	opts, err := relayOptions(cfg)
	if err != nil {
		return err
	}
	opts = append(opts,
		relay.WithLogger(a.log),
		relay.WithRecorder(a.metrics),
		relay.WithBus(a.bus),
		relay.WithNoticeHandler(a.sink.Handle),
		relay.WithLifecycleHandler(a.sink.Lifecycle),
	)
	eng, err := relay.Listen(cfg.Server.Addr, opts...)
	if err != nil {
		return err
	}
	a.engine = eng

	a.sup.Go("relay", func(c context.Context) error {
		select {
		case <-c.Done():
			return nil
		case <-eng.Done():
			return errors.New("relay engine closed")
		}
	})

	if a.debug.Enabled() {
		a.debug.Start(a.sup.Context())
	}
	if err := a.stats.Start(); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if iv, err := daemon.SdWatchdogEnabled(false); err == nil && iv > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			t := time.NewTicker(iv / 2)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return nil
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("relayd started", logx.String("addr", eng.Addr().String()))
	return nil
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary for logx.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart {
		a.log.Warn("server, ring or storage config changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.sink.SetRate(newCfg.Logging.MessageRate)
	a.applyWriteTimeout(oldCfg, newCfg)

	if dcfg, err := mapDebugConfig(newCfg); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(c, dcfg)
	}

	// Apply restarts a running schedule; Start covers a newly enabled one.
	if err := a.stats.Apply(mapStatsConfig(newCfg)); err != nil {
		a.log.Warn("invalid stats config; keeping previous", logx.Err(err))
	} else if err := a.stats.Start(); err != nil {
		a.log.Warn("stats start failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// applyWriteTimeout pushes a changed server.write_timeout to the live
// registry; later broadcasts use it.
func (a *App) applyWriteTimeout(oldCfg, newCfg *config.Config) {
	if a.engine == nil || oldCfg.Server.WriteTimeout == newCfg.Server.WriteTimeout {
		return
	}
	wt, err := writeTimeout(newCfg)
	if err != nil {
		a.log.Warn("invalid server.write_timeout; keeping previous", logx.Err(err))
		return
	}
	a.engine.Registry().SetWriteTimeout(wt)
	a.log.Info("relay write timeout updated", logx.Duration("write_timeout", wt))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "stats", time.Second, func(c context.Context) error { a.stats.Stop(c); return nil })
	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "relay", 3*time.Second, func(context.Context) error {
		if a.engine != nil {
			return a.engine.Close()
		}
		return nil
	})
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	// Finally, wait for supervised goroutines (config watch/reload, watchdog).
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
