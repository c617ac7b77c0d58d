// Package app wires the notification pipeline together and owns its
// lifecycle and hot reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"grievd/internal/config"
	"grievd/internal/directory"
	"grievd/internal/domain"
	"grievd/internal/feed"
	"grievd/internal/feed/source"
	"grievd/internal/httpapi"
	"grievd/internal/identity"
	"grievd/internal/live"
	"grievd/internal/maintenance"
	"grievd/internal/metrics"
	"grievd/internal/notifier"
	"grievd/internal/observability/pprof"
	"grievd/internal/policy"
	rtsup "grievd/internal/runtime/supervisor"
	"grievd/internal/sender"
	"grievd/internal/storage"
	"grievd/internal/transport/telegram"
	logx "grievd/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	metrics  *metrics.Metrics
	store    storage.Store
	hub      *feed.Hub
	dir      *directory.Directory
	registry *live.Registry
	senders  *sender.Set
	disp     *notifier.Dispatcher
	pipeline *notifier.Pipeline
	reaper   *maintenance.Reaper
	sources  []source.Source
	pprof    *pprof.Service

	srv  *http.Server
	addr string
	ln   net.Listener
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.ConfigManager, cfg *config.Config) (a *App, err error) {
	var alert logx.AlertSender
	if tc, ok := mapAlertConfig(cfg); ok {
		al, err := telegram.New(tc)
		if err != nil {
			return nil, fmt.Errorf("alerts: %w", err)
		}
		alert = al
	}
	logSvc, root := logx.New(mapLogConfig(cfg), alert)
	log := root.With(logx.String("comp", "app"))
	defer func() {
		if err != nil {
			_ = logSvc.Close()
		}
	}()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()
	log.Info("notification log opened", logx.String("driver", sc.Driver))

	m := metrics.New()
	hub := feed.NewHub(root, m.FeedHooks())
	dir := directory.New()
	if path := strings.TrimSpace(cfg.Directory.SeedPath); path != "" {
		evs, err := feed.LoadSnapshot(path)
		if evs == nil && err != nil {
			return nil, fmt.Errorf("directory seed: %w", err)
		}
		if err != nil {
			log.Warn("directory seed rows skipped", logx.Err(err))
		}
		for _, ev := range evs {
			dir.Apply(ev)
		}
		profiles, complaints := dir.Len()
		log.Info("directory seeded", logx.String("path", path), logx.Int("profiles", profiles), logx.Int("complaints", complaints))
	}

	lc, wc, err := mapLiveConfig(cfg)
	if err != nil {
		return nil, err
	}
	registry := live.NewRegistry(hub, dir, lc, root, m.LiveHooks())

	senders := sender.NewSet(buildSenders(cfg, registry)...)
	for _, ch := range []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelCall} {
		if sender.IsDisabled(senders.Get(ch)) {
			log.Warn("sender disabled; channel deliveries will fail", logx.String("channel", string(ch)))
		}
	}

	dc, err := mapDispatcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	disp := notifier.NewDispatcher(dc, store, senders, root, m.DispatcherHooks())
	engine := policy.New(dir)
	pipeline := notifier.NewPipeline(hub, dir, engine, disp, notifier.PipelineConfig{Buffer: cfg.Feed.PolicyBuffer}, root)
	escalator := notifier.NewEscalator(dir, engine, disp, root)

	mc, err := mapMaintenanceConfig(cfg)
	if err != nil {
		return nil, err
	}
	reaper := maintenance.NewReaper(mc, store, root)
	reaper.OnRun(m.ReaperHook())

	var sources []source.Source
	defer func() {
		if err != nil {
			for _, s := range sources {
				_ = s.Close()
			}
		}
	}()
	if rc, ok, err := mapRedisSource(cfg); err != nil {
		return nil, err
	} else if ok {
		src, err := source.NewRedisStream(rc, hub, root)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if kc, ok := mapKafkaSource(cfg); ok {
		src, err := source.NewKafka(kc, hub, root)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	ht, err := mapHTTPTimeouts(cfg)
	if err != nil {
		return nil, err
	}
	deps := httpapi.Deps{
		Auth:     identity.NewVerifier(config.Secret(cfg.HTTP.JWTSecret), cfg.HTTP.JWTIssuer),
		Live:     registry,
		Ingest:   hub,
		Log:      store,
		Resend:   disp,
		Escalate: escalator,
		Health: func(ctx context.Context) error {
			_, err := store.Stats(ctx)
			return err
		},
		WS:      wc,
		Logger:  root,
		Timeout: ht.request,
	}
	if cfg.HTTP.MetricsEnabled == nil || *cfg.HTTP.MetricsEnabled {
		deps.Metrics = m.Handler()
	}
	addr := strings.TrimSpace(cfg.HTTP.Addr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Handler:           httpapi.New(deps).Handler(),
		ReadHeaderTimeout: ht.read,
		ReadTimeout:       ht.read,
		WriteTimeout:      ht.write,
		IdleTimeout:       ht.idle,
	}

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		metrics:  m,
		store:    store,
		hub:      hub,
		dir:      dir,
		registry: registry,
		senders:  senders,
		disp:     disp,
		pipeline: pipeline,
		reaper:   reaper,
		sources:  sources,
		pprof:    pprof.New(mapPprofConfig(cfg), root),
		srv:      srv,
		addr:     addr,
	}, nil
}

// Addr is the bound listener address once started.
func (a *App) Addr() string {
	if a.ln != nil {
		return a.ln.Addr().String()
	}
	return a.addr
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

func (a *App) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.addr, err)
	}
	a.ln = ln

	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	// Consumers first so nothing published by a source is missed.
	a.disp.Start(a.sup.Context())
	a.pipeline.Start(a.sup.Context())
	for _, src := range a.sources {
		a.sup.GoRestart(src.Name(), src.Run, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	}
	if err := a.reaper.Start(); err != nil {
		a.log.Warn("reaper not started", logx.Err(err))
	}

	if err := a.pprof.Start(ctx); err != nil {
		a.log.Warn("pprof not started", logx.Err(err))
	}

	a.sup.Go("http.serve", func(c context.Context) error {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
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
				a.applyConfig(last, newCfg)
				last = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("addr", a.Addr()), logx.Int("sources", len(a.sources)))
	return nil
}

// applyConfig applies the hot-reloadable sections of newCfg.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect", logx.Strings("sections", restart))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if dc, err := mapDispatcherConfig(newCfg); err != nil {
		a.log.Warn("invalid dispatcher config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dc)
	}

	for _, snd := range buildSenders(newCfg, a.registry) {
		a.senders.Replace(snd)
	}

	if mc, err := mapMaintenanceConfig(newCfg); err != nil {
		a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
	} else {
		a.reaper.Apply(mc)
	}

	if lc, _, err := mapLiveConfig(newCfg); err == nil {
		a.registry.Apply(lc)
	}

	pctx, cancel := context.WithTimeout(a.sup.Context(), 3*time.Second)
	if err := a.pprof.Reconfigure(pctx, mapPprofConfig(newCfg)); err != nil {
		a.log.Warn("pprof reconfigure failed", logx.Err(err))
	}
	cancel()

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context so sources and loops start unwinding.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("http", 3*time.Second, a.srv.Shutdown)
	step("sources", time.Second, func(context.Context) error {
		var errs []error
		for _, s := range a.sources {
			errs = append(errs, s.Close())
		}
		return errors.Join(errs...)
	})
	step("pipeline", 2*time.Second, func(c context.Context) error { a.pipeline.Stop(c); return nil })
	// Drains queued batches; in-flight sends keep their own timeouts.
	step("dispatcher", 5*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("live", time.Second, a.registry.Close)
	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("reaper", time.Second, func(c context.Context) error { a.reaper.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}
