package main

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"

	"github.com/mrlauy/ghome-bridge/auth"
	"github.com/mrlauy/ghome-bridge/command"
	"github.com/mrlauy/ghome-bridge/config"
	"github.com/mrlauy/ghome-bridge/device"
	"github.com/mrlauy/ghome-bridge/fullfillment"
	"github.com/mrlauy/ghome-bridge/history"
	"github.com/mrlauy/ghome-bridge/homegraph"
	"github.com/mrlauy/ghome-bridge/live"
	"github.com/mrlauy/ghome-bridge/metrics"
	"github.com/mrlauy/ghome-bridge/mqtt"
	"github.com/mrlauy/ghome-bridge/operator"
	"github.com/mrlauy/ghome-bridge/report"
	"github.com/mrlauy/ghome-bridge/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		log.Error("failed to read config", "error", err)
		os.Exit(1)
	}
	config.InitLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("bridge stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("bridge stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	devices, initial, err := buildDevices(cfg.Devices)
	if err != nil {
		return err
	}

	persister, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	options := []device.Option{device.WithInitialState(initial)}
	if persister != nil {
		defer closePersister(persister)
		options = append(options, device.WithPersister(persister))
	}

	store, err := device.NewStore(ctx, devices, options...)
	if err != nil {
		return err
	}
	links := device.NewLinks(cfg.HomeGraph.AgentUserID)

	var sinkClosers closers
	sinksIdle := true
	defer func() { sinkClosers.close(sinksIdle) }()

	hub := live.NewHub()
	broadcast := report.Fanout{hub}
	var userSink report.Sink
	var syncer operator.Syncer
	if cfg.HomeGraph.CredentialsFile != "" {
		client, err := homegraph.New(ctx, cfg.HomeGraph)
		if err != nil {
			return err
		}
		userSink = client
		syncer = client
	} else {
		log.Warn("no homegraph credentials, state is not reported to google")
	}
	if cfg.Mqtt.Enabled {
		publisher, err := mqtt.NewMqtt(cfg.Mqtt)
		if err != nil {
			return err
		}
		sinkClosers = append(sinkClosers, publisher.Close)
		broadcast = append(broadcast, publisher)
	}
	if cfg.History.Enabled {
		recorder, err := history.Connect(cfg.History)
		if err != nil {
			return err
		}
		sinkClosers = append(sinkClosers, recorder.Close)
		broadcast = append(broadcast, recorder)
	}

	reporter := report.NewReporter(store, links, userSink, report.Options{
		Workers:   cfg.Report.Workers,
		Timeout:   cfg.Report.Timeout,
		Broadcast: broadcast,
	})
	reporter.Start()

	var scheduler *report.Scheduler
	if cfg.Report.Schedule != "" {
		scheduler, err = report.NewScheduler(cfg.Report.Schedule, reporter, cfg.Report.Timeout)
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	executor, err := command.NewExecutor(store, reporter)
	if err != nil {
		return err
	}

	authenticator, err := auth.NewAuth(cfg.Auth, links)
	if err != nil {
		return err
	}

	f := fullfillment.NewFullfillment(store, executor, links, fullfillment.Options{
		DefaultUser: cfg.HomeGraph.AgentUserID,
		Concurrency: cfg.Execute.Concurrency,
	})
	router := newRouter(authenticator, f, operator.New(executor, links, syncer), hub)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("start server", "address", srv.Addr, "devices", len(devices))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shut down server", "error", err)
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	sinksIdle = stopReporter(reporter, shutdownTimeout)
	return runErr
}

func newRouter(a *auth.Auth, f *fullfillment.Fullfillment, o *operator.Operator, hub *live.Hub) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer, loggingMiddleware, metrics.Middleware)

	router.Handle("/smarthome", a.ValidateToken(http.HandlerFunc(f.Handler))).Methods(http.MethodPost)
	router.Handle("/fulfillment", a.ValidateToken(http.HandlerFunc(f.Handler))).Methods(http.MethodPost)

	router.HandleFunc(auth.AuthorizePath, a.Authorize).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc(auth.LoginPath, a.Login(auth.LoginPage)).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc(auth.TokenPath, a.Token).Methods(http.MethodPost)

	o.Routes(router)

	router.Handle("/ws/state", hub).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", healthHandler).Methods(http.MethodGet)

	return router
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debug("request", "method", r.Method, "uri", r.RequestURI, "id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r)
	})
}

// buildDevices turns the configured devices into the device model and their initial state, ordered by id.
func buildDevices(configs map[string]config.DeviceConfig) ([]device.Device, map[string]device.State, error) {
	ids := make([]string, 0, len(configs))
	for id := range configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	devices := make([]device.Device, 0, len(ids))
	initial := map[string]device.State{}
	for _, id := range ids {
		cfg := configs[id]

		traits := make([]device.Trait, 0, len(cfg.Traits))
		for _, trait := range cfg.Traits {
			traits = append(traits, device.Trait(trait))
		}

		name := cfg.Name
		if name == "" {
			name = id
		}

		d := device.Device{
			ID:     id,
			Type:   cfg.Type,
			Traits: traits,
			Name: device.Name{
				Name:         name,
				DefaultNames: cfg.DefaultNames,
				Nicknames:    cfg.Nicknames,
			},
			Info: device.Info{
				Manufacturer: cfg.DeviceInfo.Manufacturer,
				Model:        cfg.DeviceInfo.Model,
				HwVersion:    cfg.DeviceInfo.HwVersion,
				SwVersion:    cfg.DeviceInfo.SwVersion,
			},
			RoomHint:        cfg.RoomHint,
			WillReportState: cfg.WillReportState,
			Attributes:      cfg.Attributes,
		}
		if err := d.Validate(); err != nil {
			return nil, nil, err
		}
		devices = append(devices, d)

		if len(cfg.State) > 0 {
			state := device.State{}
			for trait, values := range cfg.State {
				if !d.Has(device.Trait(trait)) {
					return nil, nil, fmt.Errorf("device %s has state for undeclared trait %s", id, trait)
				}
				state[device.Trait(trait)] = device.TraitState(values)
			}
			initial[id] = state
		}
	}
	return devices, initial, nil
}

type reportStopper interface {
	Stop(ctx context.Context) error
}

// stopReporter stops the reporter within its own timeout and reports whether no report is still in flight.
func stopReporter(reporter reportStopper, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := reporter.Stop(ctx); err != nil {
		log.Error("failed to stop reporter", "error", err)
		return false
	}
	return true
}

type closers []func()

// close runs the closers in reverse order. Sinks that may still be in use are left open.
func (c closers) close(idle bool) {
	if !idle {
		log.Warn("state reports still in flight, leave sinks open", "sinks", len(c))
		return
	}
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func closePersister(persister device.Persister) {
	if err := persister.Close(); err != nil {
		log.Error("failed to close state store", "error", err)
	}
}
