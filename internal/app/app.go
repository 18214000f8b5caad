package app

import (
	"context"
	"time"

	"github.com/aquamarinepk/aqm"
	aqmevents "github.com/aquamarinepk/aqm/events"
	"github.com/aquamarinepk/aqm/middleware"

	"github.com/syncstayai/syncstay-app-main/internal/gateway"
	"github.com/syncstayai/syncstay-app-main/internal/hub"
	"github.com/syncstayai/syncstay-app-main/pkg"
)

const (
	AppName    = "syncstay"
	AppVersion = "0.1.0"
)

// App encapsulates the order hub application.
type App struct {
	config *aqm.Config
	logger aqm.Logger
	micro  *aqm.Micro
}

func New(config *aqm.Config, logger aqm.Logger) (*App, error) {
	return &App{
		config: config,
		logger: logger,
	}, nil
}

// Initialize sets up all dependencies and components.
func (a *App) Initialize(ctx context.Context) error {
	store := hub.NewOrderStore(a.logger)
	timers := hub.NewTimerRegistry(a.logger)

	// NATS is optional: the hub is self-sufficient, the mirror only
	// exists for other services that want to follow along.
	var publisher aqmevents.Publisher
	var natsPub *pkg.NATSPublisher
	natsURL, _ := a.config.GetString("nats.url")
	if natsURL != "" {
		var err error
		natsPub, err = pkg.NewNATSPublisher(natsURL)
		if err != nil {
			a.logger.Errorf("Cannot connect to NATS, event mirror disabled: %v", err)
		} else {
			publisher = natsPub
			a.logger.Info("NATS event mirror enabled", "url", natsURL)
		}
	}

	dispatcher := hub.NewDispatcher(publisher, a.logger)
	engine := hub.NewEngine(store, timers, dispatcher, a.engineConfig(), a.logger)
	handler := gateway.NewHandler(engine, dispatcher, a.config, a.logger)

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger: a.logger,
	})

	lifecycles := []interface{}{engine}
	if natsPub != nil {
		lifecycles = append(lifecycles, aqm.LifecycleHooks{
			OnStop: func(context.Context) error { return natsPub.Close() },
		})
	}

	options := []aqm.Option{
		aqm.WithConfig(a.config),
		aqm.WithLogger(a.logger),
		aqm.WithHTTPMiddleware(stack...),
		aqm.WithHTTPServerModules("web.port", handler),
		aqm.WithLifecycle(lifecycles...),
		aqm.WithHealthChecks(AppName),
	}

	a.micro = aqm.NewMicro(options...)
	return nil
}

// Run starts the application.
func (a *App) Run(ctx context.Context) error {
	a.logger.Infof("Starting %s(%s)", AppName, AppVersion)
	if err := a.micro.Run(ctx); err != nil {
		return err
	}
	a.logger.Infof("%s(%s) stopped", AppName, AppVersion)
	return nil
}

func (a *App) engineConfig() hub.EngineConfig {
	cfg := hub.DefaultEngineConfig()
	cfg.CancelWindow = a.duration("hub.cancel_window", cfg.CancelWindow)
	cfg.AutoCookDelay = a.duration("hub.autocook_delay", cfg.AutoCookDelay)
	cfg.RemovalGrace = a.duration("hub.removal_grace", cfg.RemovalGrace)
	cfg.StaleAfter = a.duration("hub.stale_after", cfg.StaleAfter)
	cfg.SweepEvery = a.duration("hub.sweep_every", cfg.SweepEvery)
	return cfg
}

func (a *App) duration(key string, def time.Duration) time.Duration {
	raw, _ := a.config.GetString(key)
	if raw == "" {
		return def
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		a.logger.Errorf("Invalid duration for %s: %v, using %s", key, err, def)
		return def
	}
	return parsed
}
