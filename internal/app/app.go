package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vk/dapgrid/internal/assembler"
	"github.com/vk/dapgrid/internal/config"
	"github.com/vk/dapgrid/internal/contract"
	"github.com/vk/dapgrid/internal/ctxlog"
	"github.com/vk/dapgrid/internal/customer"
	"github.com/vk/dapgrid/internal/httpapi"
	"github.com/vk/dapgrid/internal/metrics"
	"github.com/vk/dapgrid/internal/modspace"
	"github.com/vk/dapgrid/internal/notify"
	"github.com/vk/dapgrid/internal/registry"
	"github.com/vk/dapgrid/internal/rules"
	"github.com/vk/dapgrid/internal/service"
)

const notifyConnectTimeout = 5 * time.Second

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW      io.Writer
	logger    *slog.Logger
	config    config.Config
	registry  *registry.Registry
	namespace *modspace.Namespace
	assembler *assembler.Assembler
	service   *service.Service
	metrics   *metrics.Metrics
	notifier  notify.Notifier
	handler   http.Handler

	closeMu sync.Mutex
	closed  bool
}

// Option customizes NewApp.
type Option func(*options)

type options struct {
	modules []registry.Module
	lookup  assembler.EntityLookup
}

// WithModules replaces the compiled-in modules.
func WithModules(modules ...registry.Module) Option {
	return func(o *options) { o.modules = modules }
}

// WithEntityLookup replaces the customer directory.
func WithEntityLookup(l assembler.EntityLookup) Option {
	return func(o *options) { o.lookup = l }
}

// NewApp is the constructor for the main application. It builds an isolated
// logger and registry, loads the model namespace and resolves the pipeline.
// Any error is fatal to startup. Duplicate registry keys panic, as they are
// programmer errors in a bundle.
func NewApp(ctx context.Context, outW io.Writer, cfg config.Config, opts ...Option) (*App, error) {
	o := options{modules: coreModules, lookup: customer.NewDirectory()}
	for _, opt := range opts {
		opt(&o)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	for _, mod := range o.modules {
		mod.Register(reg)
	}
	logger.Debug("All Go modules registered.", "count", len(o.modules))

	if err := reg.ValidateRegistry(ctx); err != nil {
		return nil, err
	}
	logger.Debug("Registry validation passed.")

	ctx = modspace.WithNamespace(ctx, modspace.NewHost(reg))
	locations, err := modspace.BuildLocations(ctx, cfg.ModulesPaths)
	if err != nil {
		return nil, err
	}
	ns, err := modspace.Initialize(ctx, locations, modspace.Current(ctx), reg)
	if err != nil {
		return nil, err
	}

	a := &App{
		outW:      outW,
		logger:    logger,
		config:    cfg,
		registry:  reg,
		namespace: ns,
		metrics:   metrics.New(),
		notifier:  notify.Nop{},
	}
	if err := a.wire(ctx, o.lookup); err != nil {
		_ = ns.Release()
		return nil, err
	}

	logger.Info("Application initialized.",
		"namespace", ns.ID(),
		"symbols", len(ns.Names()),
		"pipeline", a.assembler.Pipeline().Name,
	)
	return a, nil
}

// wire builds everything that depends on the loaded namespace.
func (a *App) wire(ctx context.Context, lookup assembler.EntityLookup) error {
	validator, err := contract.Load(ctx, a.config.ContractPath)
	if err != nil {
		return err
	}

	p, err := a.namespace.Pipeline(a.config.Pipeline)
	if err != nil {
		return err
	}
	engine, err := rules.New(a.namespace, rules.WithOperation(p.SetDecision))
	if err != nil {
		return err
	}

	a.assembler, err = assembler.New(ctx, a.namespace, lookup, engine,
		assembler.WithPipeline(p.Name),
		assembler.WithLookupTimeout(a.config.LookupTimeout),
		assembler.WithRulesTimeout(a.config.RulesTimeout),
	)
	if err != nil {
		return err
	}

	if a.config.NotifyURL != "" {
		n, err := notify.Dial(ctx, a.config.NotifyURL, notify.Options{ConnectTimeout: notifyConnectTimeout})
		if err != nil {
			// Notifications are best effort; the service runs without them.
			a.logger.Warn("Decision notifier unavailable, continuing without it.", "error", err)
		} else {
			a.notifier = n
		}
	}

	a.service = service.New(validator, a.assembler,
		service.WithNotifier(a.notifier),
		service.WithNotifyTimeout(a.config.NotifyTimeout),
		service.WithMetrics(a.metrics),
	)

	a.handler = httpapi.NewRouter(ctx, httpapi.Config{
		Service:        a.service,
		Namespace:      a.namespace,
		Pipeline:       a.assembler,
		Contract:       validator,
		Metrics:        a.metrics,
		RateLimitRPS:   a.config.RateLimitRPS,
		RateLimitBurst: a.config.RateLimitBurst,
	})
	return nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Namespace returns the loaded model namespace.
func (a *App) Namespace() *modspace.Namespace {
	return a.namespace
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Close drains in-flight submissions, then releases the namespace and
// disconnects the notifier. If the drain does not finish before ctx ends the
// namespace stays open and the error is returned; Close may be called again
// once the remaining submissions are done. After a successful close later
// calls return nil.
func (a *App) Close(ctx context.Context) error {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()
	if a.closed {
		return nil
	}

	if err := a.service.Drain(ctx); err != nil {
		a.logger.Error("In-flight submissions did not finish, namespace kept open.", "error", err)
		return fmt.Errorf("drain submissions: %w", err)
	}
	a.closed = true

	var errs []error
	if err := a.namespace.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release namespace: %w", err))
	}
	if err := a.notifier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close notifier: %w", err))
	}
	a.logger.Info("Application closed.", "namespace", a.namespace.ID())
	return errors.Join(errs...)
}
