package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gofrs/flock"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"svs-converter/internal/bus"
	"svs-converter/internal/catalog"
	"svs-converter/internal/config"
	"svs-converter/internal/diagnostics"
	"svs-converter/internal/domain"
	"svs-converter/internal/engine"
	"svs-converter/internal/intake"
	"svs-converter/internal/logging"
	"svs-converter/internal/orchestrator"
	"svs-converter/internal/settings"
	"svs-converter/internal/sidecar"
	"svs-converter/internal/tasks"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// EventName is the runtime event the view listens on for feed updates.
const EventName = "converter:event"

// App wires configuration, stores, the engine and UI runtime callbacks.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	catalog  *catalog.Catalog
	tasks    *tasks.Store
	settings *settings.Store
	orch     *orchestrator.Orchestrator
	engine   *engine.Client
	sidecar  *sidecar.Supervisor
	checker  *diagnostics.Checker
	events   *tasks.EventBus
	assets   fs.FS

	// emit pushes a runtime event to the view.
	emit func(ctx context.Context, name string, data ...interface{})
	// launch starts a detached helper process such as the file manager.
	launch func(name string, args ...string) error

	closers []io.Closer

	mu          sync.Mutex
	runtimeCtx  context.Context
	cancel      context.CancelFunc
	diagnostics domain.DiagnosticReport
}

// New builds the application from the default config file.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	configPath, err := config.DefaultConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare directories: %w", err)
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dir:    cfg.Logging.Dir,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &App{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "bootstrap"),
		assets:  assets,
		emit:    wailsruntime.EventsEmit,
		launch:  startDetached,
		closers: []io.Closer{logCloser},
	}
	if err := app.wire(logger); err != nil {
		app.release()
		return nil, err
	}
	return app, nil
}

// wire builds every component on top of the loaded config.
func (a *App) wire(logger *slog.Logger) error {
	lock, err := acquireInstanceLock(a.cfg.LockPath())
	if err != nil {
		return err
	}
	a.closers = append(a.closers, lockCloser{lock})

	persist, closer, err := openSettingsStore(a.cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	plugins, err := catalog.Builtin()
	if err != nil {
		return fmt.Errorf("load plugin catalog: %w", err)
	}

	topics := bus.New()
	client := engine.NewClient(a.cfg.Engine.URL, a.cfg.RequestTimeout(), nil, logger)
	store, err := settings.New(persist, client, topics, logger)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	a.catalog = plugins
	a.tasks = tasks.NewStore()
	a.settings = store
	a.engine = client
	a.events = tasks.NewEventBus(1000)
	a.sidecar = sidecar.New(a.cfg.Engine.Command, a.cfg.Engine.Args, logger)
	a.checker = diagnostics.NewChecker(client)

	bridge := &hostBridge{app: a}
	a.orch = orchestrator.New(orchestrator.Deps{
		Tasks:             a.tasks,
		Run:               tasks.NewRun(),
		Settings:          store,
		Resolver:          intake.NewResolver(plugins),
		Engine:            client,
		Prompter:          bridge,
		Revealer:          bridge,
		Sink:              bridge,
		Topics:            topics,
		Middlewares:       plugins.Middlewares(),
		Logger:            logger,
		ProbeInterval:     a.cfg.ProbeInterval(),
		ReconnectInterval: a.cfg.ReconnectInterval(),
	})
	return nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "SVS Converter",
		Width:       1080,
		Height:      720,
		MinWidth:    880,
		MinHeight:   600,
		Frameless:   true,
		AssetServer: assetOptions,
		DragAndDrop: &options.DragAndDrop{
			EnableFileDrop:     true,
			DisableWebViewDrop: true,
		},
		OnStartup:  a.Startup,
		OnShutdown: a.Shutdown,
		Bind:       []interface{}{a},
	})
}

// Startup stores the Wails runtime context, launches the engine and starts
// consuming its events.
func (a *App) Startup(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.runtimeCtx = ctx
	a.cancel = cancel
	a.mu.Unlock()

	wailsruntime.OnFileDrop(ctx, func(_, _ int, paths []string) {
		a.orch.AddPaths(paths, true)
	})

	if err := a.sidecar.Start(runCtx); err != nil {
		a.logger.Warn("engine sidecar not started", logging.Error(err))
	}

	go func() {
		if err := a.orch.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("orchestrator stopped", logging.Error(err))
		}
	}()
	go a.runDiagnostics(runCtx)
}

// Shutdown stops the engine and releases the lock, log file and settings store.
func (a *App) Shutdown(context.Context) {
	a.mu.Lock()
	cancel := a.cancel
	a.runtimeCtx = nil
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.orch.Close()
	if err := a.sidecar.Stop(); err != nil {
		a.logger.Warn("stop engine sidecar", logging.Error(err))
	}
	a.release()
}

// release closes resources in reverse acquisition order.
func (a *App) release() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.logger != nil {
			a.logger.Warn("release resource", logging.Error(err))
		}
	}
	a.closers = nil
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// baseContext returns the context engine calls run under.
func (a *App) baseContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return context.Background()
	}
	return a.runtimeCtx
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event tasks.Event) tasks.Event {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil && a.emit != nil {
		a.emit(ctx, EventName, published)
	}
	return published
}

// openSettingsStore opens the configured settings backend. The closer is nil
// for backends holding no handle.
func openSettingsStore(cfg *config.Config) (config.Store, io.Closer, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendJSON:
		return config.NewJSONStore(cfg.SettingsPath()), nil, nil
	default:
		store, err := config.OpenSQLiteStore(cfg.SettingsPath())
		if err != nil {
			return nil, nil, fmt.Errorf("open settings store: %w", err)
		}
		return store, store, nil
	}
}

// lockCloser adapts flock release to io.Closer.
type lockCloser struct {
	lock *flock.Flock
}

func (l lockCloser) Close() error {
	return l.lock.Unlock()
}
