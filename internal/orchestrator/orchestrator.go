// Package orchestrator bridges view actions to the conversion engine and
// reconciles the engine's pushed events into the task store.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"svs-converter/internal/bus"
	"svs-converter/internal/domain"
	"svs-converter/internal/engine"
	"svs-converter/internal/intake"
	"svs-converter/internal/logging"
	"svs-converter/internal/settings"
	"svs-converter/internal/tasks"
)

const (
	defaultProbeInterval     = 2 * time.Second
	defaultReconnectInterval = 2 * time.Second
	messageBuffer            = 64
)

// Engine is the subset of the engine client the orchestrator drives.
type Engine interface {
	Version(ctx context.Context) (string, error)
	StartConversion(ctx context.Context, req domain.BatchRequest) error
	MoveFile(ctx context.Context, params domain.MoveFileParams) error
	Subscribe(ctx context.Context, out chan<- engine.Message) error
}

// Prompter asks the user whether an existing output may be overwritten.
type Prompter interface {
	ConfirmOverwrite(ctx context.Context, outputPath string) (bool, error)
}

// Revealer shows a produced file in the platform file manager.
type Revealer interface {
	Reveal(path string) error
}

// Sink receives view events.
type Sink interface {
	Publish(event tasks.Event) tasks.Event
}

// Deps wires an Orchestrator.
type Deps struct {
	Tasks             *tasks.Store
	Run               *tasks.Run
	Settings          *settings.Store
	Resolver          *intake.Resolver
	Engine            Engine
	Prompter          Prompter
	Revealer          Revealer
	Sink              Sink
	Topics            *bus.Bus
	Middlewares       []string
	Logger            *slog.Logger
	ProbeInterval     time.Duration
	ReconnectInterval time.Duration
}

// Orchestrator owns the conversion run lifecycle.
type Orchestrator struct {
	tasks       *tasks.Store
	run         *tasks.Run
	settings    *settings.Store
	resolver    *intake.Resolver
	engine      Engine
	prompter    Prompter
	revealer    Revealer
	sink        Sink
	middlewares []string
	logger      *slog.Logger

	probeInterval     time.Duration
	reconnectInterval time.Duration

	// async runs engine round-trips and prompts off the caller's goroutine.
	async func(func())

	mu      sync.RWMutex
	version string

	unsubscribe []func()
}

// New creates an orchestrator and subscribes it to settings topics.
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		tasks:             deps.Tasks,
		run:               deps.Run,
		settings:          deps.Settings,
		resolver:          deps.Resolver,
		engine:            deps.Engine,
		prompter:          deps.Prompter,
		revealer:          deps.Revealer,
		sink:              deps.Sink,
		middlewares:       append([]string(nil), deps.Middlewares...),
		logger:            logging.NewComponentLogger(deps.Logger, "orchestrator"),
		probeInterval:     deps.ProbeInterval,
		reconnectInterval: deps.ReconnectInterval,
		async:             func(fn func()) { go fn() },
	}
	if o.run == nil {
		o.run = tasks.NewRun()
	}
	if o.sink == nil {
		o.sink = tasks.NewEventBus(0)
	}
	if o.probeInterval <= 0 {
		o.probeInterval = defaultProbeInterval
	}
	if o.reconnectInterval <= 0 {
		o.reconnectInterval = defaultReconnectInterval
	}
	if deps.Topics != nil {
		o.unsubscribe = []func(){
			deps.Topics.Subscribe(bus.TopicInputFormatChanged, o.onInputFormatChanged),
			deps.Topics.Subscribe(bus.TopicOutputFormatChanged, o.onOutputFormatChanged),
			deps.Topics.Subscribe(bus.TopicLanguageChanged, o.onLanguageChanged),
		}
	}
	return o
}

// Close detaches the orchestrator from settings topics.
func (o *Orchestrator) Close() {
	for _, fn := range o.unsubscribe {
		fn()
	}
	o.unsubscribe = nil
}

// Version returns the engine version once the probe succeeded.
func (o *Orchestrator) Version() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.version
}

// Ready reports whether the engine answered the version probe.
func (o *Orchestrator) Ready() bool {
	return o.Version() != ""
}

// Progress returns the current run snapshot.
func (o *Orchestrator) Progress() tasks.Progress {
	return o.run.Progress()
}

// Run probes the engine, keeps the event stream connected and applies
// pushed events in arrival order until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	msgs := make(chan engine.Message, messageBuffer)
	go o.stream(ctx, msgs)
	go func() {
		if _, err := o.WaitForEngine(ctx); err != nil && ctx.Err() == nil {
			o.logger.Warn("engine probe stopped", logging.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			o.Handle(ctx, msg)
		}
	}
}

// stream reconnects the engine event stream after every disconnect.
func (o *Orchestrator) stream(ctx context.Context, msgs chan<- engine.Message) {
	for {
		err := o.engine.Subscribe(ctx, msgs)
		if ctx.Err() != nil {
			return
		}
		o.logger.Debug("engine event stream lost", logging.Error(err))
		if !sleep(ctx, o.reconnectInterval) {
			return
		}
	}
}

// WaitForEngine polls the engine version until it answers, then loads the
// option schemas for the current selection and announces readiness.
func (o *Orchestrator) WaitForEngine(ctx context.Context) (string, error) {
	for {
		version, err := o.engine.Version(ctx)
		if err == nil {
			o.mu.Lock()
			o.version = version
			o.mu.Unlock()

			o.logger.Info("engine ready", logging.String("version", version))
			o.loadSchemas(ctx, o.settings.Snapshot())
			o.sink.Publish(tasks.Event{Type: tasks.EventTypeReady, Version: version})
			return version, nil
		}
		o.logger.Debug("engine not ready", logging.Error(err))
		if !sleep(ctx, o.probeInterval) {
			return "", ctx.Err()
		}
	}
}

func (o *Orchestrator) loadSchemas(ctx context.Context, current domain.Settings) {
	for _, id := range o.middlewares {
		_ = o.settings.LoadMiddlewareSchema(ctx, id, current.Language)
	}
	if current.InputFormat != "" {
		_ = o.settings.LoadInputFormatSchema(ctx, current.InputFormat, current.Language)
	}
	if current.OutputFormat != "" {
		_ = o.settings.LoadOutputFormatSchema(ctx, current.OutputFormat, current.Language)
	}
}

func (o *Orchestrator) onInputFormatChanged(change bus.Change) {
	o.tasks.SetActiveStep(tasks.StepImport)
	if change.New == "" {
		return
	}
	o.tasks.FilterByInputFormat(change.New)
	o.publishList()

	lang := o.settings.Snapshot().Language
	o.async(func() {
		_ = o.settings.LoadInputFormatSchema(context.Background(), change.New, lang)
	})
}

func (o *Orchestrator) onOutputFormatChanged(change bus.Change) {
	if change.New == "" {
		return
	}
	lang := o.settings.Snapshot().Language
	o.async(func() {
		_ = o.settings.LoadOutputFormatSchema(context.Background(), change.New, lang)
	})
}

func (o *Orchestrator) onLanguageChanged(bus.Change) {
	current := o.settings.Snapshot()
	o.async(func() {
		o.loadSchemas(context.Background(), current)
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
