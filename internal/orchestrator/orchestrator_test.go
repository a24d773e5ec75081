package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"svs-converter/internal/bus"
	"svs-converter/internal/catalog"
	"svs-converter/internal/config"
	"svs-converter/internal/domain"
	"svs-converter/internal/engine"
	"svs-converter/internal/intake"
	"svs-converter/internal/logging"
	"svs-converter/internal/settings"
	"svs-converter/internal/tasks"
)

type fakeEngine struct {
	mu        sync.Mutex
	versionFn func() (string, error)
	startFn   func(domain.BatchRequest) error
	moveFn    func(domain.MoveFileParams) error
	subFn     func(context.Context, chan<- engine.Message) error
	started   []domain.BatchRequest
	moves     []domain.MoveFileParams
}

func (f *fakeEngine) Version(context.Context) (string, error) {
	if f.versionFn == nil {
		return "1.0.0", nil
	}
	return f.versionFn()
}

func (f *fakeEngine) StartConversion(_ context.Context, req domain.BatchRequest) error {
	f.mu.Lock()
	f.started = append(f.started, req)
	f.mu.Unlock()
	if f.startFn != nil {
		return f.startFn(req)
	}
	return nil
}

func (f *fakeEngine) MoveFile(_ context.Context, params domain.MoveFileParams) error {
	f.mu.Lock()
	f.moves = append(f.moves, params)
	f.mu.Unlock()
	if f.moveFn != nil {
		return f.moveFn(params)
	}
	return nil
}

func (f *fakeEngine) Subscribe(ctx context.Context, out chan<- engine.Message) error {
	if f.subFn != nil {
		return f.subFn(ctx, out)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeEngine) moveCalls() []domain.MoveFileParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MoveFileParams(nil), f.moves...)
}

type fakePrompter struct {
	answer bool
	err    error
	asked  []string
}

func (p *fakePrompter) ConfirmOverwrite(_ context.Context, outputPath string) (bool, error) {
	p.asked = append(p.asked, outputPath)
	return p.answer, p.err
}

type fakeRevealer struct {
	paths []string
}

func (r *fakeRevealer) Reveal(path string) error {
	r.paths = append(r.paths, path)
	return nil
}

type memorySettings struct {
	settings domain.Settings
}

func (m *memorySettings) Load() (domain.Settings, error)      { return m.settings, nil }
func (m *memorySettings) Save(settings domain.Settings) error { m.settings = settings; return nil }

type fakeSchemas struct {
	mu    sync.Mutex
	calls []domain.PluginOption
}

func (f *fakeSchemas) OptionSchema(_ context.Context, option domain.PluginOption) (domain.SchemaConfig, error) {
	f.mu.Lock()
	f.calls = append(f.calls, option)
	f.mu.Unlock()
	return domain.SchemaConfig{
		JSONSchema:   domain.Options{"title": option.Identifier},
		DefaultValue: domain.Options{"lang": option.Language},
	}, nil
}

func (f *fakeSchemas) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	orch     *Orchestrator
	tasks    *tasks.Store
	settings *settings.Store
	engine   *fakeEngine
	prompter *fakePrompter
	revealer *fakeRevealer
	schemas  *fakeSchemas
	events   *tasks.EventBus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	plugins, err := catalog.Builtin()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	topics := bus.New()
	schemas := &fakeSchemas{}
	settingsStore, err := settings.New(&memorySettings{settings: config.DefaultSettings()}, schemas, topics, logging.NewNop())
	if err != nil {
		t.Fatalf("settings: %v", err)
	}

	h := &harness{
		tasks:    tasks.NewStore(),
		settings: settingsStore,
		engine:   &fakeEngine{},
		prompter: &fakePrompter{},
		revealer: &fakeRevealer{},
		schemas:  schemas,
		events:   tasks.NewEventBus(200),
	}
	h.orch = New(Deps{
		Tasks:             h.tasks,
		Settings:          settingsStore,
		Resolver:          intake.NewResolver(plugins),
		Engine:            h.engine,
		Prompter:          h.prompter,
		Revealer:          h.revealer,
		Sink:              h.events,
		Topics:            topics,
		Middlewares:       plugins.Middlewares(),
		Logger:            logging.NewNop(),
		ProbeInterval:     time.Millisecond,
		ReconnectInterval: time.Millisecond,
	})
	h.orch.async = func(fn func()) { fn() }
	return h
}

func (h *harness) ids() []string {
	var ids []string
	for _, task := range h.tasks.Tasks() {
		ids = append(ids, task.ID)
	}
	return ids
}

func progressEvent(id string, running bool, success domain.Outcome) engine.Message {
	return engine.Message{Kind: engine.KindTaskProgress, Task: domain.ConversionTask{ID: id, Running: running, Success: success}}
}

func moveResultEvent(id, outputPath string) engine.Message {
	return engine.Message{Kind: engine.KindMoveResult, Task: domain.ConversionTask{ID: id, Success: domain.OutcomeSucceeded, OutputPath: outputPath}}
}

func callbackEvent(id string, policy domain.ConflictPolicy) engine.Message {
	return engine.Message{Kind: engine.KindMoveCallback, Callback: domain.MoveCallback{ID: id, OutputPath: "/out/" + id + ".ustx", ConflictPolicy: policy}}
}

func (h *harness) startDirect(t *testing.T, files ...string) []string {
	t.Helper()
	if n := h.orch.AddPaths(files, false); n != len(files) {
		t.Fatalf("added = %d, want %d", n, len(files))
	}
	h.settings.SetOutputFormat("ustx")
	if err := h.settings.SetConversionMode(domain.ConversionModeDirect); err != nil {
		t.Fatalf("mode: %v", err)
	}
	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return h.ids()
}

// TestDirectRunCompletesAfterAllMoves walks three tasks through a run.
func TestDirectRunCompletesAfterAllMoves(t *testing.T) {
	h := newHarness(t)
	ids := h.startDirect(t, "/in/a.svp", "/in/b.svp", "/in/c.svp")
	ctx := context.Background()

	if got := h.settings.Snapshot().InputFormat; got != "svp" {
		t.Fatalf("input format = %q, want svp", got)
	}
	if h.tasks.ActiveStep() != tasks.StepRun {
		t.Fatalf("step = %d, want run", h.tasks.ActiveStep())
	}

	for _, id := range ids {
		h.orch.Handle(ctx, progressEvent(id, false, domain.OutcomeSucceeded))
	}
	moves := h.engine.moveCalls()
	if len(moves) != 3 || moves[0].ForceOverwrite {
		t.Fatalf("moves = %+v", moves)
	}
	if h.orch.Progress().Finished != 0 {
		t.Fatalf("finished = %d before move results", h.orch.Progress().Finished)
	}

	for _, id := range ids {
		h.orch.Handle(ctx, moveResultEvent(id, "/out/"+id+".ustx"))
	}
	p := h.orch.Progress()
	if p.Finished != 3 || !p.Complete {
		t.Fatalf("progress = %+v, want complete 3/3", p)
	}
	if len(h.revealer.paths) != 3 {
		t.Fatalf("revealed = %v", h.revealer.paths)
	}
	task, _ := h.tasks.Get(ids[0])
	if task.Success != domain.OutcomeSucceeded || task.OutputPath == "" || task.Running {
		t.Fatalf("task = %+v", task)
	}
}

// TestMergeRunCompletesWithSingleResult checks merged output completion.
func TestMergeRunCompletesWithSingleResult(t *testing.T) {
	h := newHarness(t)
	h.orch.AddPaths([]string{"/in/a.svp", "/in/b.svp"}, false)
	h.settings.SetOutputFormat("ustx")
	_ = h.settings.SetConversionMode(domain.ConversionModeMerge)
	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx := context.Background()
	h.orch.Handle(ctx, progressEvent("merged", false, domain.OutcomeSucceeded))
	h.orch.Handle(ctx, moveResultEvent("merged", "/out/merged.ustx"))

	p := h.orch.Progress()
	if p.Finished != 1 || p.Expected != 1 || !p.Complete {
		t.Fatalf("progress = %+v, want complete 1/1", p)
	}
}

// TestRedeliveredEventsCountOnce verifies idempotent event application.
func TestRedeliveredEventsCountOnce(t *testing.T) {
	h := newHarness(t)
	ids := h.startDirect(t, "/in/a.svp", "/in/b.svp")
	ctx := context.Background()

	h.orch.Handle(ctx, progressEvent(ids[0], false, domain.OutcomeSucceeded))
	h.orch.Handle(ctx, progressEvent(ids[0], false, domain.OutcomeSucceeded))
	h.orch.Handle(ctx, moveResultEvent(ids[0], "/out/a.ustx"))
	h.orch.Handle(ctx, moveResultEvent(ids[0], "/out/a.ustx"))

	if n := len(h.engine.moveCalls()); n != 1 {
		t.Fatalf("move calls = %d, want 1", n)
	}
	if p := h.orch.Progress(); p.Finished != 1 || p.Complete {
		t.Fatalf("progress = %+v, want 1/2", p)
	}
}

// TestFailedProgressCountsWithoutMove checks engine-reported failures.
func TestFailedProgressCountsWithoutMove(t *testing.T) {
	h := newHarness(t)
	ids := h.startDirect(t, "/in/a.svp")

	failed := progressEvent(ids[0], false, domain.OutcomeFailed)
	failed.Task.Error = "unsupported tempo map"
	h.orch.Handle(context.Background(), failed)

	if n := len(h.engine.moveCalls()); n != 0 {
		t.Fatalf("move calls = %d, want 0", n)
	}
	task, _ := h.tasks.Get(ids[0])
	if task.Success != domain.OutcomeFailed || task.Error != "unsupported tempo map" {
		t.Fatalf("task = %+v", task)
	}
	if !h.orch.Progress().Complete {
		t.Fatalf("progress = %+v, want complete", h.orch.Progress())
	}
	if !hasNotice(h.events, tasks.NoticeError, "unsupported tempo map") {
		t.Fatal("expected failure notice")
	}
}

// TestSkipCallbackResolvesWithWarning checks the skip policy.
func TestSkipCallbackResolvesWithWarning(t *testing.T) {
	h := newHarness(t)
	ids := h.startDirect(t, "/in/a.svp")
	ctx := context.Background()

	h.orch.Handle(ctx, progressEvent(ids[0], false, domain.OutcomeSucceeded))
	h.orch.Handle(ctx, callbackEvent(ids[0], domain.ConflictPolicySkip))

	task, _ := h.tasks.Get(ids[0])
	if task.Success != domain.OutcomeSucceeded || task.Warning == "" {
		t.Fatalf("task = %+v", task)
	}
	if p := h.orch.Progress(); p.Finished != 1 || !p.Complete {
		t.Fatalf("progress = %+v", p)
	}
	if n := len(h.engine.moveCalls()); n != 1 {
		t.Fatalf("move calls = %d, want only the initial move", n)
	}
	if len(h.prompter.asked) != 0 {
		t.Fatalf("prompted = %v", h.prompter.asked)
	}
}

// TestPromptDeclinedSkipsTask checks declining an overwrite.
func TestPromptDeclinedSkipsTask(t *testing.T) {
	h := newHarness(t)
	ids := h.startDirect(t, "/in/a.svp")
	ctx := context.Background()
	h.prompter.answer = false

	h.orch.Handle(ctx, progressEvent(ids[0], false, domain.OutcomeSucceeded))
	h.orch.Handle(ctx, callbackEvent(ids[0], domain.ConflictPolicyPrompt))

	if len(h.prompter.asked) != 1 || h.prompter.asked[0] != "/out/"+ids[0]+".ustx" {
		t.Fatalf("asked = %v", h.prompter.asked)
	}
	for _, move := range h.engine.moveCalls() {
		if move.ForceOverwrite {
			t.Fatalf("unexpected forced move: %+v", move)
		}
	}
	task, _ := h.tasks.Get(ids[0])
	if task.Success != domain.OutcomeSucceeded || task.Warning == "" {
		t.Fatalf("task = %+v", task)
	}
	if !h.orch.Progress().Complete {
		t.Fatalf("progress = %+v", h.orch.Progress())
	}
}

// TestPromptAcceptedForcesMove checks accepting an overwrite.
func TestPromptAcceptedForcesMove(t *testing.T) {
	h := newHarness(t)
	ids := h.startDirect(t, "/in/a.svp")
	ctx := context.Background()
	h.prompter.answer = true

	h.orch.Handle(ctx, progressEvent(ids[0], false, domain.OutcomeSucceeded))
	h.orch.Handle(ctx, callbackEvent(ids[0], domain.ConflictPolicyPrompt))

	moves := h.engine.moveCalls()
	if len(moves) != 2 || !moves[1].ForceOverwrite || moves[1].ID != ids[0] {
		t.Fatalf("moves = %+v", moves)
	}
	if h.orch.Progress().Finished != 0 {
		t.Fatal("accepted prompt should wait for the move result")
	}

	h.orch.Handle(ctx, moveResultEvent(ids[0], "/out/a.ustx"))
	if !h.orch.Progress().Complete {
		t.Fatalf("progress = %+v", h.orch.Progress())
	}
}

// TestPromptErrorCountsAsDecline checks dialog failures do not stall a run.
func TestPromptErrorCountsAsDecline(t *testing.T) {
	h := newHarness(t)
	ids := h.startDirect(t, "/in/a.svp")
	h.prompter.answer = true
	h.prompter.err = errors.New("window closed")

	h.orch.Handle(context.Background(), callbackEvent(ids[0], domain.ConflictPolicyPrompt))
	if n := len(h.engine.moveCalls()); n != 0 {
		t.Fatalf("move calls = %d, want 0", n)
	}
	if !h.orch.Progress().Complete {
		t.Fatalf("progress = %+v", h.orch.Progress())
	}
}

// TestMoveFailureFailsTask checks a rejected move request resolves the task.
func TestMoveFailureFailsTask(t *testing.T) {
	h := newHarness(t)
	h.engine.moveFn = func(domain.MoveFileParams) error { return errors.New("engine gone") }
	ids := h.startDirect(t, "/in/a.svp")

	h.orch.Handle(context.Background(), progressEvent(ids[0], false, domain.OutcomeSucceeded))

	task, _ := h.tasks.Get(ids[0])
	if task.Success != domain.OutcomeFailed || task.Error == "" {
		t.Fatalf("task = %+v", task)
	}
	if !h.orch.Progress().Complete {
		t.Fatalf("progress = %+v", h.orch.Progress())
	}
}

// TestStartGatesAndBuildsRequest checks prerequisites and the snapshot.
func TestStartGatesAndBuildsRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.orch.Start(ctx); !errors.Is(err, tasks.ErrNoTasks) {
		t.Fatalf("err = %v, want %v", err, tasks.ErrNoTasks)
	}
	h.orch.AddPaths([]string{"/in/a.svp"}, false)
	if err := h.orch.Start(ctx); !errors.Is(err, tasks.ErrNoOutputFormat) {
		t.Fatalf("err = %v, want %v", err, tasks.ErrNoOutputFormat)
	}

	h.settings.SetOutputFormat("ustx")
	h.settings.SetSelectedMiddlewares([]string{"pitch_shifter"})
	_ = h.settings.StageFormData(settings.FormInput, domain.Options{"bpm": 140.0})
	_ = h.settings.StageFormData(settings.FormMiddlewarePrefix+"pitch_shifter", domain.Options{"key": 2.0})
	_ = h.settings.SetConflictPolicy(domain.ConflictPolicyRename)

	if err := h.orch.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.orch.Start(ctx); !errors.Is(err, tasks.ErrRunInProgress) {
		t.Fatalf("err = %v, want %v", err, tasks.ErrRunInProgress)
	}

	if len(h.engine.started) != 1 {
		t.Fatalf("started = %d", len(h.engine.started))
	}
	req := h.engine.started[0]
	if req.InputFormat != "svp" || req.OutputFormat != "ustx" || req.Language != "en_US" || req.ConflictPolicy != domain.ConflictPolicyRename {
		t.Fatalf("request = %+v", req)
	}
	if req.InputOptions["bpm"] != 140.0 || req.MiddlewareOptions["pitch_shifter"]["key"] != 2.0 {
		t.Fatalf("options = %+v / %+v", req.InputOptions, req.MiddlewareOptions)
	}
	if len(req.ConversionTasks) != 1 || req.ConversionTasks[0].OutputStem != "a" {
		t.Fatalf("tasks = %+v", req.ConversionTasks)
	}
}

// TestStartFailureReturnsToIdle checks a rejected batch can be retried.
func TestStartFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.engine.startFn = func(domain.BatchRequest) error { return errors.New("busy") }
	h.orch.AddPaths([]string{"/in/a.svp"}, false)
	h.settings.SetOutputFormat("ustx")

	if err := h.orch.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if h.orch.Progress().State != tasks.RunStateIdle {
		t.Fatalf("state = %s, want idle", h.orch.Progress().State)
	}
	if h.tasks.ActiveStep() == tasks.StepRun {
		t.Fatal("wizard advanced despite failed start")
	}

	h.engine.startFn = nil
	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

// TestInputFormatChangeFiltersTasks checks the cross-store wiring.
func TestInputFormatChangeFiltersTasks(t *testing.T) {
	h := newHarness(t)
	h.orch.AddPaths([]string{"/in/a.svp", "/in/b.svp"}, false)
	h.orch.AddPaths([]string{"/in/c.ustx"}, false)

	if got := h.settings.Snapshot().InputFormat; got != "ustx" {
		t.Fatalf("input format = %q", got)
	}
	tasksLeft := h.tasks.Tasks()
	if len(tasksLeft) != 1 || tasksLeft[0].InputFormat != "ustx" {
		t.Fatalf("tasks = %+v", tasksLeft)
	}
	if h.schemas.count() == 0 {
		t.Fatal("expected input schema load")
	}
	if got := h.settings.InputForm().Schema["title"]; got != "ustx" {
		t.Fatalf("input schema = %v", got)
	}
}

// TestUnknownExtensionUsesCurrentFormat checks fallback intake.
func TestUnknownExtensionUsesCurrentFormat(t *testing.T) {
	h := newHarness(t)
	if n := h.orch.AddPaths([]string{"/in/song.dat"}, false); n != 0 {
		t.Fatalf("added = %d without a selected format", n)
	}
	h.settings.SetInputFormat("vsqx")
	if n := h.orch.AddPaths([]string{"/in/song.dat"}, false); n != 1 {
		t.Fatalf("added = %d, want 1", n)
	}
	task := h.tasks.Tasks()[0]
	if task.InputFormat != "vsqx" {
		t.Fatalf("task = %+v", task)
	}
}

// TestRemoveTaskSyncsInputFormat checks the selector follows the last task.
func TestRemoveTaskSyncsInputFormat(t *testing.T) {
	h := newHarness(t)
	h.orch.AddPaths([]string{"/in/a.ustx", "/in/b.ustx"}, false)
	ids := h.ids()

	h.orch.RemoveTask(ids[1])
	if h.tasks.Len() != 1 || h.settings.Snapshot().InputFormat != "ustx" {
		t.Fatalf("len = %d format = %q", h.tasks.Len(), h.settings.Snapshot().InputFormat)
	}
	h.orch.RemoveTask(ids[0])
	if h.tasks.Len() != 0 || h.settings.Snapshot().InputFormat != "ustx" {
		t.Fatalf("removing the last task should keep the format")
	}
}

// TestSetOutputStemAndReset covers editing and reset once the run is done.
func TestSetOutputStemAndReset(t *testing.T) {
	h := newHarness(t)
	ids := h.startDirect(t, "/in/a.svp")

	if task, ok := h.orch.SetOutputStem(ids[0], "renamed"); !ok || task.OutputStem != "renamed" {
		t.Fatalf("SetOutputStem = %+v, %v", task, ok)
	}
	if err := h.orch.Reset(); !errors.Is(err, tasks.ErrRunInProgress) {
		t.Fatalf("reset during run error = %v, want %v", err, tasks.ErrRunInProgress)
	}
	if h.tasks.Len() != 1 {
		t.Fatalf("refused reset dropped tasks: len=%d", h.tasks.Len())
	}

	h.orch.Handle(context.Background(), progressEvent(ids[0], false, domain.OutcomeFailed))
	if err := h.orch.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if h.tasks.Len() != 0 || h.orch.Progress().State != tasks.RunStateIdle || h.tasks.ActiveStep() != tasks.StepImport {
		t.Fatalf("reset left len=%d state=%s step=%d", h.tasks.Len(), h.orch.Progress().State, h.tasks.ActiveStep())
	}
}

// TestMergeRunIgnoresEventsOfEarlierBatch checks a late event from a
// finished merge batch cannot complete the next one.
func TestMergeRunIgnoresEventsOfEarlierBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	startMerge := func(files ...string) []string {
		t.Helper()
		h.orch.AddPaths(files, false)
		h.settings.SetOutputFormat("ustx")
		_ = h.settings.SetConversionMode(domain.ConversionModeMerge)
		if err := h.orch.Start(ctx); err != nil {
			t.Fatalf("start: %v", err)
		}
		return h.ids()
	}

	first := startMerge("/in/a.svp", "/in/b.svp")
	if err := h.orch.Reset(); !errors.Is(err, tasks.ErrRunInProgress) {
		t.Fatalf("reset during merge run error = %v, want %v", err, tasks.ErrRunInProgress)
	}
	h.orch.Handle(ctx, progressEvent(first[0], false, domain.OutcomeFailed))
	h.orch.Handle(ctx, progressEvent(first[1], false, domain.OutcomeFailed))
	if p := h.orch.Progress(); p.Finished != 1 || !p.Complete {
		t.Fatalf("first run progress = %+v, want complete 1/1", p)
	}
	if err := h.orch.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	second := startMerge("/in/c.svp", "/in/d.svp")
	h.orch.Handle(ctx, progressEvent(first[0], false, domain.OutcomeFailed))
	h.orch.Handle(ctx, moveResultEvent(first[1], "/out/stale.ustx"))
	if p := h.orch.Progress(); p.Finished != 0 || p.Complete {
		t.Fatalf("second run progress = %+v, want untouched", p)
	}

	h.orch.Handle(ctx, progressEvent(second[0], false, domain.OutcomeSucceeded))
	h.orch.Handle(ctx, moveResultEvent(second[0], "/out/merged.ustx"))
	if p := h.orch.Progress(); p.Finished != 1 || p.Expected != 1 || !p.Complete {
		t.Fatalf("second run progress = %+v, want complete 1/1", p)
	}
}

// TestResetForDispatchDropsRemovedTasks checks the batch never carries a
// task that left the store after it was listed.
func TestResetForDispatchDropsRemovedTasks(t *testing.T) {
	store := tasks.NewStore()
	store.AddTasks(
		domain.ConversionTask{ID: "a", InputFormat: "svp", Success: domain.OutcomeFailed, Error: "old"},
		domain.ConversionTask{ID: "b", InputFormat: "svp"},
	)
	listed := store.Tasks()
	store.RemoveTask("b")

	batch := resetForDispatch(store, listed)
	if len(batch) != 1 || batch[0].ID != "a" {
		t.Fatalf("batch = %+v, want only task a", batch)
	}
	if batch[0].Success != domain.OutcomeUnknown || batch[0].Error != "" {
		t.Fatalf("batch task = %+v, want run fields cleared", batch[0])
	}
}

// TestLanguageChangeReloadsSchemas checks re-fetch on language change.
func TestLanguageChangeReloadsSchemas(t *testing.T) {
	h := newHarness(t)
	h.settings.SetInputFormat("svp")
	h.settings.SetOutputFormat("ustx")
	before := h.schemas.count()

	h.settings.SetLanguage("zh_CN")

	plugins, _ := catalog.Builtin()
	want := before + len(plugins.Middlewares()) + 2
	if got := h.schemas.count(); got != want {
		t.Fatalf("schema calls = %d, want %d", got, want)
	}
	form, ok := h.settings.MiddlewareForm(plugins.Middlewares()[0])
	if !ok || form.FormData["lang"] != "zh_CN" {
		t.Fatalf("middleware form = %+v, %v", form, ok)
	}
}

// TestWaitForEngineRetriesUntilReady checks the version probe.
func TestWaitForEngineRetriesUntilReady(t *testing.T) {
	h := newHarness(t)
	attempts := 0
	h.engine.versionFn = func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("connection refused")
		}
		return "2.0.1", nil
	}

	version, err := h.orch.WaitForEngine(context.Background())
	if err != nil || version != "2.0.1" {
		t.Fatalf("WaitForEngine = %q, %v", version, err)
	}
	if !h.orch.Ready() || h.orch.Version() != "2.0.1" {
		t.Fatal("expected ready state")
	}
	if h.schemas.count() == 0 {
		t.Fatal("expected middleware schemas to load")
	}
	found := false
	for _, event := range h.events.Since(0) {
		if event.Type == tasks.EventTypeReady && event.Version == "2.0.1" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected ready event")
	}
}

// TestWaitForEngineStopsOnCancel checks the probe honors ctx.
func TestWaitForEngineStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.engine.versionFn = func() (string, error) { return "", errors.New("down") }
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.orch.WaitForEngine(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// TestRunAppliesStreamedEvents checks the loop with a reconnecting stream.
func TestRunAppliesStreamedEvents(t *testing.T) {
	h := newHarness(t)
	ids := h.startDirect(t, "/in/a.svp")

	var mu sync.Mutex
	connects := 0
	h.engine.subFn = func(ctx context.Context, out chan<- engine.Message) error {
		mu.Lock()
		connects++
		n := connects
		mu.Unlock()
		switch n {
		case 1:
			return errors.New("dial refused")
		case 2:
			out <- progressEvent(ids[0], false, domain.OutcomeSucceeded)
			out <- moveResultEvent(ids[0], "/out/a.ustx")
		}
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !h.orch.Progress().Complete {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("run did not complete: %+v", h.orch.Progress())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
}

func hasNotice(events *tasks.EventBus, level tasks.NoticeLevel, message string) bool {
	for _, event := range events.Since(0) {
		if event.Type == tasks.EventTypeNotice && event.Level == level && event.Message == message {
			return true
		}
	}
	return false
}
