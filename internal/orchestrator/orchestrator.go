// Package orchestrator resolves a set of named data items for one subject concurrently.
//
// Required items run first. If any of them fails the run fails. Optional items run once all
// required items succeeded; their failures are replaced by defaults. Each call to Run starts a
// new generation, and only the current generation may change the observable state.
package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/Amund211/tickerlight/internal/domain"
	"github.com/Amund211/tickerlight/internal/logging"
	"github.com/Amund211/tickerlight/internal/reporting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type Producer func(ctx context.Context) (any, error)

// Listener receives a snapshot after every committed change.
// Listeners are called synchronously and must not call back into the Orchestrator.
type Listener func(Snapshot)

type orchestratorMetricsCollection struct {
	itemCount metric.Int64Counter
	runCount  metric.Int64Counter
}

var metrics orchestratorMetricsCollection

var tracer trace.Tracer

func init() {
	const name = "tickerlight/orchestrator"
	meter := otel.Meter(name)
	tracer = otel.Tracer(name)

	itemCount, err := meter.Int64Counter(
		"orchestrator/item_count",
		metric.WithDescription("Settled items by status"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create item count metric: %w", err))
	}

	runCount, err := meter.Int64Counter(
		"orchestrator/run_count",
		metric.WithDescription("Finished runs by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create run count metric: %w", err))
	}

	metrics = orchestratorMetricsCollection{
		itemCount: itemCount,
		runCount:  runCount,
	}
}

type Orchestrator struct {
	guard Guard

	cancelSuperseded bool

	// Guards everything below. Generation checks and commits happen under it.
	mu         sync.Mutex
	state      Snapshot
	cancelRun  context.CancelFunc
	listeners  map[int]Listener
	listenerID int
}

type Option func(*Orchestrator)

// WithCancelSuperseded controls whether starting a run cancels the context of the run it
// supersedes. Enabled by default.
func WithCancelSuperseded(enabled bool) Option {
	return func(o *Orchestrator) {
		o.cancelSuperseded = enabled
	}
}

func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cancelSuperseded: true,
		state:            Snapshot{Items: map[string]ItemState{}},
		listeners:        map[int]Listener{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Subscribe registers a listener and returns a function removing it
func (o *Orchestrator) Subscribe(listener Listener) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.listenerID
	o.listenerID++
	o.listeners[id] = listener

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.listeners, id)
	}
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

func (o *Orchestrator) CurrentGeneration() uint64 {
	return o.guard.Current()
}

func (o *Orchestrator) notifyLocked() {
	if len(o.listeners) == 0 {
		return
	}
	snapshot := o.state.clone()
	for _, listener := range o.listeners {
		listener(snapshot)
	}
}

func (o *Orchestrator) startRun(subjectKey string, required, optional map[string]Producer, cancel context.CancelFunc) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancelRun != nil && o.cancelSuperseded {
		o.cancelRun()
	}
	o.cancelRun = cancel

	generation := o.guard.StartNewRun()

	items := make(map[string]ItemState, len(required)+len(optional))
	for name := range required {
		items[name] = ItemState{Status: domain.FetchStatusPending, Required: true}
	}
	for name := range optional {
		items[name] = ItemState{Status: domain.FetchStatusPending}
	}
	o.state = Snapshot{
		Generation: generation,
		SubjectKey: subjectKey,
		Items:      items,
	}
	o.notifyLocked()

	return generation
}

// commit applies update to the item if generation is still current and the status change is
// allowed. Returns false when the update was dropped.
func (o *Orchestrator) commit(generation uint64, name string, update ItemState) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.guard.IsCurrent(generation) {
		return false
	}

	current, ok := o.state.Items[name]
	if !ok || !current.Status.CanTransitionTo(update.Status) {
		return false
	}

	update.Required = current.Required
	o.state.Items = withItem(o.state.Items, name, update)
	o.notifyLocked()
	return true
}

// withItem returns a copy of items with name set. Published snapshots share the old map.
func withItem(items map[string]ItemState, name string, state ItemState) map[string]ItemState {
	updated := maps.Clone(items)
	updated[name] = state
	return updated
}

func (o *Orchestrator) finishRun(generation uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.guard.IsCurrent(generation) {
		o.cancelRun = nil
	}
}

type outcomes struct {
	mu    sync.Mutex
	items map[string]ItemState
}

func (r *outcomes) set(name string, state ItemState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[name] = state
}

func (o *Orchestrator) runItem(ctx context.Context, generation uint64, name string, required bool, producer Producer) ItemState {
	o.commit(generation, name, ItemState{Status: domain.FetchStatusLoading})

	value, err := producer(ctx)

	var state ItemState
	switch {
	case err != nil:
		state = ItemState{Status: domain.FetchStatusError, Error: newErrorDetail(err)}
	case IsEmpty(value):
		state = ItemState{Status: domain.FetchStatusEmpty, Value: value}
	default:
		state = ItemState{Status: domain.FetchStatusSuccess, Value: value}
	}
	state.Required = required

	metrics.itemCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("item", name),
		attribute.String("status", state.Status.String()),
		attribute.Bool("required", required),
	))

	return state
}

// Run resolves the required items, then the optional items, and returns the aggregate.
//
// A failing required item fails the run with domain.ErrCoreDataUnavailable and no optional item
// is started. A failing optional item gets its value from defaults and the error is recorded.
// If another run starts before this one finishes, this one returns domain.ErrRunSuperseded.
func (o *Orchestrator) Run(ctx context.Context, subjectKey string, required, optional map[string]Producer, defaults map[string]any) (AggregateResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	generation := o.startRun(subjectKey, required, optional, cancel)
	defer o.finishRun(generation)

	ctx, span := tracer.Start(ctx, "Orchestrator.Run")
	defer span.End()
	span.SetAttributes(attribute.String("subject", subjectKey), attribute.Int64("generation", int64(generation)))

	logger := logging.FromContext(ctx).With("generation", generation, "subject", subjectKey)

	results := &outcomes{items: make(map[string]ItemState, len(required)+len(optional))}

	superseded := func() (AggregateResult, error) {
		logger.InfoContext(ctx, "Run superseded")
		metrics.runCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "superseded")))
		return AggregateResult{}, fmt.Errorf("%w: generation %d", domain.ErrRunSuperseded, generation)
	}

	// Required items. The first failure cancels the others, the run is lost anyway.
	requiredGroup, requiredCtx := errgroup.WithContext(ctx)
	for name, producer := range required {
		requiredGroup.Go(func() error {
			state := o.runItem(requiredCtx, generation, name, true, producer)
			results.set(name, state)
			o.commit(generation, name, state)
			if state.Error != nil {
				return fmt.Errorf("%s: %w", name, state.Error)
			}
			return nil
		})
	}
	requiredErr := requiredGroup.Wait()

	if !o.guard.IsCurrent(generation) {
		return superseded()
	}
	if requiredErr != nil {
		err := fmt.Errorf("%w: %w", domain.ErrCoreDataUnavailable, requiredErr)
		logger.WarnContext(ctx, "Required item failed", "error", err.Error())
		if domain.ErrorKind(requiredErr) == "unknown" {
			reporting.Report(ctx, err, map[string]string{"subject": subjectKey})
		}
		metrics.runCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "core_unavailable")))
		return AggregateResult{}, err
	}

	// Optional items. Failures never fail the run.
	var optionalGroup errgroup.Group
	for name, producer := range optional {
		optionalGroup.Go(func() error {
			state := o.runItem(ctx, generation, name, false, producer)
			if state.Error != nil {
				state.Error = newErrorDetail(fmt.Errorf("%w: %s: %w", domain.ErrOptionalDataUnavailable, name, state.Error.err))
				logger.InfoContext(ctx, "Optional item failed", "item", name, "error", state.Error.Message)
			}
			if state.Status != domain.FetchStatusSuccess {
				if fallback, ok := defaults[name]; ok {
					state.Value = fallback
				}
			}
			results.set(name, state)
			o.commit(generation, name, state)
			return nil
		})
	}
	_ = optionalGroup.Wait()

	if !o.guard.IsCurrent(generation) {
		return superseded()
	}

	metrics.runCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))

	return AggregateResult{
		Generation: generation,
		SubjectKey: subjectKey,
		Items:      results.items,
	}, nil
}
