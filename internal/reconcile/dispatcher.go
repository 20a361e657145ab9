package reconcile

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Policy decides what happens to the rest of a batch when one resource fails.
type Policy string

const (
	// FailFast stops at the first failure and returns it.
	FailFast Policy = "fail_fast"
	// ContinueOnError attempts every resource and returns all failures.
	ContinueOnError Policy = "continue_on_error"
)

// ParsePolicy validates a policy name. Empty means FailFast.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", FailFast:
		return FailFast, nil
	case ContinueOnError:
		return ContinueOnError, nil
	default:
		return "", fmt.Errorf("invalid policy %q: must be %s or %s", s, FailFast, ContinueOnError)
	}
}

// Options configures a Dispatcher.
type Options struct {
	Policy Policy
	// Workers bounds how many resources are processed at once. Values below
	// 2 mean sequential processing. Handlers must be safe for concurrent use
	// on distinct names when Workers > 1. A handler panic stops new work and
	// is re-raised from Reconcile once running resources finish.
	Workers int
	// RateLimitRPS limits handler operations per second (0 = unlimited).
	RateLimitRPS float64
	// Tracker opens lifecycle scopes. Defaults to NopTracker.
	Tracker Tracker
}

// Step is a resolved diff: the effective observed and desired state and the
// transition between them.
type Step struct {
	Name       string
	Is         State
	Should     State
	Transition Transition
}

// Dispatcher invokes one handler operation per resource diff.
type Dispatcher struct {
	handler Handler
	tracker Tracker
	policy  Policy
	workers int
	limiter *rate.Limiter
}

// NewDispatcher creates a dispatcher for the given handler.
func NewDispatcher(handler Handler, opts Options) *Dispatcher {
	d := &Dispatcher{
		handler: handler,
		tracker: opts.Tracker,
		policy:  opts.Policy,
		workers: opts.Workers,
	}
	if d.tracker == nil {
		d.tracker = NopTracker
	}
	if d.policy == "" {
		d.policy = FailFast
	}
	if d.workers < 1 {
		d.workers = 1
	}
	if opts.RateLimitRPS > 0 {
		burst := int(opts.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)
	}
	return d
}

// Reconcile converges every resource in the batch. Each diff is processed
// exactly once and invokes at most one of Create, Update or Delete.
//
// Under FailFast the first failure is returned as a *Failure and resources
// not yet started are skipped. Under ContinueOnError every resource is
// attempted and failures are returned together as a *BatchError.
func (d *Dispatcher) Reconcile(ctx context.Context, batch Batch) error {
	names := slices.Sorted(maps.Keys(batch))
	obs := newObserver(d.handler)

	log.Debug().
		Int("resources", len(names)).
		Str("policy", string(d.policy)).
		Int("workers", d.workers).
		Msg("Reconciliation started")

	var failures []*Failure
	if d.workers > 1 && len(names) > 1 {
		failures = d.reconcileParallel(ctx, obs, names, batch)
	} else {
		failures = d.reconcileSequential(ctx, obs, names, batch)
	}

	log.Debug().
		Int("failed", len(failures)).
		Int("total", len(names)).
		Msg("Reconciliation completed")

	if len(failures) == 0 {
		return nil
	}
	if d.policy == FailFast {
		return failures[0]
	}
	sort.SliceStable(failures, func(i, j int) bool {
		return failures[i].Name < failures[j].Name
	})
	return &BatchError{Failures: failures}
}

// Plan resolves every diff without invoking any handler operation or scope.
// Steps are returned sorted by name; diffs that cannot be resolved are
// reported together as a *BatchError alongside the steps that could.
func (d *Dispatcher) Plan(ctx context.Context, batch Batch) ([]Step, error) {
	names := slices.Sorted(maps.Keys(batch))
	obs := newObserver(d.handler)

	steps := make([]Step, 0, len(names))
	var failures []*Failure
	for _, name := range names {
		step, f := d.resolve(ctx, obs, name, batch[name])
		if f != nil {
			failures = append(failures, f)
			continue
		}
		steps = append(steps, step)
	}

	if len(failures) > 0 {
		return steps, &BatchError{Failures: failures}
	}
	return steps, nil
}

func (d *Dispatcher) reconcileSequential(ctx context.Context, obs *observer, names []string, batch Batch) []*Failure {
	var failures []*Failure
	for _, name := range names {
		if f := d.reconcileOne(ctx, obs, name, batch[name]); f != nil {
			failures = append(failures, f)
			if d.policy == FailFast {
				break
			}
		}
	}
	return failures
}

func (d *Dispatcher) reconcileParallel(ctx context.Context, obs *observer, names []string, batch Batch) []*Failure {
	var (
		mu       sync.Mutex
		failures []*Failure
		panicked any
		stopped  atomic.Bool
		g        errgroup.Group
	)
	g.SetLimit(d.workers)

	for _, name := range names {
		if stopped.Load() {
			break
		}
		g.Go(func() error {
			// Re-raised on the calling goroutine after Wait.
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					if panicked == nil {
						panicked = r
					}
					mu.Unlock()
					stopped.Store(true)
				}
			}()
			if stopped.Load() {
				return nil
			}
			if f := d.reconcileOne(ctx, obs, name, batch[name]); f != nil {
				mu.Lock()
				failures = append(failures, f)
				mu.Unlock()
				if d.policy == FailFast {
					stopped.Store(true)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if panicked != nil {
		panic(panicked)
	}
	return failures
}

func (d *Dispatcher) reconcileOne(ctx context.Context, obs *observer, name string, diff Diff) *Failure {
	step, f := d.resolve(ctx, obs, name, diff)
	if f != nil {
		log.Error().Err(f.Err).Str("name", name).Msg("Resolve failed")
		return f
	}

	log.Debug().
		Str("name", name).
		Str("transition", step.Transition.String()).
		Msg("Reconciling resource")

	if step.Transition == NoOp {
		return nil
	}

	op := step.Transition.String()
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return &Failure{Name: name, Transition: step.Transition, Op: op, Err: err}
		}
	}

	if err := d.apply(ctx, step); err != nil {
		log.Error().Err(err).
			Str("name", name).
			Str("transition", op).
			Msg("Reconcile failed")
		return &Failure{Name: name, Transition: step.Transition, Op: op, Err: err}
	}
	return nil
}

// resolve fills in defaults for a diff and determines its transition.
func (d *Dispatcher) resolve(ctx context.Context, obs *observer, name string, diff Diff) (Step, *Failure) {
	is := diff.Is
	if is == nil {
		found, err := obs.lookup(ctx, name)
		if err != nil {
			return Step{}, &Failure{Name: name, Op: OpGet, Err: err}
		}
		is = found
	}
	if is == nil {
		is = AbsentState(name)
	}

	should := diff.Should
	if should == nil {
		should = AbsentState(name)
	}

	if is.Presence() == PresenceUnknown {
		return Step{}, &Failure{Name: name, Err: invalidPresence("observed", is)}
	}
	if should.Presence() == PresenceUnknown {
		return Step{}, &Failure{Name: name, Err: invalidPresence("desired", should)}
	}

	return Step{
		Name:       name,
		Is:         is,
		Should:     should,
		Transition: Resolve(is.Presence(), should.Presence()),
	}, nil
}

// apply runs the handler operation inside a lifecycle scope. The scope is
// ended on every exit path, including a panicking handler.
func (d *Dispatcher) apply(ctx context.Context, step Step) (err error) {
	scope := d.tracker.Begin(ctx, step.Transition, step.Name)
	defer func() {
		if r := recover(); r != nil {
			scope.End(fmt.Errorf("panic: %v", r))
			panic(r)
		}
		scope.End(err)
	}()

	switch step.Transition {
	case Create:
		err = d.handler.Create(ctx, step.Name, step.Should)
	case Update:
		err = d.handler.Update(ctx, step.Name, step.Should)
	case Delete:
		err = d.handler.Delete(ctx, step.Name)
	}

	// Handlers may return a shared *UnimplementedError, so name a copy.
	var ue *UnimplementedError
	if errors.As(err, &ue) && ue.Handler == "" {
		named := *ue
		named.Handler = fmt.Sprintf("%T", d.handler)
		if err == error(ue) {
			return &named
		}
		return fmt.Errorf("%w: %w", &named, err)
	}
	return err
}

func invalidPresence(which string, s State) error {
	v, ok := s[AttrPresence]
	if !ok {
		return fmt.Errorf("%w: %s state has no %s attribute", ErrInvalidPresence, which, AttrPresence)
	}
	return fmt.Errorf("%w %q in %s state", ErrInvalidPresence, fmt.Sprint(v), which)
}

// observer fetches observed state from a Getter at most once per call.
type observer struct {
	getter Getter

	once   sync.Once
	states []State
	err    error
}

func newObserver(h Handler) *observer {
	g, _ := h.(Getter)
	return &observer{getter: g}
}

// lookup returns the observed state whose name matches, or nil.
func (o *observer) lookup(ctx context.Context, name string) (State, error) {
	if o.getter == nil {
		return nil, nil
	}

	o.once.Do(func() {
		o.states, o.err = o.getter.Get(ctx)
	})
	if o.err != nil {
		return nil, o.err
	}

	for _, s := range o.states {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, nil
}
