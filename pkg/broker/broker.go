package broker

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scientistigwe/pipelinecore/pkg/log"
	"github.com/scientistigwe/pipelinecore/pkg/metrics"
	"github.com/scientistigwe/pipelinecore/pkg/registry"
	"github.com/scientistigwe/pipelinecore/pkg/types"
)

// ErrClosed is returned by Publish once the broker has been stopped.
var ErrClosed = errors.New("broker: closed")

// ErrQueueFull is returned by Publish when the dispatch queue is at
// its high-water mark (Options.QueueDepth) and cannot accept another
// job without blocking the caller. This is a transient-error response
// (spec.md §5/§7's "Broker transient -- queue full"): callers that
// publish from inside a dispatch callback (a facade's completion
// publish, the CPM re-issuing CONTROL_POINT_REACHED) must not block,
// since every worker could be wedged waiting on its own Publish.
var ErrQueueFull = errors.New("broker: dispatch queue full")

// Subscription binds a subscribing component to a pattern and the
// callback invoked for every message whose target tag matches it.
type Subscription struct {
	Component types.ComponentIdentifier
	Pattern   string
	Callback  func(types.Message) error
}

type dispatchJob struct {
	sub *Subscription
	msg types.Message
}

// Options configures a Broker's worker pool.
type Options struct {
	// Workers is defaulted by New but not kept; the number of goroutines
	// draining the dispatch queue is the argument passed to Start.
	Workers int
	// QueueDepth bounds how many dispatch jobs may be buffered; once the
	// buffer is full, Publish does not block but returns ErrQueueFull.
	QueueDepth int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 256
	}
	return o
}

// Broker routes messages between registered components by subscription
// pattern and dispatches callbacks on a fixed worker pool.
type Broker struct {
	registry *registry.Registry
	logger   zerolog.Logger

	mu            sync.RWMutex
	registered    map[string]types.ComponentIdentifier
	activeByName  map[string][]*Subscription
	pendingByName map[string][]*Subscription
	wildcard      []*Subscription

	shutdownMu sync.RWMutex
	closed     atomic.Bool

	jobs chan dispatchJob
	wg   sync.WaitGroup
}

// New creates a Broker bound to reg for instance-id resolution. Call
// Start to launch the worker pool before publishing.
func New(reg *registry.Registry, opts Options) *Broker {
	opts = opts.withDefaults()
	return &Broker{
		registry:      reg,
		logger:        log.WithComponent("broker"),
		registered:    make(map[string]types.ComponentIdentifier),
		activeByName:  make(map[string][]*Subscription),
		pendingByName: make(map[string][]*Subscription),
		jobs:          make(chan dispatchJob, opts.QueueDepth),
	}
}

// Start launches the worker pool. Call once before the first Publish.
func (b *Broker) Start(workers int) {
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
}

// Stop refuses further Publish calls, drains in-flight dispatches, and
// joins every worker before returning.
func (b *Broker) Stop() {
	b.closed.Store(true)
	b.shutdownMu.Lock()
	close(b.jobs)
	b.shutdownMu.Unlock()
	b.wg.Wait()
}

// Register idempotently admits component into the routing table,
// resolving its stable instance id through the registry and flushing
// any subscriptions that were recorded before this call.
func (b *Broker) Register(component types.ComponentIdentifier) (types.ComponentIdentifier, error) {
	component.InstanceID = b.registry.GetID(component.Name)
	if err := validateTag(component.Tag()); err != nil {
		return component, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.registered[component.Name]; exists {
		return component, nil
	}
	b.registered[component.Name] = component

	if pending, ok := b.pendingByName[component.Name]; ok {
		b.activeByName[component.Name] = append(b.activeByName[component.Name], pending...)
		delete(b.pendingByName, component.Name)
		b.logger.Info().Str("component", component.Name).Int("flushed", len(pending)).
			Msg("flushed pending subscriptions on registration")
	}
	b.logger.Debug().Str("component", component.Name).Str("instance_id", component.InstanceID).Msg("component registered")
	return component, nil
}

// Subscribe records callback under pattern on behalf of subscriber. If
// the component named by pattern's first segment has not registered
// yet, the subscription is held pending until it does.
func (b *Broker) Subscribe(subscriber types.ComponentIdentifier, pattern string, callback func(types.Message) error) error {
	if err := validatePattern(pattern); err != nil {
		return err
	}
	if callback == nil {
		return errors.New("broker: callback must not be nil")
	}

	name := strings.SplitN(pattern, ".", 2)[0]
	sub := &Subscription{Component: subscriber, Pattern: pattern, Callback: callback}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case name == "*":
		b.wildcard = append(b.wildcard, sub)
	default:
		if _, registered := b.registered[name]; registered {
			b.activeByName[name] = append(b.activeByName[name], sub)
		} else {
			b.pendingByName[name] = append(b.pendingByName[name], sub)
		}
	}

	b.logger.Debug().Str("subscriber", subscriber.Name).Str("pattern", pattern).Msg("subscription recorded")
	return nil
}

// Publish assigns a message id, re-resolves source/target instance ids
// through the registry, and dispatches the message to every matching
// subscription on the worker pool. A message with no subscribers is
// logged and dropped; the returned id remains valid for correlation.
func (b *Broker) Publish(msg types.Message) (string, error) {
	b.shutdownMu.RLock()
	defer b.shutdownMu.RUnlock()

	if b.closed.Load() {
		return "", ErrClosed
	}

	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Source.Name != "" {
		msg.Source.InstanceID = b.registry.GetID(msg.Source.Name)
	}
	msg.Target.InstanceID = b.registry.GetID(msg.Target.Name)

	targetTag := msg.Target.Tag()
	metrics.MessagesPublished.WithLabelValues(string(msg.Type)).Inc()

	b.mu.RLock()
	candidates := make([]*Subscription, 0, len(b.activeByName[msg.Target.Name])+len(b.wildcard))
	candidates = append(candidates, b.activeByName[msg.Target.Name]...)
	candidates = append(candidates, b.wildcard...)
	b.mu.RUnlock()

	matched := 0
	rejected := 0
	for _, sub := range candidates {
		if !matchTag(sub.Pattern, targetTag) {
			continue
		}
		matched++
		select {
		case b.jobs <- dispatchJob{sub: sub, msg: msg}:
			metrics.QueueDepth.Set(float64(len(b.jobs)))
		default:
			rejected++
			metrics.MessagesRejected.WithLabelValues(string(msg.Type)).Inc()
			b.logger.Warn().Str("target_tag", targetTag).Str("message_id", msg.ID).
				Str("type", string(msg.Type)).Str("subscriber", sub.Component.Name).
				Msg("dispatch queue full, rejecting message for subscriber")
		}
	}

	if matched == 0 {
		b.logger.Warn().Str("target_tag", targetTag).Str("message_id", msg.ID).
			Str("type", string(msg.Type)).Msg("no subscribers for target, message dropped")
		return msg.ID, nil
	}

	if rejected > 0 {
		return msg.ID, ErrQueueFull
	}

	return msg.ID, nil
}

func (b *Broker) worker() {
	defer b.wg.Done()
	for job := range b.jobs {
		b.dispatch(job)
	}
}

func (b *Broker) dispatch(job dispatchJob) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CallbackErrors.WithLabelValues(job.sub.Component.Name).Inc()
			b.logger.Error().Interface("panic", r).Str("component", job.sub.Component.Name).
				Str("message_id", job.msg.ID).Msg("subscriber callback panicked")
		}
	}()

	metrics.MessagesDispatched.WithLabelValues(string(job.msg.Type)).Inc()
	b.registry.Touch(job.sub.Component.Name)

	if err := job.sub.Callback(job.msg); err != nil {
		metrics.CallbackErrors.WithLabelValues(job.sub.Component.Name).Inc()
		b.logger.Error().Err(err).Str("component", job.sub.Component.Name).
			Str("message_id", job.msg.ID).Msg("subscriber callback returned an error")
	}
}
