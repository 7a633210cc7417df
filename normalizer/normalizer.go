// Package normalizer turns whole-scenario event batches, which complete in
// any order, into a single stream ordered by sequence index.
package normalizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

var (
	ErrNotStarted = errors.New("normalizer not started")
	ErrFinished   = errors.New("normalizer already finished")
)

// Config contains normalizer configuration
type Config struct {
	Log   log.Logger
	Plan  *types.Plan
	Sinks []types.EventSink
	RunID string
	// MaxBuffered caps the number of completed batches held back while an
	// earlier unit is still running. Zero means unbounded.
	MaxBuffered int
	// Now is used for framing event timestamps, defaults to time.Now.
	Now func() time.Time
}

// Normalizer buffers batches keyed by sequence index and releases the
// contiguous run starting at the next expected index. Feature and Rule
// framing events are synthesized as the released stream crosses their
// boundaries.
type Normalizer struct {
	log         log.Logger
	plan        *types.Plan
	sinks       []types.EventSink
	runID       string
	maxBuffered int
	now         func() time.Time

	mu       sync.Mutex
	buffer   *treemap.Map // seq -> *types.Batch
	next     int
	changed  chan struct{}
	started  bool
	finished bool

	feature *types.Feature
	rule    *types.Rule

	summary  types.Summary
	sinkErrs []error
}

// New creates a normalizer for the given plan.
func New(cfg Config) (*Normalizer, error) {
	if cfg.Plan == nil {
		return nil, fmt.Errorf("plan is required")
	}
	if cfg.MaxBuffered < 0 {
		return nil, fmt.Errorf("max buffered batches must not be negative")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Normalizer{
		log:         cfg.Log.New("component", "normalizer"),
		plan:        cfg.Plan,
		sinks:       cfg.Sinks,
		runID:       cfg.RunID,
		maxBuffered: cfg.MaxBuffered,
		now:         cfg.Now,
		buffer:      treemap.NewWith(utils.IntComparator),
		changed:     make(chan struct{}),
	}, nil
}

// Start emits SuiteStarted.
func (n *Normalizer) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return fmt.Errorf("normalizer already started")
	}
	n.started = true
	at := n.now()
	n.summary = types.Summary{RunID: n.runID, StartedAt: at}
	n.dispatch(&types.Event{Kind: types.EventSuiteStarted, Seq: types.SuiteSeq, Time: at, RunID: n.runID})
	return nil
}

// Submit hands over a completed batch. Batches may arrive in any order;
// each sequence index must be submitted exactly once.
func (n *Normalizer) Submit(b *types.Batch) error {
	if b == nil || b.Unit == nil {
		return fmt.Errorf("batch has no unit")
	}
	if b.Finished() == nil {
		return fmt.Errorf("batch for unit %d does not end with %s", b.Unit.Seq, types.EventScenarioFinished)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case !n.started:
		return ErrNotStarted
	case n.finished:
		return ErrFinished
	}

	seq := b.Unit.Seq
	if seq < 0 || seq >= n.plan.Len() {
		return fmt.Errorf("sequence index %d out of range [0, %d)", seq, n.plan.Len())
	}
	if _, found := n.buffer.Get(seq); found || seq < n.next {
		return fmt.Errorf("duplicate batch for sequence index %d", seq)
	}

	n.buffer.Put(seq, b)
	if flushed := n.flush(); flushed > 0 {
		n.log.Trace("Flushed batches", "count", flushed, "next", n.next, "buffered", n.buffer.Size())
	} else {
		n.log.Trace("Buffered batch", "seq", seq, "next", n.next, "buffered", n.buffer.Size())
	}
	return nil
}

// WaitCapacity blocks until a batch for seq could be buffered without
// exceeding MaxBuffered. The unit holding the next expected index never
// waits, so the stream always makes progress.
func (n *Normalizer) WaitCapacity(ctx context.Context, seq int) error {
	if n.maxBuffered <= 0 {
		return nil
	}
	logged := false
	for {
		n.mu.Lock()
		if seq <= n.next || n.buffer.Size() < n.maxBuffered {
			n.mu.Unlock()
			return nil
		}
		ch := n.changed
		if !logged {
			n.log.Debug("Waiting for buffer capacity", "seq", seq, "next", n.next, "buffered", n.buffer.Size())
			logged = true
		}
		n.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Next returns the next expected sequence index.
func (n *Normalizer) Next() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.next
}

// Buffered returns the number of batches held back.
func (n *Normalizer) Buffered() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.buffer.Size()
}

// Finish closes any open frames, emits SuiteFinished, completes every sink
// and returns the summary. An error is returned when units were never
// reported or a sink failed; the summary is valid either way.
func (n *Normalizer) Finish(aborted bool) (*types.Summary, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case !n.started:
		return nil, ErrNotStarted
	case n.finished:
		return nil, ErrFinished
	}
	n.finished = true

	var errs []error
	if n.next < n.plan.Len() {
		missing := fmt.Errorf("%d of %d units never reported, stream stalled at %d",
			n.plan.Len()-n.next, n.plan.Len(), n.next)
		if k, _ := n.buffer.Min(); k != nil {
			n.log.Error("Event stream incomplete", "next", n.next, "lowestBuffered", k, "buffered", n.buffer.Size())
		}
		errs = append(errs, missing)
	}

	at := n.now()
	n.closeRule(n.next-1, at)
	n.closeFeature(n.next-1, at)

	n.summary.Aborted = aborted
	n.summary.Duration = at.Sub(n.summary.StartedAt)
	summary := n.summary
	n.dispatch(&types.Event{
		Kind:    types.EventSuiteFinished,
		Seq:     types.SuiteSeq,
		Time:    at,
		RunID:   n.runID,
		Summary: &summary,
	})

	for _, sink := range n.sinks {
		if err := sink.Complete(n.runID); err != nil {
			n.log.Error("Error completing sink", "sink", fmt.Sprintf("%T", sink), "error", err)
			n.sinkErrs = append(n.sinkErrs, err)
		}
	}
	errs = append(errs, n.sinkErrs...)
	return &summary, errors.Join(errs...)
}

// flush releases the contiguous run starting at next and wakes capacity
// waiters. Must be called with mu held.
func (n *Normalizer) flush() int {
	flushed := 0
	for {
		v, found := n.buffer.Get(n.next)
		if !found {
			break
		}
		n.buffer.Remove(n.next)
		n.release(v.(*types.Batch))
		n.next++
		flushed++
	}
	if flushed > 0 {
		close(n.changed)
		n.changed = make(chan struct{})
	}
	return flushed
}

func (n *Normalizer) release(b *types.Batch) {
	u := b.Unit
	first := b.Events[0].Time

	if u.Feature != n.feature {
		n.closeRule(u.Seq-1, first)
		n.closeFeature(u.Seq-1, first)
		n.feature = u.Feature
		n.summary.Features++
		n.dispatch(&types.Event{Kind: types.EventFeatureStarted, Seq: u.Seq, Time: first, Feature: u.Feature})
	}
	if u.Rule != n.rule {
		n.closeRule(u.Seq-1, first)
		if u.Rule != nil {
			n.rule = u.Rule
			n.summary.Rules++
			n.dispatch(&types.Event{Kind: types.EventRuleStarted, Seq: u.Seq, Time: first, Feature: u.Feature, Rule: u.Rule})
		}
	}

	for _, ev := range b.Events {
		n.account(ev)
		n.dispatch(ev)
	}

	last := b.Events[len(b.Events)-1].Time
	if u.LastInRule || u.LastInFeature {
		n.closeRule(u.Seq, last)
	}
	if u.LastInFeature {
		n.closeFeature(u.Seq, last)
	}
}

// closeRule and closeFeature end the open frame, stamped with the index of
// the last unit released inside it.
func (n *Normalizer) closeRule(seq int, at time.Time) {
	if n.rule == nil {
		return
	}
	n.dispatch(&types.Event{Kind: types.EventRuleFinished, Seq: seq, Time: at, Feature: n.feature, Rule: n.rule})
	n.rule = nil
}

func (n *Normalizer) closeFeature(seq int, at time.Time) {
	if n.feature == nil {
		return
	}
	n.dispatch(&types.Event{Kind: types.EventFeatureFinished, Seq: seq, Time: at, Feature: n.feature})
	n.feature = nil
}

func (n *Normalizer) account(ev *types.Event) {
	switch {
	case ev.Kind.IsStepTerminal():
		n.summary.Steps.Add(ev.Kind.StepStatus())
	case ev.Kind == types.EventScenarioFinished:
		n.summary.Scenarios.Add(ev.Outcome)
		if ev.RetryCount > 0 {
			n.summary.Retried++
		}
		if ev.AfterFailure != nil {
			n.summary.AfterHookFailures++
		}
	}
}

// dispatch delivers an event to every sink. A failing sink is logged and
// remembered but does not stop delivery to the others.
func (n *Normalizer) dispatch(ev *types.Event) {
	for _, sink := range n.sinks {
		if err := sink.Consume(ev); err != nil {
			n.log.Error("Error consuming event", "sink", fmt.Sprintf("%T", sink), "kind", ev.Kind, "seq", ev.Seq, "error", err)
			n.sinkErrs = append(n.sinkErrs, err)
		}
	}
}
