package runner

import (
	"context"

	"github.com/sourcegraph/conc"
	"golang.org/x/sync/semaphore"

	"github.com/ethereum-optimism/infra/op-behave/normalizer"
	"github.com/ethereum-optimism/infra/op-behave/types"
)

// scheduler admits units from both lanes against a shared weighted
// semaphore. A concurrent unit takes one slot, a serial unit takes all of
// them. Waiters are served in FIFO order, so a serial unit waiting for the
// pool to drain blocks later concurrent units instead of starving.
type scheduler struct {
	r     *Runner
	plan  *types.Plan
	norm  *normalizer.Normalizer
	sem   *semaphore.Weighted
	slots int64
	units conc.WaitGroup
}

func newScheduler(r *Runner, plan *types.Plan, norm *normalizer.Normalizer) *scheduler {
	slots := int64(r.maxConcurrency)
	return &scheduler{
		r:     r,
		plan:  plan,
		norm:  norm,
		sem:   semaphore.NewWeighted(slots),
		slots: slots,
	}
}

// run returns once every unit of the plan has been executed or skipped and
// its batch submitted.
func (s *scheduler) run(ctx context.Context) {
	var lanes conc.WaitGroup
	lanes.Go(func() { s.serialLane(ctx, s.plan.Lane(types.LaneSerial)) })
	lanes.Go(func() { s.concurrentLane(ctx, s.plan.Lane(types.LaneConcurrent)) })
	lanes.Wait()
	s.units.Wait()
}

func (s *scheduler) serialLane(ctx context.Context, units []*types.Unit) {
	for _, u := range units {
		if !s.admit(ctx, u, s.slots) {
			s.skip(u)
			continue
		}
		s.execute(ctx, u)
		s.sem.Release(s.slots)
	}
}

func (s *scheduler) concurrentLane(ctx context.Context, units []*types.Unit) {
	for _, u := range units {
		if !s.admit(ctx, u, 1) {
			s.skip(u)
			continue
		}
		s.units.Go(func() {
			defer s.sem.Release(1)
			s.execute(ctx, u)
		})
	}
}

// admit blocks until u may start. It returns false if the run was aborted
// before a slot became available.
func (s *scheduler) admit(ctx context.Context, u *types.Unit, weight int64) bool {
	if s.stopping(ctx) {
		return false
	}
	if err := s.norm.WaitCapacity(ctx, u.Seq); err != nil {
		s.r.abort(err.Error())
		return false
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		s.r.abort(err.Error())
		return false
	}
	if s.stopping(ctx) {
		s.sem.Release(weight)
		return false
	}
	return true
}

func (s *scheduler) stopping(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		s.r.abort(err.Error())
	}
	return s.r.Aborted()
}

func (s *scheduler) execute(ctx context.Context, u *types.Unit) {
	id := u.ID()
	s.r.progress.StartScenario(id)
	b := s.r.executeUnit(ctx, u)
	finished := b.Finished()
	s.r.progress.FinishScenario(id, finished.Outcome)

	if finished.Outcome == types.StatusFailed && s.r.failFast {
		s.r.abort("fail-fast")
	}
	s.submit(b)
}

func (s *scheduler) skip(u *types.Unit) {
	s.r.log.Debug("Skipping scenario", "scenario", u.ID(), "seq", u.Seq)
	s.submit(skippedBatch(u))
}

func (s *scheduler) submit(b *types.Batch) {
	if err := s.norm.Submit(b); err != nil {
		s.r.log.Error("Failed to submit scenario events", "seq", b.Unit.Seq, "error", err)
	}
}
