package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"benchflow/ctxlog"
)

// Step outcomes of an execution plan.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"   // signature still valid, nothing to do
	OutcomeFailed    = "failed"    // the command failed
	OutcomeMissing   = "missing"   // not run because an upstream step failed
	OutcomeCancelled = "cancelled" // not run because the plan was aborted
)

// errStepSkipped is returned by a step func whose result is already valid.
var errStepSkipped = errors.New("step up to date")

type stepFunc func(ctx context.Context, s *Step) error

type schedNode struct {
	step       *Step
	pending    int
	dependents []*schedNode
}

// scheduler dispatches a plan's steps onto at most `workers` concurrent jobs,
// starting a step only after every step it depends on inside the plan has
// finished.
type scheduler struct {
	plan         *Plan
	workers      int
	ignoreErrors bool
	run          stepFunc

	mu       sync.Mutex
	outcomes map[string]string
	errs     map[string]error
}

func newScheduler(plan *Plan, workers int, run stepFunc) *scheduler {
	if workers < 1 {
		workers = 1
	}
	return &scheduler{
		plan:         plan,
		workers:      workers,
		ignoreErrors: plan.IgnoreErrors,
		run:          run,
		outcomes:     make(map[string]string, len(plan.Steps)),
		errs:         make(map[string]error),
	}
}

// Run executes the plan. Without ignoreErrors the first failure cancels the
// remaining steps and is returned; with it failures are recorded and only
// their dependents are dropped.
func (s *scheduler) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	nodes := make(map[string]*schedNode, len(s.plan.Steps))
	for _, st := range s.plan.Steps {
		nodes[st.ID] = &schedNode{step: st}
	}
	for _, n := range nodes {
		for _, dep := range n.step.Depends {
			if up, ok := nodes[dep]; ok {
				n.pending++
				up.dependents = append(up.dependents, n)
			}
		}
	}

	ready := make(chan *schedNode, len(nodes))
	for _, st := range s.plan.Steps {
		if n := nodes[st.ID]; n.pending == 0 {
			ready <- n
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	var pendingMu sync.Mutex
	release := func(n *schedNode) {
		pendingMu.Lock()
		defer pendingMu.Unlock()
		for _, d := range n.dependents {
			d.pending--
			if d.pending == 0 {
				ready <- d
			}
		}
	}

	for i := 0; i < len(nodes); i++ {
		n := <-ready
		if reason, blocked := s.blocked(gctx, n); blocked {
			logger.Log(gctx, ctxlog.LevelTrace, "Step not run.", "step", n.step.ID, "module", n.step.Module, "reason", reason)
			s.record(n.step.ID, reason, nil)
			release(n)
			continue
		}

		g.Go(func() error {
			defer release(n)
			err := s.run(gctx, n.step)
			switch {
			case err == nil:
				s.record(n.step.ID, OutcomeCompleted, nil)
				return nil
			case errors.Is(err, errStepSkipped):
				s.record(n.step.ID, OutcomeSkipped, nil)
				return nil
			case gctx.Err() != nil && errors.Is(err, context.Canceled):
				s.record(n.step.ID, OutcomeCancelled, err)
				return nil
			}
			s.record(n.step.ID, OutcomeFailed, err)
			if s.ignoreErrors {
				logger.Warn("⚠️  Step failed, continuing", "step", n.step.ID, "module", n.step.Module, "error", err)
				return nil
			}
			return fmt.Errorf("%s_%s: %w", n.step.Module, n.step.ID, err)
		})
	}

	return g.Wait()
}

// blocked decides whether a ready step must be dropped instead of run.
func (s *scheduler) blocked(ctx context.Context, n *schedNode) (string, bool) {
	if ctx.Err() != nil {
		return OutcomeCancelled, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dep := range n.step.Depends {
		switch s.outcomes[dep] {
		case OutcomeFailed, OutcomeMissing:
			return OutcomeMissing, true
		case OutcomeCancelled:
			return OutcomeCancelled, true
		}
	}
	return "", false
}

func (s *scheduler) record(id, outcome string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[id] = outcome
	if err != nil {
		s.errs[id] = err
	}
}

// Outcomes returns the final outcome of every step.
func (s *scheduler) Outcomes() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.outcomes))
	for k, v := range s.outcomes {
		out[k] = v
	}
	return out
}

// Err returns the error a step ended with, if any.
func (s *scheduler) Err(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[id]
}
