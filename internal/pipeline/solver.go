// Package pipeline runs worksheets through extraction, optional diagram
// interpretation and reasoning.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhisek/sheetsolver/internal/fault"
	"github.com/abhisek/sheetsolver/internal/logging"
	"github.com/abhisek/sheetsolver/internal/resilience"
	"github.com/abhisek/sheetsolver/internal/worksheet"
)

// State is a step of one problem's solve.
type State string

const (
	StateStart            State = "start"
	StateRouting          State = "routing"
	StateVisionPending    State = "vision_pending"
	StateVisionDone       State = "vision_done"
	StateNoVision         State = "no_vision"
	StateReasoningPending State = "reasoning_pending"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// VisionService describes a problem's diagram.
type VisionService interface {
	ExtractVisualContext(ctx context.Context, p worksheet.ProblemRecord) (worksheet.VisualContext, error)
}

// ReasoningService solves a problem, optionally with its diagram description.
type ReasoningService interface {
	SolveProblem(ctx context.Context, p worksheet.ProblemRecord, visual *worksheet.VisualContext) (worksheet.Solution, error)
}

// TransitionFunc observes solver state changes. It may be called from many
// goroutines at once.
type TransitionFunc func(index int, from, to State)

// Solver takes one problem from routing to a result record. Every stage runs
// under the stage timeout, and any failure becomes an error record: Solve
// never returns an error.
type Solver struct {
	vision       VisionService
	reasoning    ReasoningService
	stageTimeout time.Duration
	onTransition TransitionFunc
	log          zerolog.Logger
}

// NewSolver returns a solver. vision may be nil when no vision model is
// configured; problems that need it then fail with MissingConfiguration.
func NewSolver(vision VisionService, reasoning ReasoningService, stageTimeout time.Duration, log zerolog.Logger) *Solver {
	return &Solver{
		vision:       vision,
		reasoning:    reasoning,
		stageTimeout: stageTimeout,
		log:          log.With().Str("component", "solver").Logger(),
	}
}

// OnTransition registers fn to observe state changes.
func (s *Solver) OnTransition(fn TransitionFunc) {
	s.onTransition = fn
}

// Solve runs p through the pipeline.
func (s *Solver) Solve(ctx context.Context, p worksheet.ProblemRecord) worksheet.ResultRecord {
	log := s.log.With().Str("run_id", logging.RunID(ctx)).Int("index", p.Index).Int("page", p.Page).Logger()
	started := time.Now()

	state := StateStart
	move := func(to State) {
		log.Debug().Str("from", string(state)).Str("to", string(to)).Msg("solver.transition")
		if s.onTransition != nil {
			s.onTransition(p.Index, state, to)
		}
		state = to
	}
	fail := func(stage string, err error) worksheet.ResultRecord {
		err = stageError(stage, err)
		log.Warn().Err(err).Str("stage", stage).Msg("solver.stage.failed")
		move(StateFailed)
		return worksheet.Failed(p, err)
	}

	move(StateRouting)

	var visual *worksheet.VisualContext
	if worksheet.NeedsVision(p) {
		move(StateVisionPending)
		if s.vision == nil {
			return fail("vision", fault.New(fault.MissingConfiguration, "vision", "no vision model configured"))
		}
		vc, err := resilience.WithTimeout(ctx, s.stageTimeout, func(ctx context.Context) (worksheet.VisualContext, error) {
			return s.vision.ExtractVisualContext(ctx, p)
		})
		if err != nil {
			return fail("vision", err)
		}
		visual = &vc
		move(StateVisionDone)
	} else {
		move(StateNoVision)
	}

	move(StateReasoningPending)
	if s.reasoning == nil {
		return fail("reasoning", fault.New(fault.MissingConfiguration, "reasoning", "no reasoning model configured"))
	}
	sol, err := resilience.WithTimeout(ctx, s.stageTimeout, func(ctx context.Context) (worksheet.Solution, error) {
		return s.reasoning.SolveProblem(ctx, p, visual)
	})
	if err != nil {
		return fail("reasoning", err)
	}

	move(StateDone)
	log.Debug().
		Bool("vision", visual != nil).
		Bool("raw_answer", sol.Raw).
		Dur("elapsed", time.Since(started)).
		Msg("solver.done")
	return worksheet.Solved(p, visual, sol)
}

// stageError names the stage on timeouts, which carry no operation.
func stageError(stage string, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Kind == fault.Timeout && fe.Op == "" {
		return &fault.Error{Kind: fault.Timeout, Op: "solver." + stage, Err: fe.Err}
	}
	return err
}
