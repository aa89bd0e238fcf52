package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/sheetsolver/internal/logging"
	"github.com/abhisek/sheetsolver/internal/worksheet"
)

// DefaultConcurrency bounds how many problems are solved at once.
const DefaultConcurrency = 6

// DefaultStageTimeout bounds each vision or reasoning stage.
const DefaultStageTimeout = 60 * time.Second

// Extractor turns a document into problem records.
type Extractor interface {
	ExtractProblems(ctx context.Context, document []byte, filename string) ([]worksheet.ProblemRecord, error)
}

// ProblemCache remembers extraction output per document.
type ProblemCache interface {
	Load(ctx context.Context, document []byte) ([]worksheet.ProblemRecord, bool, error)
	Store(ctx context.Context, document []byte, problems []worksheet.ProblemRecord) error
}

// ProgressFunc is called once per finished problem, from the goroutine that
// solved it. done counts finished problems including this one.
type ProgressFunc func(done, total int, r worksheet.ResultRecord)

// Orchestrator solves every problem of a worksheet concurrently.
type Orchestrator struct {
	extractor   Extractor
	solver      *Solver
	cache       ProblemCache
	concurrency int
	onDone      ProgressFunc
	log         zerolog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency bounds parallel solves. n <= 0 removes the bound.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// WithCache serves extraction results from c when present.
func WithCache(c ProblemCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithProgress registers fn to be told about each finished problem.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.onDone = fn }
}

// NewOrchestrator returns an orchestrator with DefaultConcurrency.
func NewOrchestrator(extractor Extractor, solver *Solver, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		extractor:   extractor,
		solver:      solver,
		concurrency: DefaultConcurrency,
		log:         log.With().Str("component", "orchestrator").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessWorksheet extracts the problems of document and solves them. The
// result has one record per extracted problem, in extraction order. Only an
// extraction failure is returned as an error; per-problem failures are
// carried in the records.
func (o *Orchestrator) ProcessWorksheet(ctx context.Context, document []byte, filename string) ([]worksheet.ResultRecord, error) {
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	log := o.log.With().Str("run_id", runID).Str("filename", filename).Logger()
	started := time.Now()

	problems, err := o.extract(ctx, document, filename, log)
	if err != nil {
		log.Error().Err(err).Msg("orchestrator.extract.failed")
		return nil, fmt.Errorf("extract problems: %w", err)
	}
	log.Info().Int("problems", len(problems)).Int("concurrency", o.concurrency).Msg("orchestrator.solving")

	results := make([]worksheet.ResultRecord, len(problems))
	var done, failed atomic.Int64

	var g errgroup.Group
	if o.concurrency > 0 {
		g.SetLimit(o.concurrency)
	}
	for i, p := range problems {
		g.Go(func() error {
			r := o.solver.Solve(ctx, p)
			results[i] = r
			if !r.Solved() {
				failed.Add(1)
			}
			n := done.Add(1)
			if o.onDone != nil {
				o.onDone(int(n), len(problems), r)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info().
		Int("problems", len(results)).
		Int64("failed", failed.Load()).
		Dur("elapsed", time.Since(started)).
		Msg("orchestrator.done")
	return results, nil
}

func (o *Orchestrator) extract(ctx context.Context, document []byte, filename string, log zerolog.Logger) ([]worksheet.ProblemRecord, error) {
	if o.cache != nil {
		problems, ok, err := o.cache.Load(ctx, document)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("orchestrator.cache.load_failed")
		case ok:
			log.Info().Int("problems", len(problems)).Msg("orchestrator.cache.hit")
			return problems, nil
		}
	}

	problems, err := o.extractor.ExtractProblems(ctx, document, filename)
	if err != nil {
		return nil, err
	}

	if o.cache != nil {
		if err := o.cache.Store(ctx, document, problems); err != nil {
			log.Warn().Err(err).Msg("orchestrator.cache.store_failed")
		}
	}
	return problems, nil
}
