package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/abhisek/sheetsolver/internal/worksheet"
)

type visionFunc func(ctx context.Context, p worksheet.ProblemRecord) (worksheet.VisualContext, error)

func (f visionFunc) ExtractVisualContext(ctx context.Context, p worksheet.ProblemRecord) (worksheet.VisualContext, error) {
	return f(ctx, p)
}

type reasoningFunc func(ctx context.Context, p worksheet.ProblemRecord, visual *worksheet.VisualContext) (worksheet.Solution, error)

func (f reasoningFunc) SolveProblem(ctx context.Context, p worksheet.ProblemRecord, visual *worksheet.VisualContext) (worksheet.Solution, error) {
	return f(ctx, p, visual)
}

type staticExtractor struct {
	problems []worksheet.ProblemRecord
	err      error
	calls    atomic.Int32
}

func (e *staticExtractor) ExtractProblems(context.Context, []byte, string) ([]worksheet.ProblemRecord, error) {
	e.calls.Add(1)
	return e.problems, e.err
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]worksheet.ProblemRecord
	loadErr error
	stores  int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]worksheet.ProblemRecord{}}
}

func (c *memoryCache) Load(_ context.Context, document []byte) ([]worksheet.ProblemRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadErr != nil {
		return nil, false, c.loadErr
	}
	p, ok := c.entries[string(document)]
	return p, ok, nil
}

func (c *memoryCache) Store(_ context.Context, document []byte, problems []worksheet.ProblemRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores++
	c.entries[string(document)] = problems
	return nil
}

// echoReasoning answers every problem with its own text.
func echoReasoning() reasoningFunc {
	return func(_ context.Context, p worksheet.ProblemRecord, _ *worksheet.VisualContext) (worksheet.Solution, error) {
		return worksheet.Solution{Answer: "answer: " + p.Text, Explanation: "because"}, nil
	}
}
