package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/sheetsolver/internal/fault"
	"github.com/abhisek/sheetsolver/internal/llm"
	"github.com/abhisek/sheetsolver/internal/reasoning"
	"github.com/abhisek/sheetsolver/internal/vision"
	"github.com/abhisek/sheetsolver/internal/worksheet"
)

func threeProblemsTwoPages() []worksheet.ProblemRecord {
	return []worksheet.ProblemRecord{
		{Page: 1, Index: 0, Text: "Simplify 6/8"},
		{Page: 1, Index: 1, Text: "Find the area", Diagrams: []string{"https://cdn.example.com/tri.png"}},
		{Page: 2, Index: 2, Text: "Solve 2x+3=11"},
	}
}

func TestProcessWorksheet_ThreeProblemsTwoPages(t *testing.T) {
	ex := &staticExtractor{problems: threeProblemsTwoPages()}

	var visionCalls atomic.Int32
	vis := visionFunc(func(_ context.Context, p worksheet.ProblemRecord) (worksheet.VisualContext, error) {
		visionCalls.Add(1)
		assert.Equal(t, 1, p.Index)
		return "right triangle, base 4, height 3", nil
	})
	// Earlier problems finish last.
	reason := reasoningFunc(func(_ context.Context, p worksheet.ProblemRecord, v *worksheet.VisualContext) (worksheet.Solution, error) {
		time.Sleep(time.Duration(3-p.Index) * 15 * time.Millisecond)
		answers := map[int]string{0: "3/4", 1: "6", 2: "x = 4"}
		return worksheet.Solution{Answer: answers[p.Index], Explanation: "worked"}, nil
	})

	var finished, counts []int
	var mu sync.Mutex
	o := NewOrchestrator(ex, NewSolver(vis, reason, time.Second, zerolog.Nop()), zerolog.Nop(),
		WithProgress(func(done, total int, r worksheet.ResultRecord) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 3, total)
			finished = append(finished, r.Index)
			counts = append(counts, done)
		}))

	results, err := o.ProcessWorksheet(context.Background(), []byte("doc"), "ws.pdf")
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.True(t, r.Solved(), "problem %d", i)
	}
	assert.Equal(t, []int{1, 1, 2}, []int{results[0].Page, results[1].Page, results[2].Page})
	assert.Equal(t, "3/4", *results[0].Answer)
	assert.Equal(t, "6", *results[1].Answer)
	assert.Equal(t, "x = 4", *results[2].Answer)

	assert.Nil(t, results[0].VisualContext)
	require.NotNil(t, results[1].VisualContext)
	assert.Equal(t, "right triangle, base 4, height 3", *results[1].VisualContext)
	assert.Nil(t, results[2].VisualContext)
	assert.EqualValues(t, 1, visionCalls.Load())

	assert.ElementsMatch(t, []int{0, 1, 2}, finished)
	assert.ElementsMatch(t, []int{1, 2, 3}, counts)
}

func TestProcessWorksheet_OneFailureDoesNotAffectOthers(t *testing.T) {
	ex := &staticExtractor{problems: threeProblemsTwoPages()}
	vis := visionFunc(func(context.Context, worksheet.ProblemRecord) (worksheet.VisualContext, error) {
		return "", errors.New("vision.extract: diagram unreadable")
	})
	o := NewOrchestrator(ex, NewSolver(vis, echoReasoning(), time.Second, zerolog.Nop()), zerolog.Nop())

	results, err := o.ProcessWorksheet(context.Background(), []byte("doc"), "ws.pdf")
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Solved())
	assert.True(t, results[2].Solved())

	failed := results[1]
	assert.Nil(t, failed.Answer)
	assert.Nil(t, failed.Explanation)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "vision.extract: diagram unreadable", *failed.Error)
}

func TestProcessWorksheet_ExtractionFailureAborts(t *testing.T) {
	ex := &staticExtractor{err: fault.New(fault.UpstreamTimeout, "extraction.poll", "still pending")}
	var solved atomic.Int32
	reason := reasoningFunc(func(context.Context, worksheet.ProblemRecord, *worksheet.VisualContext) (worksheet.Solution, error) {
		solved.Add(1)
		return worksheet.Solution{}, nil
	})
	o := NewOrchestrator(ex, NewSolver(nil, reason, time.Second, zerolog.Nop()), zerolog.Nop())

	results, err := o.ProcessWorksheet(context.Background(), []byte("doc"), "ws.pdf")
	require.Error(t, err)
	assert.Nil(t, results)
	assert.Equal(t, fault.UpstreamTimeout, fault.KindOf(err))
	assert.Zero(t, solved.Load())
}

func TestProcessWorksheet_EmptyWorksheet(t *testing.T) {
	o := NewOrchestrator(&staticExtractor{}, NewSolver(nil, echoReasoning(), time.Second, zerolog.Nop()), zerolog.Nop())
	results, err := o.ProcessWorksheet(context.Background(), []byte("doc"), "blank.pdf")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func manyProblems(n int) []worksheet.ProblemRecord {
	out := make([]worksheet.ProblemRecord, n)
	for i := range out {
		out[i] = worksheet.ProblemRecord{Page: 1 + i/4, Index: i, Text: "p"}
	}
	return out
}

func TestProcessWorksheet_ConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	reason := reasoningFunc(func(_ context.Context, p worksheet.ProblemRecord, _ *worksheet.VisualContext) (worksheet.Solution, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return worksheet.Solution{Answer: "ok"}, nil
	})

	o := NewOrchestrator(&staticExtractor{problems: manyProblems(12)}, NewSolver(nil, reason, time.Second, zerolog.Nop()), zerolog.Nop(),
		WithConcurrency(2))
	results, err := o.ProcessWorksheet(context.Background(), []byte("doc"), "ws.pdf")
	require.NoError(t, err)
	assert.Len(t, results, 12)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestProcessWorksheet_UnboundedConcurrency(t *testing.T) {
	const n = 10
	var arrived sync.WaitGroup
	arrived.Add(n)
	release := make(chan struct{})
	go func() {
		arrived.Wait()
		close(release)
	}()

	reason := reasoningFunc(func(ctx context.Context, _ worksheet.ProblemRecord, _ *worksheet.VisualContext) (worksheet.Solution, error) {
		arrived.Done()
		select {
		case <-release:
			return worksheet.Solution{Answer: "ok"}, nil
		case <-ctx.Done():
			return worksheet.Solution{}, ctx.Err()
		}
	})

	// Every solve must be in flight at once for any of them to finish.
	o := NewOrchestrator(&staticExtractor{problems: manyProblems(n)}, NewSolver(nil, reason, 2*time.Second, zerolog.Nop()), zerolog.Nop(),
		WithConcurrency(0))
	results, err := o.ProcessWorksheet(context.Background(), []byte("doc"), "ws.pdf")
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Solved())
	}
}

func TestProcessWorksheet_CacheFirst(t *testing.T) {
	cache := newMemoryCache()
	ex := &staticExtractor{problems: threeProblemsTwoPages()}
	vis := visionFunc(func(context.Context, worksheet.ProblemRecord) (worksheet.VisualContext, error) {
		return "shape", nil
	})
	o := NewOrchestrator(ex, NewSolver(vis, echoReasoning(), time.Second, zerolog.Nop()), zerolog.Nop(), WithCache(cache))

	_, err := o.ProcessWorksheet(context.Background(), []byte("doc"), "ws.pdf")
	require.NoError(t, err)
	results, err := o.ProcessWorksheet(context.Background(), []byte("doc"), "ws.pdf")
	require.NoError(t, err)

	assert.Len(t, results, 3)
	assert.EqualValues(t, 1, ex.calls.Load())
	assert.Equal(t, 1, cache.stores)
}

func TestProcessWorksheet_CacheErrorFallsBackToExtraction(t *testing.T) {
	cache := newMemoryCache()
	cache.loadErr = errors.New("redis: connection refused")
	ex := &staticExtractor{problems: manyProblems(2)}
	o := NewOrchestrator(ex, NewSolver(nil, echoReasoning(), time.Second, zerolog.Nop()), zerolog.Nop(), WithCache(cache))

	results, err := o.ProcessWorksheet(context.Background(), []byte("doc"), "ws.pdf")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.EqualValues(t, 1, ex.calls.Load())
}

func TestProcessWorksheet_WithModelClients(t *testing.T) {
	visionModel := llm.NewMockProvider(llm.MockResponse{Content: json.RawMessage("right triangle, legs 3 and 4")})
	reasoningModel := llm.NewMockProviderFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		content := req.Messages[0].Content
		answer := `{"answer":"3/4","explanation":"divide by 2","topic":"fractions","difficulty":"easy"}`
		if strings.Contains(content, "legs 3 and 4") {
			answer = `{"answer":"5","explanation":"Pythagoras","topic":"geometry","difficulty":"medium"}`
		}
		return &llm.Response{Content: json.RawMessage(answer)}, nil
	})

	vc, err := vision.New(visionModel, zerolog.Nop())
	require.NoError(t, err)
	rc, err := reasoning.New(reasoningModel, zerolog.Nop())
	require.NoError(t, err)

	problems := []worksheet.ProblemRecord{
		{Page: 1, Index: 0, Text: "Simplify 6/8"},
		{Page: 1, Index: 1, Text: "Find the hypotenuse", Diagrams: []string{"https://cdn.example.com/tri.png"}},
	}
	o := NewOrchestrator(&staticExtractor{problems: problems}, NewSolver(vc, rc, time.Second, zerolog.Nop()), zerolog.Nop())

	results, err := o.ProcessWorksheet(context.Background(), []byte("doc"), "ws.pdf")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "3/4", *results[0].Answer)
	assert.Equal(t, "5", *results[1].Answer)
	assert.Equal(t, "geometry", *results[1].Topic)
	assert.Equal(t, 1, visionModel.CallCount())
	assert.Equal(t, 2, reasoningModel.CallCount())
}
