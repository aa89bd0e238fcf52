// Package reasoning asks a model to solve one worksheet problem.
package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/abhisek/sheetsolver/internal/fault"
	"github.com/abhisek/sheetsolver/internal/llm"
	"github.com/abhisek/sheetsolver/internal/worksheet"
)

const defaultMaxTokens = 2048

// Client solves problems through a reasoning model.
type Client struct {
	provider llm.Provider
	log      zerolog.Logger
}

// New returns a client over provider, which is expected to already carry the
// retry and logging decorators (see llm.Decorate).
func New(provider llm.Provider, log zerolog.Logger) (*Client, error) {
	if provider == nil {
		return nil, fault.New(fault.MissingConfiguration, "reasoning", "no reasoning provider configured")
	}
	return &Client{
		provider: provider,
		log:      log.With().Str("component", "reasoning").Logger(),
	}, nil
}

type solutionJSON struct {
	Answer      *string `json:"answer"`
	Explanation string  `json:"explanation"`
	Topic       string  `json:"topic"`
	Difficulty  string  `json:"difficulty"`
}

// SolveProblem returns the model's solution for p. visual, when non-nil, is
// passed along as the description of the problem's diagram.
//
// A response that cannot be read as a structured solution is not an error:
// its text becomes the answer verbatim and Solution.Raw is set.
func (c *Client) SolveProblem(ctx context.Context, p worksheet.ProblemRecord, visual *worksheet.VisualContext) (worksheet.Solution, error) {
	req := llm.Request{
		System:    systemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: userPrompt(p, visual)}},
		Schema:    SolutionSchema,
		MaxTokens: defaultMaxTokens,
	}

	var raw string
	resp, err := c.provider.Generate(llm.WithPurpose(ctx, llm.PurposeReasoning), req)
	if err == nil {
		raw = resp.Text()
	} else if content := partialContent(err); content != nil {
		c.log.Debug().Err(err).Int("index", p.Index).Msg("reasoning.partial_response")
		raw = string(content)
	} else {
		return worksheet.Solution{}, fmt.Errorf("reasoning.solve: %w", err)
	}

	sol, perr := Parse(raw)
	switch {
	case sol.Raw:
		c.log.Warn().Err(perr).Int("index", p.Index).Msg("reasoning.parse.fallback")
	case perr != nil:
		c.log.Debug().Err(perr).Int("index", p.Index).Msg("reasoning.parse.off_schema")
	}
	return sol, nil
}

// Parse reads a model response as a solution. Text that does not decode to
// an object with a non-empty answer comes back verbatim as the answer with
// Raw set. The returned error explains any degradation, including a decoded
// solution that does not match SolutionSchema; it is meant for logging.
func Parse(raw string) (worksheet.Solution, error) {
	body := stripCodeFences(raw)

	var s solutionJSON
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return worksheet.Solution{Answer: strings.TrimSpace(raw), Raw: true}, err
	}
	if s.Answer == nil || strings.TrimSpace(*s.Answer) == "" {
		return worksheet.Solution{Answer: strings.TrimSpace(raw), Raw: true}, errors.New("answer is empty")
	}

	sol := worksheet.Solution{
		Answer:      strings.TrimSpace(*s.Answer),
		Explanation: s.Explanation,
		Topic:       s.Topic,
		Difficulty:  s.Difficulty,
	}
	return sol, llm.ValidateJSON(SolutionSchema, json.RawMessage(body))
}

// partialContent returns the text the model did produce when err is a
// schema-invalid or truncated response.
func partialContent(err error) json.RawMessage {
	var inv *llm.ErrInvalidResponse
	if errors.As(err, &inv) && len(inv.Content) > 0 {
		return inv.Content
	}
	var cut *llm.ErrMaxTokensExceeded
	if errors.As(err, &cut) && len(cut.Content) > 0 {
		return cut.Content
	}
	return nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
