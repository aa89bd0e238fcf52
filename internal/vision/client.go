// Package vision turns a problem's diagram into a textual description the
// reasoning stage can use.
package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/abhisek/sheetsolver/internal/fault"
	"github.com/abhisek/sheetsolver/internal/llm"
	"github.com/abhisek/sheetsolver/internal/worksheet"
)

const systemPrompt = `You read diagrams from school mathematics worksheets.
Describe only what is drawn: shapes, labels, lengths, angles, axes, plotted points, table values and any marked quantities.
Be compact and exact. Use the labels as written. Do not solve the problem.`

const defaultMaxTokens = 1024

// Client asks a vision-capable model to describe diagrams.
type Client struct {
	provider llm.Provider
	log      zerolog.Logger
}

// New returns a client over provider, which is expected to already carry the
// retry and logging decorators (see llm.Decorate).
func New(provider llm.Provider, log zerolog.Logger) (*Client, error) {
	if provider == nil {
		return nil, fault.New(fault.MissingConfiguration, "vision", "no vision provider configured")
	}
	return &Client{
		provider: provider,
		log:      log.With().Str("component", "vision").Logger(),
	}, nil
}

// ExtractVisualContext describes the first diagram of p. Only the first
// diagram is interpreted, even when p carries several.
func (c *Client) ExtractVisualContext(ctx context.Context, p worksheet.ProblemRecord) (worksheet.VisualContext, error) {
	const op = "vision.extract"

	if len(p.Diagrams) == 0 {
		return "", fault.New(fault.PreconditionFailed, op, "problem %d has no diagram", p.Index)
	}
	img, err := DecodeDiagram(p.Diagrams[0])
	if err != nil {
		return "", fault.Wrap(fault.PreconditionFailed, op, fmt.Errorf("decode diagram of problem %d: %w", p.Index, err))
	}

	req := llm.Request{
		System:    systemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: userPrompt(p), Images: []llm.Image{img}}},
		MaxTokens: defaultMaxTokens,
	}

	resp, err := c.provider.Generate(llm.WithPurpose(ctx, llm.PurposeVision), req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fault.New(fault.UpstreamEmptyResponse, op, "no text in response from %s", resp.Model)
	}

	c.log.Debug().
		Int("index", p.Index).
		Int("diagrams", len(p.Diagrams)).
		Int("chars", len(text)).
		Msg("vision.described")
	return worksheet.VisualContext(text), nil
}

func userPrompt(p worksheet.ProblemRecord) string {
	var b strings.Builder
	b.WriteString("Describe the diagram attached to this worksheet problem.")
	if t := strings.TrimSpace(p.Text); t != "" {
		b.WriteString("\n\nProblem text for context:\n")
		b.WriteString(t)
	}
	return b.String()
}
