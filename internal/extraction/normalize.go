package extraction

import (
	"bytes"
	"encoding/json"

	"github.com/abhisek/sheetsolver/internal/worksheet"
)

// rawPage is one page of a completed job. The service sends either
// {"problems": [...]} or the bare problem array.
type rawPage struct {
	Problems []rawProblem `json:"problems"`
}

func (p *rawPage) UnmarshalJSON(b []byte) error {
	if t := bytes.TrimLeft(b, " \t\r\n"); len(t) > 0 && t[0] == '[' {
		return json.Unmarshal(t, &p.Problems)
	}
	type page rawPage
	return json.Unmarshal(b, (*page)(p))
}

// rawProblem lists every field name the service has been seen to use. Where
// two names carry the same datum, Normalize documents which one wins.
type rawProblem struct {
	Text        *string  `json:"text"`
	Plaintext   *string  `json:"plaintext"`
	LaTeX       *string  `json:"latex"`
	LaTeXStyled *string  `json:"latex_styled"`
	Choices     []string `json:"choices"`
	Options     []string `json:"options"`
	Figures     []string `json:"figures"`
	Diagrams    []string `json:"diagrams"`
	Instruction *string  `json:"instruction"`
	Directions  *string  `json:"directions"`

	DiagramDetected bool `json:"diagram_detected"`
	HasDiagram      bool `json:"has_diagram"`
}

// Normalize flattens pages into problem records in document order. Page
// numbers are 1-based by position and Index is a running counter across
// pages. Precedence where the service uses alternative names:
//
//	text:        text > plaintext > ""
//	latex:       latex > latex_styled
//	options:     choices > options
//	diagrams:    figures then diagrams, empty payloads dropped
//	instruction: instruction > directions
//	hint:        diagram_detected || has_diagram
//
// Absent fields become nil or empty; nothing here fails.
func Normalize(pages []rawPage) []worksheet.ProblemRecord {
	var out []worksheet.ProblemRecord
	index := 0
	for i, page := range pages {
		for _, rp := range page.Problems {
			out = append(out, worksheet.ProblemRecord{
				Page:            i + 1,
				Index:           index,
				Instruction:     firstNonEmpty(rp.Instruction, rp.Directions),
				Text:            text(rp),
				LaTeX:           firstNonEmpty(rp.LaTeX, rp.LaTeXStyled),
				Options:         options(rp),
				Diagrams:        diagrams(rp),
				DiagramDetected: rp.DiagramDetected || rp.HasDiagram,
			})
			index++
		}
	}
	return out
}

// NormalizeJSON decodes the data array of a completed job and normalizes it.
// Each page may be an object with a problems array or a bare problem array;
// both shapes can appear in one payload.
func NormalizeJSON(data json.RawMessage) ([]worksheet.ProblemRecord, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var pages []rawPage
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, err
	}
	return Normalize(pages), nil
}

func text(rp rawProblem) string {
	if s := firstNonEmpty(rp.Text, rp.Plaintext); s != nil {
		return *s
	}
	return ""
}

func options(rp rawProblem) []string {
	if len(rp.Choices) > 0 {
		return rp.Choices
	}
	return rp.Options
}

func diagrams(rp rawProblem) []string {
	var out []string
	for _, list := range [][]string{rp.Figures, rp.Diagrams} {
		for _, d := range list {
			if d != "" {
				out = append(out, d)
			}
		}
	}
	return out
}

func firstNonEmpty(vals ...*string) *string {
	for _, v := range vals {
		if v != nil && *v != "" {
			return v
		}
	}
	return nil
}
