// Package worksheet holds the records that flow through the solving pipeline
// and the routing decision that picks a problem's solving path.
package worksheet

// ProblemRecord is one problem as extracted from a worksheet.
type ProblemRecord struct {
	// Page is the 1-based page the problem was found on.
	Page int `json:"page"`

	// Index is the 0-based extraction-order position within the worksheet.
	// It is the problem's only identity: results and stored rows are
	// correlated by it and it is never recomputed.
	Index int `json:"index"`

	Instruction *string  `json:"instruction"`
	Text        string   `json:"text"`
	LaTeX       *string  `json:"latex"`
	Options     []string `json:"options"`

	// Diagrams holds opaque image payloads: http(s) URLs, data: URIs or
	// bare base64.
	Diagrams []string `json:"diagrams"`

	// DiagramDetected mirrors the extraction service's "diagram detected"
	// hint. It only feeds routing and is not part of the result.
	DiagramDetected bool `json:"-"`
}

// VisualContext is a textual description of a problem's diagram. Consumers
// forward it to the reasoning stage without interpreting it.
type VisualContext string

// Solution is what the reasoning stage produces for one problem.
type Solution struct {
	Answer      string
	Explanation string
	Topic       string
	Difficulty  string

	// Raw is set when the response could not be parsed as structured data
	// and Answer holds the response text verbatim.
	Raw bool
}

// ResultRecord is the outcome for one problem. A non-nil Error means every
// solved field (VisualContext, Answer, Explanation, Topic, Difficulty) is
// nil. Records are built once and never modified.
type ResultRecord struct {
	Page        int      `json:"page"`
	Index       int      `json:"index"`
	Instruction *string  `json:"instruction"`
	Text        string   `json:"text"`
	LaTeX       *string  `json:"latex"`
	Options     []string `json:"options"`

	VisualContext *string `json:"visual_context"`
	Answer        *string `json:"answer"`
	Explanation   *string `json:"explanation"`
	Topic         *string `json:"topic"`
	Difficulty    *string `json:"difficulty"`
	RawAnswer     bool    `json:"raw_answer"`

	Error *string `json:"error"`
}

// Solved builds the result for a problem that went through every stage.
// visual is nil for problems that skipped the vision stage.
func Solved(p ProblemRecord, visual *VisualContext, s Solution) ResultRecord {
	r := base(p)
	if visual != nil {
		r.VisualContext = ptr(string(*visual))
	}
	r.Answer = ptr(s.Answer)
	r.Explanation = optional(s.Explanation)
	r.Topic = optional(s.Topic)
	r.Difficulty = optional(s.Difficulty)
	r.RawAnswer = s.Raw
	return r
}

// Failed builds the result for a problem whose solve failed with err.
func Failed(p ProblemRecord, err error) ResultRecord {
	r := base(p)
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	r.Error = &msg
	return r
}

// Solved reports whether the record carries an answer.
func (r ResultRecord) Solved() bool {
	return r.Error == nil && r.Answer != nil
}

func base(p ProblemRecord) ResultRecord {
	return ResultRecord{
		Page:        p.Page,
		Index:       p.Index,
		Instruction: p.Instruction,
		Text:        p.Text,
		LaTeX:       p.LaTeX,
		Options:     p.Options,
	}
}

func ptr(s string) *string { return &s }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
