package extraction

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Precedence(t *testing.T) {
	raw := `[{"problems": [{
		"text": "primary",
		"plaintext": "secondary",
		"latex": "x^2",
		"latex_styled": "x^{2}",
		"choices": ["a", "b"],
		"options": ["c"],
		"figures": ["fig1", ""],
		"diagrams": ["diag1"],
		"instruction": "Circle one",
		"directions": "ignored",
		"has_diagram": true
	}]}]`

	problems, err := NormalizeJSON(json.RawMessage(raw))
	require.NoError(t, err)
	require.Len(t, problems, 1)

	p := problems[0]
	assert.Equal(t, "primary", p.Text)
	assert.Equal(t, "x^2", *p.LaTeX)
	assert.Equal(t, []string{"a", "b"}, p.Options)
	assert.Equal(t, []string{"fig1", "diag1"}, p.Diagrams)
	assert.Equal(t, "Circle one", *p.Instruction)
	assert.True(t, p.DiagramDetected)
}

func TestNormalize_Fallbacks(t *testing.T) {
	raw := `[{"problems": [{
		"text": "",
		"plaintext": "from plaintext",
		"latex_styled": "\\frac{1}{2}",
		"options": ["yes", "no"],
		"directions": "Read carefully"
	}]}]`

	problems, err := NormalizeJSON(json.RawMessage(raw))
	require.NoError(t, err)
	require.Len(t, problems, 1)

	p := problems[0]
	assert.Equal(t, "from plaintext", p.Text)
	assert.Equal(t, `\frac{1}{2}`, *p.LaTeX)
	assert.Equal(t, []string{"yes", "no"}, p.Options)
	assert.Equal(t, "Read carefully", *p.Instruction)
	assert.False(t, p.DiagramDetected)
}

func TestNormalize_AbsentFieldsNeverFail(t *testing.T) {
	problems, err := NormalizeJSON(json.RawMessage(`[{"problems": [{}]}, {}, {"problems": [{"diagram_detected": true}]}]`))
	require.NoError(t, err)
	require.Len(t, problems, 2)

	assert.Equal(t, "", problems[0].Text)
	assert.Nil(t, problems[0].LaTeX)
	assert.Nil(t, problems[0].Instruction)
	assert.Empty(t, problems[0].Options)
	assert.Empty(t, problems[0].Diagrams)

	// The empty second page still counts toward page numbering.
	assert.Equal(t, 3, problems[1].Page)
	assert.Equal(t, 1, problems[1].Index)
	assert.True(t, problems[1].DiagramDetected)
}

func TestNormalize_RunningIndexAcrossPages(t *testing.T) {
	pages := []rawPage{
		{Problems: make([]rawProblem, 2)},
		{Problems: make([]rawProblem, 3)},
	}
	problems := Normalize(pages)
	require.Len(t, problems, 5)
	for i, p := range problems {
		assert.Equal(t, i, p.Index)
	}
	assert.Equal(t, 1, problems[1].Page)
	assert.Equal(t, 2, problems[2].Page)
}

func TestNormalizeJSON_NullData(t *testing.T) {
	problems, err := NormalizeJSON(json.RawMessage("null"))
	require.NoError(t, err)
	assert.Nil(t, problems)

	_, err = NormalizeJSON(json.RawMessage(`{"not":"a list"}`))
	assert.Error(t, err)
}

func TestNormalizeJSON_BarePageArrays(t *testing.T) {
	raw := `[[{"text":"2+2"},{"text":"3+3"}],[{"plaintext":"x=1"}]]`

	problems, err := NormalizeJSON(json.RawMessage(raw))
	require.NoError(t, err)
	require.Len(t, problems, 3)

	for i, want := range []struct {
		page int
		text string
	}{{1, "2+2"}, {1, "3+3"}, {2, "x=1"}} {
		assert.Equal(t, i, problems[i].Index)
		assert.Equal(t, want.page, problems[i].Page)
		assert.Equal(t, want.text, problems[i].Text)
	}
}

func TestNormalizeJSON_MixedPageShapes(t *testing.T) {
	raw := `[ {"problems":[{"text":"a"}]}, [ {"text":"b"} ] ]`

	problems, err := NormalizeJSON(json.RawMessage(raw))
	require.NoError(t, err)
	require.Len(t, problems, 2)
	assert.Equal(t, "a", problems[0].Text)
	assert.Equal(t, "b", problems[1].Text)
	assert.Equal(t, 2, problems[1].Page)
}
