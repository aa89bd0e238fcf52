package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type kindedErr struct{}

func (kindedErr) Error() string { return "kinded" }
func (kindedErr) Kind() Kind    { return UpstreamEmptyResponse }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Unknown},
		{"plain", errors.New("boom"), Unknown},
		{"direct", New(Timeout, "stage", "took too long"), Timeout},
		{"wrapped", fmt.Errorf("solve: %w", Wrap(UpstreamUnavailable, "reasoning", errors.New("eof"))), UpstreamUnavailable},
		{"kinder", fmt.Errorf("vision: %w", kindedErr{}), UpstreamEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(Timeout, "op", nil))
}

func TestErrorMessage(t *testing.T) {
	err := New(PreconditionFailed, "vision.extract", "problem %d has no diagrams", 3)
	assert.Equal(t, "vision.extract: PreconditionFailed: problem 3 has no diagrams", err.Error())
	assert.True(t, Is(err, PreconditionFailed))
	assert.False(t, Is(err, Timeout))

	bare := &Error{Kind: MissingConfiguration}
	assert.Equal(t, "MissingConfiguration", bare.Error())
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(UpstreamUnavailable, "extraction.submit", cause)
	assert.ErrorIs(t, err, cause)
}
