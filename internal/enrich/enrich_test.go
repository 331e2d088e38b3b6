package enrich

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mfenderov/dossier/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedGenerator struct {
	calls   atomic.Int32
	outputs []string
	errs    []error
	prompt  string
}

func (g *scriptedGenerator) Complete(_ context.Context, prompt string) (string, error) {
	i := int(g.calls.Add(1)) - 1
	g.prompt = prompt
	var out string
	var err error
	if i < len(g.outputs) {
		out = g.outputs[i]
	}
	if i < len(g.errs) {
		err = g.errs[i]
	}
	return out, err
}

var acme = models.ResearchQuery{Company: "Acme Robotics", Industry: "robotics"}

func TestParseEmployeeCount(t *testing.T) {
	tests := []struct {
		answer string
		want   int
		err    error
	}{
		{"1200", 1200, nil},
		{" 182502 (2023)", 182502, nil},
		{"1,200", 1200, nil},
		{"About 1.2k employees", 1200, nil},
		{"roughly 3 million", 3_000_000, nil},
		{"1.5M", 1_500_000, nil},
		{"150 monkeys", 150, nil},
		{"10000000", MaxEmployeeCount, nil},
		{"0", 0, ErrOutOfRange},
		{"25000000", 0, ErrOutOfRange},
		{"12 million", 0, ErrOutOfRange},
		{"I don't know", 0, ErrNoCount},
		{"", 0, ErrNoCount},
	}

	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			got, err := ParseEmployeeCount(tt.answer)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmployeeCount(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{"1200 (2024)"}}

	n, err := New(gen, Config{}).EmployeeCount(t.Context(), acme)
	require.NoError(t, err)
	assert.Equal(t, 1200, n)
	assert.Contains(t, gen.prompt, "'Acme Robotics' in the robotics industry")
}

func TestEmployeeCount_RetriesUnparseableAnswer(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{"no idea", "about 450"}}

	n, err := New(gen, Config{Retries: 1, Backoff: time.Millisecond}).EmployeeCount(t.Context(), acme)
	require.NoError(t, err)
	assert.Equal(t, 450, n)
	assert.EqualValues(t, 2, gen.calls.Load())
}

func TestEmployeeCount_Failure(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{errors.New("model offline")}}

	n, err := New(gen, Config{}).EmployeeCount(t.Context(), acme)
	assert.Error(t, err)
	assert.Zero(t, n)
	assert.EqualValues(t, 1, gen.calls.Load())
}

func TestEmployeeCount_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := New(&scriptedGenerator{outputs: []string{"100"}}, Config{}).EmployeeCount(ctx, acme)
	assert.ErrorIs(t, err, context.Canceled)
}
