package engine

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/pkg/config"
	"github.com/wonny/fluscore/pkg/logger"
	"github.com/wonny/fluscore/pkg/metrics"
)

var observations = []contracts.TermValue{
	{Term: "a flu", Value: 2},
	{Term: "flu, season", Value: 4},
}

// sumRunner reads the exchanged observations and writes their sum
func sumRunner(t *testing.T, output string) (Runner, *[]Invocation) {
	t.Helper()
	var seen []Invocation
	return func(_ context.Context, inv Invocation) error {
		seen = append(seen, inv)

		f, err := os.Open(inv.InputPath)
		require.NoError(t, err)
		defer f.Close()
		rows, err := csv.NewReader(f).ReadAll()
		require.NoError(t, err)
		assert.Len(t, rows, len(observations))

		return os.WriteFile(inv.OutputPath, []byte(output), 0o600)
	}, &seen
}

func newOctave(t *testing.T, run Runner) *Process {
	t.Helper()
	cfg := config.EngineConfig{Type: config.CalculatorOctave, WorkDir: "/opt/models", Startup: "/opt/models/startup.m"}
	return NewOctave(cfg, logger.NewNop(), metrics.NewManager()).WithRunner(run)
}

func TestNew(t *testing.T) {
	tests := []struct {
		typ     string
		name    string
		wantErr bool
	}{
		{config.CalculatorOctave, "octave", false},
		{config.CalculatorMatlab, "matlab", false},
		{config.CalculatorRemote, "remote", false},
		{"R", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			e, err := New(config.EngineConfig{Type: tt.typ}, logger.NewNop(), nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, e.Name())
		})
	}
}

func TestProcess_Score(t *testing.T) {
	run, seen := sumRunner(t, "6\n")
	e := newOctave(t, run)

	score, err := e.Score(context.Background(), "fluModel", observations)
	require.NoError(t, err)
	assert.Equal(t, 6.0, score)

	require.Len(t, *seen, 1)
	inv := (*seen)[0]
	assert.Equal(t, "octave-cli", inv.Binary)
	assert.Equal(t, "/opt/models", inv.Dir)
	assert.Equal(t, []string{"--no-gui", "--quiet", "--norc", "--eval"}, inv.Args[:4])

	script := inv.Args[4]
	assert.Contains(t, script, "addpath('/opt/models');")
	assert.Contains(t, script, "run('/opt/models/startup.m');")
	assert.Contains(t, script, "s = fluModel(c{1}, c{2});")

	_, err = os.Stat(filepath.Dir(inv.InputPath))
	assert.True(t, os.IsNotExist(err), "exchange dir must be removed")
}

func TestProcess_ScoreWithConfidence(t *testing.T) {
	run, seen := sumRunner(t, "6,5.5,6.5\n")
	e := newOctave(t, run)

	score, lower, upper, err := e.ScoreWithConfidence(context.Background(), "fluModel", observations)
	require.NoError(t, err)
	assert.Equal(t, 6.0, score)
	assert.Equal(t, 5.5, lower)
	assert.Equal(t, 6.5, upper)
	assert.Contains(t, (*seen)[0].Args[4], "[s, lo, hi] = fluModel(c{1}, c{2});")
}

func TestProcess_Failures(t *testing.T) {
	tests := []struct {
		name   string
		output string
		runErr error
	}{
		{"NaN", "NaN\n", nil},
		{"Inf", "Inf\n", nil},
		{"garbage", "error: undefined\n", nil},
		{"empty", "", nil},
		{"wrong arity", "1,2\n", nil},
		{"process error", "", errors.New("exit status 1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.NewManager()
			e := NewOctave(config.EngineConfig{}, logger.NewNop(), m).WithRunner(func(_ context.Context, inv Invocation) error {
				if tt.runErr != nil {
					return tt.runErr
				}
				return os.WriteFile(inv.OutputPath, []byte(tt.output), 0o600)
			})

			_, err := e.Score(context.Background(), "fluModel", observations)
			assert.Error(t, err)
			if tt.runErr == nil {
				assert.ErrorIs(t, err, ErrNoResult)
			}
		})
	}
}

func TestProcess_RejectsBadInput(t *testing.T) {
	called := false
	e := newOctave(t, func(context.Context, Invocation) error {
		called = true
		return nil
	})

	_, err := e.Score(context.Background(), "fluModel; system('rm -rf /')", observations)
	assert.Error(t, err)

	_, err = e.Score(context.Background(), "fluModel", nil)
	assert.ErrorIs(t, err, ErrNoResult)
	assert.False(t, called)
}

func TestProcess_Timeout(t *testing.T) {
	e := NewOctave(config.EngineConfig{Timeout: 10 * time.Millisecond}, logger.NewNop(), nil).
		WithRunner(func(ctx context.Context, _ Invocation) error {
			<-ctx.Done()
			return ctx.Err()
		})

	_, err := e.Score(context.Background(), "fluModel", observations)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMatlab_Flags(t *testing.T) {
	var inv Invocation
	e := NewMatlab(config.EngineConfig{}, logger.NewNop(), nil).WithRunner(func(_ context.Context, i Invocation) error {
		inv = i
		return os.WriteFile(i.OutputPath, []byte("1"), 0o600)
	})

	_, err := e.Score(context.Background(), "fluModel", observations)
	require.NoError(t, err)
	assert.Equal(t, "matlab", inv.Binary)
	assert.Equal(t, []string{"-nodisplay", "-nojvm", "-batch"}, inv.Args[:3])
}

func TestRemote(t *testing.T) {
	r := NewRemote("matlab.example.org")

	assert.False(t, r.Capabilities().Supports(false))
	assert.False(t, r.Capabilities().Supports(true))

	_, err := r.Score(context.Background(), "fluModel", observations)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, _, _, err = r.ScoreWithConfidence(context.Background(), "fluModel", observations)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "'/tmp/it''s'", quote("/tmp/it's"))
}

// TestOctave_Live runs a real octave-cli when one is installed
func TestOctave_Live(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if _, err := exec.LookPath("octave-cli"); err != nil {
		t.Skip("octave-cli not installed")
	}

	dir := t.TempDir()
	fn := strings.Join([]string{
		"function [s, lo, hi] = sumModel(terms, values)",
		"  s = sum(values); lo = s - 1; hi = s + 1;",
		"end",
	}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sumModel.m"), []byte(fn), 0o600))

	e := NewOctave(config.EngineConfig{WorkDir: dir, Timeout: time.Minute}, logger.NewNop(), nil)

	score, lower, upper, err := e.ScoreWithConfidence(context.Background(), "sumModel", observations)
	require.NoError(t, err)
	assert.Equal(t, 6.0, score)
	assert.Equal(t, 5.0, lower)
	assert.Equal(t, 7.0, upper)
}
