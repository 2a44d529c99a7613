package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/pkg/config"
	"github.com/wonny/fluscore/pkg/logger"
	"github.com/wonny/fluscore/pkg/metrics"
)

const (
	inputFile  = "input.csv"
	outputFile = "output.csv"
)

// Invocation is one run of the numerical runtime
type Invocation struct {
	Binary     string
	Args       []string
	Dir        string
	InputPath  string
	OutputPath string
}

// Runner executes an invocation; the result is read from OutputPath afterwards
type Runner func(ctx context.Context, inv Invocation) error

// ExecRunner runs the invocation as a child process
func ExecRunner(ctx context.Context, inv Invocation) error {
	cmd := exec.CommandContext(ctx, inv.Binary, inv.Args...)
	cmd.Dir = inv.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", inv.Binary, err, strings.TrimSpace(out.String()))
	}
	return nil
}

// Process scores through a local Octave or MATLAB process. Observations are
// written as term,value lines; the script writes "score" or "score,lower,upper".
type Process struct {
	name    string
	binary  string
	flags   []string
	workDir string
	startup string
	timeout time.Duration
	run     Runner
	logger  *logger.Logger
	metrics *metrics.Manager
}

// NewOctave creates an engine running octave-cli
func NewOctave(cfg config.EngineConfig, log *logger.Logger, m *metrics.Manager) *Process {
	return newProcess("octave", defaultString(cfg.Binary, "octave-cli"),
		[]string{"--no-gui", "--quiet", "--norc", "--eval"}, cfg, log, m)
}

// NewMatlab creates an engine running matlab in batch mode
func NewMatlab(cfg config.EngineConfig, log *logger.Logger, m *metrics.Manager) *Process {
	binary := cfg.Binary
	if binary == "" || binary == "octave-cli" {
		binary = "matlab"
	}
	return newProcess("matlab", binary, []string{"-nodisplay", "-nojvm", "-batch"}, cfg, log, m)
}

func newProcess(name, binary string, flags []string, cfg config.EngineConfig, log *logger.Logger, m *metrics.Manager) *Process {
	return &Process{
		name:    name,
		binary:  binary,
		flags:   flags,
		workDir: cfg.WorkDir,
		startup: cfg.Startup,
		timeout: cfg.Timeout,
		run:     ExecRunner,
		logger:  log.WithField("module", "engine").WithField("engine", name),
		metrics: m,
	}
}

// WithRunner replaces the process runner
func (p *Process) WithRunner(run Runner) *Process {
	p.run = run
	return p
}

func (p *Process) Name() string { return p.name }

func (p *Process) Capabilities() contracts.Capabilities {
	return contracts.Capabilities{Score: true, ScoreWithConfidence: true}
}

// Score evaluates function over the observations
func (p *Process) Score(ctx context.Context, function string, observations []contracts.TermValue) (float64, error) {
	values, err := p.invoke(ctx, function, observations, false)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// ScoreWithConfidence evaluates function and its confidence bounds
func (p *Process) ScoreWithConfidence(ctx context.Context, function string, observations []contracts.TermValue) (float64, float64, float64, error) {
	values, err := p.invoke(ctx, function, observations, true)
	if err != nil {
		return 0, 0, 0, err
	}
	return values[0], values[1], values[2], nil
}

func (p *Process) invoke(ctx context.Context, function string, observations []contracts.TermValue, withConfidence bool) (values []float64, err error) {
	start := time.Now()
	defer func() {
		p.metrics.ObserveEngine(p.name, time.Since(start), err)
	}()

	if err := validateFunction(function); err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return nil, fmt.Errorf("%w: no observations", ErrNoResult)
	}

	dir, err := os.MkdirTemp("", "fluscore-"+p.name+"-")
	if err != nil {
		return nil, fmt.Errorf("create exchange dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inv := Invocation{
		Binary:     p.binary,
		Dir:        p.workDir,
		InputPath:  filepath.Join(dir, inputFile),
		OutputPath: filepath.Join(dir, outputFile),
	}
	if err := writeObservations(inv.InputPath, observations); err != nil {
		return nil, err
	}
	inv.Args = append(append([]string{}, p.flags...), p.script(function, inv, withConfidence))

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.run(ctx, inv); err != nil {
		return nil, fmt.Errorf("run %s: %w", function, err)
	}

	want := 1
	if withConfidence {
		want = 3
	}
	values, err = readResult(inv.OutputPath, want)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", function, err)
	}

	p.logger.WithFields(map[string]interface{}{
		"function": function,
		"terms":    len(observations),
		"duration": time.Since(start),
	}).Debug("Score computed")
	return values, nil
}

// script builds the runtime program: load observations, call the function, write the result
func (p *Process) script(function string, inv Invocation, withConfidence bool) string {
	var b strings.Builder
	if p.workDir != "" {
		fmt.Fprintf(&b, "addpath(%s); ", quote(p.workDir))
	}
	if p.startup != "" {
		fmt.Fprintf(&b, "run(%s); ", quote(p.startup))
	}
	fmt.Fprintf(&b, "fid = fopen(%s, 'r'); c = textscan(fid, '%%q %%f', 'Delimiter', ','); fclose(fid); ", quote(inv.InputPath))
	if withConfidence {
		fmt.Fprintf(&b, "[s, lo, hi] = %s(c{1}, c{2}); ", function)
		fmt.Fprintf(&b, "out = fopen(%s, 'w'); fprintf(out, '%%.17g,%%.17g,%%.17g\\n', s, lo, hi); fclose(out);", quote(inv.OutputPath))
	} else {
		fmt.Fprintf(&b, "s = %s(c{1}, c{2}); ", function)
		fmt.Fprintf(&b, "out = fopen(%s, 'w'); fprintf(out, '%%.17g\\n', s); fclose(out);", quote(inv.OutputPath))
	}
	return b.String()
}

func writeObservations(path string, observations []contracts.TermValue) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create input: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, obs := range observations {
		if err := w.Write([]string{obs.Term, strconv.FormatFloat(obs.Value, 'g', -1, 64)}); err != nil {
			return fmt.Errorf("write input: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write input: %w", err)
	}
	return f.Close()
}

func readResult(path string, want int) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoResult, err)
	}

	fields := strings.Split(strings.TrimSpace(string(data)), ",")
	if len(fields) != want {
		return nil, fmt.Errorf("%w: expected %d values, got %q", ErrNoResult, want, strings.TrimSpace(string(data)))
	}

	values := make([]float64, want)
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoResult, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite value %q", ErrNoResult, field)
		}
		values[i] = v
	}
	return values, nil
}

// quote renders s as a single-quoted Octave/MATLAB string literal
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

var _ contracts.ScoringEngine = (*Process)(nil)
