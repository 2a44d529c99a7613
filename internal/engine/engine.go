// Package engine runs model scoring functions in an external numerical runtime.
package engine

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/pkg/config"
	"github.com/wonny/fluscore/pkg/logger"
	"github.com/wonny/fluscore/pkg/metrics"
)

var (
	// ErrUnsupported is returned by engines that cannot serve an operation
	ErrUnsupported = errors.New("scoring operation not supported by engine")

	// ErrNoResult is returned when the runtime produced no usable score
	ErrNoResult = errors.New("scoring engine produced no result")
)

var functionName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// New builds the engine selected by cfg.Type
// ⭐ SSOT: engine selection happens here only
func New(cfg config.EngineConfig, log *logger.Logger, m *metrics.Manager) (contracts.ScoringEngine, error) {
	switch cfg.Type {
	case config.CalculatorOctave:
		return NewOctave(cfg, log, m), nil
	case config.CalculatorMatlab:
		return NewMatlab(cfg, log, m), nil
	case config.CalculatorRemote:
		return NewRemote(cfg.RemoteHost), nil
	default:
		return nil, fmt.Errorf("unknown calculator type %q", cfg.Type)
	}
}

func validateFunction(name string) error {
	if !functionName.MatchString(name) {
		return fmt.Errorf("invalid scoring function name %q", name)
	}
	return nil
}
