package engine

import (
	"context"

	"github.com/wonny/fluscore/internal/contracts"
)

// Remote is the placeholder for a scoring service reached over the network.
// It advertises no capabilities, so a run using it is rejected before any
// trend data is fetched.
type Remote struct {
	host string
}

// NewRemote creates a remote engine for host
func NewRemote(host string) *Remote {
	return &Remote{host: host}
}

func (r *Remote) Name() string { return "remote" }

func (r *Remote) Capabilities() contracts.Capabilities { return contracts.Capabilities{} }

func (r *Remote) Score(context.Context, string, []contracts.TermValue) (float64, error) {
	return 0, ErrUnsupported
}

func (r *Remote) ScoreWithConfidence(context.Context, string, []contracts.TermValue) (float64, float64, float64, error) {
	return 0, 0, 0, ErrUnsupported
}

var _ contracts.ScoringEngine = (*Remote)(nil)
