package batch

import (
	"iter"
	"sync"

	"github.com/wonny/fluscore/internal/contracts"
)

// Trend API limits
const (
	// MaxTermsPerBatch is the number of terms the trend API accepts per call
	MaxTermsPerBatch = 30

	// MaxLinesPerCall is the number of data points the trend API returns per call
	MaxLinesPerCall = 2000

	// MaxIntervalDays is the longest date range a full term batch can request in one call
	MaxIntervalDays = MaxLinesPerCall / MaxTermsPerBatch
)

// Batch is one trend API call worth of work
type Batch struct {
	Terms []string
	Range contracts.DateRange
}

// Planner partitions terms and missing date ranges into API-sized batches.
// The sequence is deterministic and can be iterated any number of times.
// ⭐ SSOT: trend API batching rules live here only
type Planner struct {
	terms  []string
	ranges []contracts.DateRange

	once       sync.Once
	totalLines int
	planned    []contracts.DateRange
}

// NewPlanner creates a planner over terms and chronologically ordered ranges
func NewPlanner(terms []string, ranges []contracts.DateRange) *Planner {
	t := make([]string, len(terms))
	copy(t, terms)
	r := make([]contracts.DateRange, len(ranges))
	copy(r, ranges)
	return &Planner{terms: t, ranges: r}
}

// TotalLines is the data-point count of requesting every range with a full term batch
func (p *Planner) TotalLines() int {
	p.plan()
	return p.totalLines
}

// Ranges returns the date ranges each term group is requested for,
// subdivided into MaxIntervalDays chunks when the total exceeds MaxLinesPerCall
func (p *Planner) Ranges() []contracts.DateRange {
	p.plan()
	out := make([]contracts.DateRange, len(p.planned))
	copy(out, p.planned)
	return out
}

// TermGroups chunks the terms into groups of MaxTermsPerBatch, keeping their order
func (p *Planner) TermGroups() [][]string {
	groups := make([][]string, 0, (len(p.terms)+MaxTermsPerBatch-1)/MaxTermsPerBatch)
	for i := 0; i < len(p.terms); i += MaxTermsPerBatch {
		end := min(i+MaxTermsPerBatch, len(p.terms))
		group := make([]string, end-i)
		copy(group, p.terms[i:end])
		groups = append(groups, group)
	}
	return groups
}

// Batches yields every (term group, range) pair: term groups in order,
// ranges in caller order within each group
func (p *Planner) Batches() iter.Seq[Batch] {
	return func(yield func(Batch) bool) {
		ranges := p.Ranges()
		for _, group := range p.TermGroups() {
			for _, r := range ranges {
				if !yield(Batch{Terms: group, Range: r}) {
					return
				}
			}
		}
	}
}

// All collects Batches into a slice
func (p *Planner) All() []Batch {
	out := make([]Batch, 0)
	for b := range p.Batches() {
		out = append(out, b)
	}
	return out
}

// Len returns the number of batches the planner yields
func (p *Planner) Len() int {
	return len(p.TermGroups()) * len(p.Ranges())
}

func (p *Planner) plan() {
	p.once.Do(func() {
		days := 0
		for _, r := range p.ranges {
			days += r.Span()
		}
		p.totalLines = MaxTermsPerBatch * days

		if p.totalLines <= MaxLinesPerCall {
			p.planned = p.ranges
			return
		}

		p.planned = make([]contracts.DateRange, 0, len(p.ranges))
		for _, r := range p.ranges {
			p.planned = append(p.planned, Subdivide(r, MaxIntervalDays)...)
		}
	})
}

// Subdivide splits r into consecutive chunks of maxDays days; the last chunk takes the remainder
func Subdivide(r contracts.DateRange, maxDays int) []contracts.DateRange {
	if maxDays <= 0 || r.Span() <= maxDays {
		return []contracts.DateRange{r}
	}

	chunks := make([]contracts.DateRange, 0, (r.Span()+maxDays-1)/maxDays)
	for start := r.Start; !start.After(r.End); start = contracts.AddDays(start, maxDays) {
		end := contracts.AddDays(start, maxDays-1)
		if end.After(r.End) {
			end = r.End
		}
		chunks = append(chunks, contracts.DateRange{Start: start, End: end})
	}
	return chunks
}
