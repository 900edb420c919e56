package lt

import (
	"errors"
	"math"

	"github.com/gomlx/exceptions"
)

// Tune ranks algorithms for p whose scratch requirement fits workspaceLimit
// bytes and returns at most maxCandidates of them, best first.
//
// An empty result is not an error: it means no algorithm fits the limit.
// Combinations the library cannot run return *UnsupportedError.
func (h *Handle) Tune(p *Problem, workspaceLimit uint64, maxCandidates int) ([]Candidate, error) {
	h.mustBeOpen("Tune")
	if p == nil {
		exceptions.Panicf("lt.Tune: nil problem")
	}
	if maxCandidates <= 0 {
		return nil, nil
	}

	results, err := h.driver.Heuristic(p, workspaceLimit, maxCandidates)
	if err != nil {
		return nil, h.heuristicFailure(p, workspaceLimit, err)
	}
	return bind(p, results, workspaceLimit, maxCandidates), nil
}

// heuristicFailure tells "nothing fits the workspace limit" apart from
// "nothing can run this problem": the library reports both as not supported.
func (h *Handle) heuristicFailure(p *Problem, workspaceLimit uint64, err error) error {
	if errors.Is(err, StatusNotSupported) && workspaceLimit != math.MaxUint64 {
		probe, probeErr := h.driver.Heuristic(p, math.MaxUint64, 1)
		if probeErr == nil && len(probe) > 0 {
			return nil
		}
	}
	if errors.Is(err, StatusInvalidValue) {
		return &UnsupportedError{Status: StatusInvalidValue, Reason: "library rejected the problem descriptors"}
	}
	return classify("heuristic", err)
}

func bind(p *Problem, results []HeuristicResult, workspaceLimit uint64, maxCandidates int) []Candidate {
	candidates := make([]Candidate, 0, min(len(results), maxCandidates))
	seen := make(map[Algo]struct{}, len(results))
	for _, r := range results {
		if len(candidates) == maxCandidates {
			break
		}
		if r.Status != StatusSuccess || r.WorkspaceSize > workspaceLimit {
			continue
		}
		if _, dup := seen[r.Algo]; dup {
			continue
		}
		seen[r.Algo] = struct{}{}
		candidates = append(candidates, Candidate{
			algo:          r.Algo,
			workspaceSize: r.WorkspaceSize,
			waves:         r.Waves,
			fingerprint:   p.Fingerprint(),
			bound:         true,
		})
	}
	return candidates
}
