// Package ranker turns raw peer-network search results into a ranked,
// filtered list of download candidates. It is pure computation: no I/O,
// no shared state, safe for concurrent use.
package ranker

import "sort"

// Match score weights
const (
	fuzzyWeight    = 0.5
	qualityWeight  = 0.4
	filenameWeight = 0.1
)

// RawResult is a single hit from the external search client. Fields the
// peer did not report are zero, never negative.
type RawResult struct {
	SourceID      string `json:"source_id"`
	Filename      string `json:"filename"`
	SizeBytes     int64  `json:"size_bytes"`
	BitrateKbps   int    `json:"bitrate_kbps"`
	LengthSeconds int    `json:"length_seconds"`
}

// sanitized clamps malformed peer-reported fields to zero so scoring
// degrades instead of failing.
func (r RawResult) sanitized() RawResult {
	if r.SizeBytes < 0 {
		r.SizeBytes = 0
	}
	if r.BitrateKbps < 0 {
		r.BitrateKbps = 0
	}
	if r.LengthSeconds < 0 {
		r.LengthSeconds = 0
	}
	return r
}

// ScoredCandidate is a RawResult that passed every hard filter, annotated
// with its score breakdown. All scores are on a 0-100 scale.
type ScoredCandidate struct {
	RawResult

	FuzzyScore    float64 `json:"fuzzy_score"`
	QualityScore  float64 `json:"quality_score"`
	FilenameScore float64 `json:"filename_score"`
	MatchScore    float64 `json:"match_score"`
}

// Ranker scores and orders search results. The zero value is not usable;
// construct with New.
type Ranker struct {
	heuristics FilenameHeuristics
}

// New creates a Ranker with the given filename heuristics.
func New(heuristics FilenameHeuristics) *Ranker {
	return &Ranker{heuristics: heuristics}
}

// Rank filters results against the hard filters and returns the
// survivors scored and sorted by descending match score, ties broken by
// quality score. An empty input yields an empty (non-nil) slice.
func (rk *Ranker) Rank(query string, results []RawResult, filters SearchFilters) []ScoredCandidate {
	filters = filters.normalized()
	candidates := make([]ScoredCandidate, 0, len(results))

	for _, raw := range results {
		raw = raw.sanitized()
		if filters.excluded(raw.Filename) {
			continue
		}
		if !filters.passesQuality(raw) {
			continue
		}
		fuzzy := fuzzyScore(query, raw.Filename)
		if fuzzy < float64(*filters.FuzzyThreshold) {
			continue
		}

		quality := qualityScore(raw)
		filename := rk.heuristics.filenameScore(raw.Filename)
		candidates = append(candidates, ScoredCandidate{
			RawResult:     raw,
			FuzzyScore:    fuzzy,
			QualityScore:  quality,
			FilenameScore: filename,
			MatchScore:    fuzzyWeight*fuzzy + qualityWeight*quality + filenameWeight*filename,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].MatchScore != candidates[j].MatchScore {
			return candidates[i].MatchScore > candidates[j].MatchScore
		}
		return candidates[i].QualityScore > candidates[j].QualityScore
	})
	return candidates
}

// SelectBest returns the top-ranked candidate, or ok=false when every
// result was filtered out. A false return is a normal "no match found"
// outcome, not an error.
func (rk *Ranker) SelectBest(query string, results []RawResult, filters SearchFilters) (ScoredCandidate, bool) {
	ranked := rk.Rank(query, results, filters)
	if len(ranked) == 0 {
		return ScoredCandidate{}, false
	}
	return ranked[0], true
}
