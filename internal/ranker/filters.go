package ranker

import (
	"path/filepath"
	"strings"
)

// Default filter configuration
const (
	DefaultFuzzyThreshold = 80
)

// DefaultExclusions returns the built-in exclusion keyword list. Results
// whose filename contains any of these (case-insensitive) are dropped
// unless the caller overrides the list.
func DefaultExclusions() []string {
	return []string{"live", "remix", "cover", "karaoke", "instrumental", "acoustic", "demo", "rehearsal"}
}

// SearchFilters holds the hard filter configuration applied before scoring.
// A zero MinBitrate or empty AllowedFormats disables that filter. A nil
// FuzzyThreshold means the default; an explicit Threshold(0) disables
// fuzzy filtering entirely.
type SearchFilters struct {
	MinBitrate        int      `json:"min_bitrate,omitempty"`
	AllowedFormats    []string `json:"allowed_formats,omitempty"`
	ExclusionKeywords []string `json:"exclusion_keywords,omitempty"`
	FuzzyThreshold    *int     `json:"fuzzy_threshold,omitempty"`
}

// Threshold builds the FuzzyThreshold value for filter literals.
func Threshold(n int) *int { return &n }

// DefaultFilters returns filters with the built-in exclusion list and
// fuzzy threshold, no bitrate or format restrictions.
func DefaultFilters() SearchFilters {
	return SearchFilters{
		ExclusionKeywords: DefaultExclusions(),
		FuzzyThreshold:    Threshold(DefaultFuzzyThreshold),
	}
}

// normalized returns a copy with nil fields replaced by the defaults and
// the fuzzy threshold clamped to [0,100]. Explicit empty/zero values
// disable their filter: an empty (non-nil) exclusion slice turns off
// keyword filtering, Threshold(0) turns off fuzzy filtering. The clamped
// threshold gets a fresh pointer so the caller's filters stay untouched.
func (f SearchFilters) normalized() SearchFilters {
	if f.ExclusionKeywords == nil {
		f.ExclusionKeywords = DefaultExclusions()
	}
	threshold := DefaultFuzzyThreshold
	if f.FuzzyThreshold != nil {
		threshold = *f.FuzzyThreshold
	}
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 100 {
		threshold = 100
	}
	f.FuzzyThreshold = &threshold
	return f
}

// excluded reports whether the filename contains any exclusion keyword.
func (f SearchFilters) excluded(filename string) bool {
	lower := strings.ToLower(filename)
	for _, keyword := range f.ExclusionKeywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// passesQuality applies the bitrate and format filters.
func (f SearchFilters) passesQuality(r RawResult) bool {
	if f.MinBitrate > 0 && r.BitrateKbps < f.MinBitrate {
		return false
	}
	if len(f.AllowedFormats) > 0 {
		ext := fileExtension(r.Filename)
		allowed := false
		for _, format := range f.AllowedFormats {
			if strings.EqualFold(strings.TrimPrefix(format, "."), ext) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}

// fileExtension returns the lower-cased extension without the leading dot.
func fileExtension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}
