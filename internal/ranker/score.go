package ranker

import (
	"regexp"
	"strings"
)

// Format classes used by the quality score.
var (
	losslessFormats = map[string]bool{"flac": true, "alac": true, "wav": true, "ape": true, "aiff": true}
	hqLossyFormats  = map[string]bool{"ogg": true, "opus": true, "m4a": true, "aac": true}
	stdLossyFormats = map[string]bool{"mp3": true, "wma": true}
)

// Quality score components
const (
	formatBonusLossless = 40.0
	formatBonusHQLossy  = 30.0
	formatBonusStdLossy = 20.0
	formatBonusOther    = 10.0

	bitratePointsMax     = 40.0
	losslessBitrateFloor = 800
	lossyBitrateRef      = 320.0

	sizePointsMax = 20.0
)

// qualityScore estimates audio quality from format, bitrate and file size
// on a 0-100 scale. Missing bitrate or length contribute zero or neutral
// points rather than failing the candidate.
func qualityScore(r RawResult) float64 {
	ext := fileExtension(r.Filename)

	var format float64
	switch {
	case losslessFormats[ext]:
		format = formatBonusLossless
	case hqLossyFormats[ext]:
		format = formatBonusHQLossy
	case stdLossyFormats[ext]:
		format = formatBonusStdLossy
	default:
		format = formatBonusOther
	}

	var bitrate float64
	if losslessFormats[ext] {
		if r.BitrateKbps >= losslessBitrateFloor {
			bitrate = bitratePointsMax
		} else {
			bitrate = bitratePointsMax / 2
		}
	} else {
		bitrate = bitratePointsMax * float64(r.BitrateKbps) / lossyBitrateRef
		if bitrate > bitratePointsMax {
			bitrate = bitratePointsMax
		}
	}

	score := format + bitrate + sizeScore(r)
	if score > 100 {
		score = 100
	}
	return score
}

// sizeScore rewards files at least as large as the bitrate and duration
// predict. Oversized files usually mean honest encodes; undersized ones
// are often truncated or transcoded.
func sizeScore(r RawResult) float64 {
	if r.LengthSeconds <= 0 || r.BitrateKbps <= 0 {
		return sizePointsMax / 2
	}
	expected := float64(r.BitrateKbps) * 1000 / 8 * float64(r.LengthSeconds)
	if expected <= 0 || r.SizeBytes <= 0 {
		return 0
	}
	switch fill := float64(r.SizeBytes) / expected; {
	case fill >= 1.1:
		return sizePointsMax
	case fill >= 0.95:
		return sizePointsMax * 0.75
	case fill >= 0.8:
		return sizePointsMax / 2
	default:
		return sizePointsMax / 4
	}
}

// FilenameHeuristics tunes the filename well-formedness score. The exact
// thresholds are heuristic, not load-bearing; adjust per deployment.
type FilenameHeuristics struct {
	BaseScore           float64
	PatternBonus        float64 // "Artist - Title.ext" shape
	MaxLength           int
	LengthPenalty       float64
	SpecialCharRatio    float64
	SpecialCharPenalty  float64
	RepeatedSepPenalty  float64
}

// DefaultFilenameHeuristics returns the stock tuning.
func DefaultFilenameHeuristics() FilenameHeuristics {
	return FilenameHeuristics{
		BaseScore:          50,
		PatternBonus:       30,
		MaxLength:          120,
		LengthPenalty:      20,
		SpecialCharRatio:   0.2,
		SpecialCharPenalty: 20,
		RepeatedSepPenalty: 10,
	}
}

var (
	artistTitlePattern = regexp.MustCompile(`^[^-]+ - .+\.[A-Za-z0-9]{2,4}$`)
	repeatedSeparators = regexp.MustCompile(`(--|__|\.\.|\s{2,}|( - ){2,})`)
)

// filenameScore rates how well-formed the filename is, clamped to [0,100].
func (h FilenameHeuristics) filenameScore(filename string) float64 {
	base := strings.TrimSpace(filename)
	if base == "" {
		return 0
	}

	score := h.BaseScore
	if artistTitlePattern.MatchString(base) {
		score += h.PatternBonus
	}
	if len(base) > h.MaxLength {
		score -= h.LengthPenalty
	}
	if specialCharRatio(base) > h.SpecialCharRatio {
		score -= h.SpecialCharPenalty
	}
	if repeatedSeparators.MatchString(base) {
		score -= h.RepeatedSepPenalty
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// specialCharRatio is the share of characters outside letters, digits,
// spaces and the common "Artist - Title (info).ext" punctuation.
func specialCharRatio(s string) float64 {
	if s == "" {
		return 0
	}
	special := 0
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')' || r == '\'' || r == ',' || r == '&':
		default:
			special++
		}
	}
	return float64(special) / float64(len([]rune(s)))
}
