// Package quality rates a machine translation from the provider confidence and
// cheap text heuristics.
package quality

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

const (
	confidenceWeight = 0.55
	lengthWeight     = 0.35
	languageWeight   = 0.10

	// translated/original character ratio considered normal
	minExpectedRatio = 0.5
	maxExpectedRatio = 2.0
)

// Metrics are the per segment signals stored next to the quality score.
type Metrics struct {
	LengthRatio         float64 `json:"length_ratio"`
	WordCount           int     `json:"word_count"`
	CharacterCount      int     `json:"character_count"`
	HasPunctuation      bool    `json:"has_punctuation"`
	TargetLanguageMatch bool    `json:"target_language_match"`
}

// Scorer is stateless apart from the target language; the zero value skips
// the language check.
type Scorer struct {
	target string
}

func NewScorer(targetLanguage string) *Scorer {
	return &Scorer{target: baseLanguage(targetLanguage)}
}

// Score returns a value in [0,1]. It is deterministic and never decreases when
// confidence rises or the length ratio moves closer to the expected range.
func (s *Scorer) Score(original, translated string, confidence float64) float64 {
	if strings.TrimSpace(translated) == "" {
		return 0
	}
	m := s.Evaluate(original, translated)
	score := confidenceWeight*clamp01(confidence) + lengthWeight*lengthScore(m.LengthRatio)
	if s.languageMatches(translated) {
		score += languageWeight
	}
	return round(clamp01(score), 4)
}

// Evaluate computes the heuristic metrics without a score.
func (s *Scorer) Evaluate(original, translated string) Metrics {
	origLen := utf8.RuneCountInString(strings.TrimSpace(original))
	transLen := utf8.RuneCountInString(strings.TrimSpace(translated))

	ratio := 0.0
	if origLen > 0 {
		ratio = round(float64(transLen)/float64(origLen), 4)
	}
	return Metrics{
		LengthRatio:         ratio,
		WordCount:           len(strings.Fields(translated)),
		CharacterCount:      transLen,
		HasPunctuation:      strings.IndexFunc(translated, unicode.IsPunct) >= 0,
		TargetLanguageMatch: s.languageMatches(translated),
	}
}

// languageMatches treats an unknown target or an undetectable text as a match
// so short segments are not penalized.
func (s *Scorer) languageMatches(text string) bool {
	if s == nil || s.target == "" {
		return true
	}
	info := whatlanggo.Detect(text)
	detected := info.Lang.Iso6391()
	if detected == "" || !info.IsReliable() {
		return true
	}
	return detected == s.target
}

func lengthScore(ratio float64) float64 {
	switch {
	case ratio <= 0:
		return 0
	case ratio < minExpectedRatio:
		return ratio / minExpectedRatio
	case ratio <= maxExpectedRatio:
		return 1
	default:
		return maxExpectedRatio / ratio
	}
}

func baseLanguage(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	return base.String()
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
