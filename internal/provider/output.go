package provider

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/MimeLyc/translation-orchestrator/internal/config"
)

var (
	translationTag = regexp.MustCompile(`(?is)<(?:[a-z]+_)?translation>(.*?)</(?:[a-z]+_)?translation>`)
	confidenceTag  = regexp.MustCompile(`(?is)<confidence>\s*([0-9]*\.?[0-9]+)\s*</confidence>`)
	notesTag       = regexp.MustCompile(`(?is)<translation_notes>.*?</translation_notes>`)
)

// RenderPrompt substitutes the language placeholders of a prompt template.
func RenderPrompt(content, sourceLanguage, targetLanguage string) string {
	r := strings.NewReplacer(
		"{{source_language}}", config.LanguageName(sourceLanguage),
		"{{target_language}}", config.LanguageName(targetLanguage),
	)
	return r.Replace(content)
}

// ParseOutput extracts the translation and an optional self reported
// confidence from raw model output. When the model reports no confidence,
// fallback is returned.
func ParseOutput(raw string, fallback float64) (string, float64) {
	text := strings.TrimSpace(raw)
	confidence := fallback

	if m := confidenceTag.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			confidence = clamp01(v)
		}
	}

	if m := translationTag.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), confidence
	}

	text = notesTag.ReplaceAllString(text, "")
	text = confidenceTag.ReplaceAllString(text, "")
	return strings.TrimSpace(text), confidence
}

// FinishConfidence maps a provider finish reason to a confidence estimate.
func FinishConfidence(reason string) float64 {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "stop", "end_turn", "stop_sequence":
		return 0.85
	case "length", "max_tokens":
		return 0.4
	case "content_filter", "safety", "recitation", "refusal":
		return 0.2
	default:
		return 0.7
	}
}
