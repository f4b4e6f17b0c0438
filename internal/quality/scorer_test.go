package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	urduSentence   = "کچھ ماہرینِ لسانیات اُردو اور ہندی کو ایک ہی زبان کی دو معیاری صورتیں گردانتے ہیں۔ تاہم، دیگر ماہرین اِن دونوں کو معاش اللسانی تفرّقات کی بنیاد پر الگ الگ سمجھتے ہیں۔"
	arabicSentence = "هو لاعب كرة قدم برتغالي يلعب في مركز الجناح الأيسر أو كمهاجم بنادي ريال مدريد الإسباني الذي يشارك في الدوري."

	// detected as English, below the reliability threshold
	englishSentence = "The quick brown fox jumps over the lazy dog and then runs far away into the quiet forest."
)

func TestScore_Deterministic(t *testing.T) {
	s := NewScorer("en")
	first := s.Score("Der schnelle braune Fuchs", "The quick brown fox", 0.8)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Score("Der schnelle braune Fuchs", "The quick brown fox", 0.8))
	}
}

func TestScore_MonotonicInConfidence(t *testing.T) {
	s := NewScorer("")
	prev := -1.0
	for _, c := range []float64{0, 0.1, 0.3, 0.5, 0.7, 0.9, 1} {
		got := s.Score("hello world", "bonjour monde", c)
		assert.GreaterOrEqual(t, got, prev)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
		prev = got
	}
}

func TestScore_LengthRatioPenalty(t *testing.T) {
	s := NewScorer("")
	original := "abcdefghij"

	inRange := s.Score(original, "abcdefghijkl", 0.8)
	tooShort := s.Score(original, "ab", 0.8)
	shorter := s.Score(original, "a", 0.8)
	tooLong := s.Score(original, "abcdefghijabcdefghijabcdefghijabcdefghij", 0.8)

	assert.Greater(t, inRange, tooShort)
	assert.Greater(t, tooShort, shorter)
	assert.Greater(t, inRange, tooLong)
}

func TestScore_EdgeCases(t *testing.T) {
	s := NewScorer("")
	assert.Equal(t, 0.0, s.Score("hello", "", 1))
	assert.Equal(t, 0.0, s.Score("hello", "   ", 1))
	assert.LessOrEqual(t, s.Score("hello", "hallo", 5), 1.0)
	assert.GreaterOrEqual(t, s.Score("hello", "hallo", -3), 0.0)
	assert.Equal(t, 1.0, s.Score("hello", "hallo", 1))
}

func TestEvaluate(t *testing.T) {
	s := NewScorer("")
	m := s.Evaluate("abcd", "one two three!")

	assert.Equal(t, 3.5, m.LengthRatio)
	assert.Equal(t, 3, m.WordCount)
	assert.Equal(t, 14, m.CharacterCount)
	assert.True(t, m.HasPunctuation)
	assert.True(t, m.TargetLanguageMatch)

	assert.Equal(t, 0.0, s.Evaluate("", "text").LengthRatio)
}

func TestLanguageMatch(t *testing.T) {
	urdu := NewScorer("ur-PK")
	arabic := NewScorer("ar")

	assert.True(t, urdu.Evaluate(arabicSentence, urduSentence).TargetLanguageMatch)
	assert.False(t, arabic.Evaluate(arabicSentence, urduSentence).TargetLanguageMatch)
	assert.Greater(t, urdu.Score(arabicSentence, urduSentence, 0.5), arabic.Score(arabicSentence, urduSentence, 0.5))

	assert.True(t, arabic.Evaluate(urduSentence, arabicSentence).TargetLanguageMatch)
	assert.False(t, urdu.Evaluate(urduSentence, arabicSentence).TargetLanguageMatch)

	// invalid or empty targets disable the check
	assert.True(t, NewScorer("%%").Evaluate("x", urduSentence).TargetLanguageMatch)
	assert.True(t, NewScorer("").Evaluate("x", arabicSentence).TargetLanguageMatch)
}

func TestLanguageMatch_UncertainDetectionCountsAsMatch(t *testing.T) {
	german := NewScorer("de")
	assert.True(t, german.Evaluate(englishSentence, englishSentence).TargetLanguageMatch)

	// no script to detect
	assert.True(t, NewScorer("ur").Evaluate("12", "12345 67").TargetLanguageMatch)
	assert.Equal(t, german.Score(englishSentence, englishSentence, 0.5), NewScorer("").Score(englishSentence, englishSentence, 0.5))
}
