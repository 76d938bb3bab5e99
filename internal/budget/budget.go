// Package budget provides token budget estimation and context trimming for
// the RAG pipeline. Because the pipeline supports multiple generation
// backends with different tokenizers, this package uses a conservative
// character-based heuristic: 1 token ≈ 4 characters (English prose).
// This deliberately under-estimates so prompts keep headroom for
// model-specific overhead.
package budget

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English text; 3 would be
	// more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default budget for the retrieved
	// context block inside a generation prompt. Conservative enough to fit
	// within 8k-context models while leaving room for the question and the
	// response. Override via Pipeline configuration.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// TrimContext drops context parts from the end of the slice until the total
// estimated token count fits within maxTokens. Parts arrive ordered by
// descending retrieval score, so the lowest-ranked context is sacrificed
// first. Parts are kept whole or dropped — never truncated mid-text.
//
// Returns the retained prefix of parts. An empty slice means even the
// top-ranked part alone exceeds the budget.
func TrimContext(parts []string, maxTokens int) []string {
	if maxTokens <= 0 {
		return parts
	}

	total := 0
	for i, p := range parts {
		total += Estimate(p)
		if total > maxTokens {
			return parts[:i]
		}
	}
	return parts
}
