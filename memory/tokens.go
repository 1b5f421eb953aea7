package memory

// TokenEstimator maps text to an approximate token count. The engine ships
// with a chars/4 heuristic; callers with a real tokenizer can inject a
// better one wherever a TokenEstimator is accepted.
type TokenEstimator func(text string) int

// EstimateTokens approximates the token count of text as ceil(len/4).
// It never returns a negative value and returns 0 for empty text.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}
