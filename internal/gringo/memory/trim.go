package memory

// Counter measures text in generation-service token units.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a plain function to the Counter interface.
type CounterFunc func(text string) int

// Count calls f(text).
func (f CounterFunc) Count(text string) int { return f(text) }

// Trim returns the longest suffix of turns whose token total stays below
// maxTokens.
//
// Turns are walked from newest to oldest. A turn that would bring the running
// total to maxTokens or beyond is excluded and the walk stops there. The
// newest turn is always kept, so a non-empty input never yields an empty
// result: a single oversized turn is passed through whole rather than cut.
//
// The returned slice shares no backing array with turns.
func Trim(turns []Turn, maxTokens int, counter Counter) []Turn {
	if len(turns) == 0 {
		return nil
	}

	start := len(turns) - 1
	total := counter.Count(turns[start].Content)
	for start > 0 {
		cost := counter.Count(turns[start-1].Content)
		if total+cost >= maxTokens {
			break
		}
		total += cost
		start--
	}

	out := make([]Turn, len(turns)-start)
	copy(out, turns[start:])
	return out
}

// TokenCount returns the summed token count of the turns' contents.
func TokenCount(turns []Turn, counter Counter) int {
	total := 0
	for _, t := range turns {
		total += counter.Count(t.Content)
	}
	return total
}
