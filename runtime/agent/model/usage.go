package model

// TokenUsage records prompt and completion token counts when reported by the
// model provider. Components are pointers so that "not reported" is
// distinguishable from zero: accumulating usages across calls only yields a
// nil component when every contribution was nil.
type TokenUsage struct {
	// InputTokens counts tokens consumed by the prompt and message history.
	// Nil when the provider did not report it.
	InputTokens *int

	// OutputTokens counts tokens produced by the completion, including tool
	// call arguments. Nil when the provider did not report it.
	OutputTokens *int
}

// NewTokenUsage constructs a TokenUsage with both components reported.
func NewTokenUsage(input, output int) TokenUsage {
	return TokenUsage{InputTokens: &input, OutputTokens: &output}
}

// Add returns the componentwise sum of u and other. A nil component absorbs:
// nil+nil is nil, nil+x is x. TokenUsage therefore forms a monoid under Add
// with the zero value as identity.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  addComponent(u.InputTokens, other.InputTokens),
		OutputTokens: addComponent(u.OutputTokens, other.OutputTokens),
	}
}

// Total reports the sum of the reported components. Unreported components
// count as zero.
func (u TokenUsage) Total() int {
	var total int
	if u.InputTokens != nil {
		total += *u.InputTokens
	}
	if u.OutputTokens != nil {
		total += *u.OutputTokens
	}
	return total
}

// IsZero reports whether no component was reported.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == nil && u.OutputTokens == nil
}

func addComponent(a, b *int) *int {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		v := *b
		return &v
	case b == nil:
		v := *a
		return &v
	default:
		v := *a + *b
		return &v
	}
}
