package decode

// ConfidenceChecker stops a decode whose running average
// log-probability has fallen below the configured threshold, indicating
// the model is guessing rather than transcribing.
type ConfidenceChecker struct {
	threshold float64
}

// NewConfidenceChecker creates a checker with the given log-probability
// floor (typically around -1.0)
func NewConfidenceChecker(threshold float64) *ConfidenceChecker {
	return &ConfidenceChecker{threshold: threshold}
}

// Check compares the running average log-probability to the floor. No
// opinion until at least one token exists, since the running average is
// meaningless on an empty sequence.
func (c *ConfidenceChecker) Check(tokens []int, avgLogProb float64) Verdict {
	if len(tokens) == 0 {
		return VerdictNoOpinion
	}
	if avgLogProb < c.threshold {
		return VerdictStop
	}
	return VerdictNoOpinion
}
