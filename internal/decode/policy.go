// Package decode implements the early-stopping policy consulted during
// a single inference pass: a composition of independent checkers that
// inspect the streaming token output and can cut a degenerate decode
// short before it reaches its natural token limit.
package decode

import (
	"github.com/audioloop/livescribe/pkg/logger"
)

// Verdict is a checker's opinion on whether decoding should continue.
// The tri-state allows checkers with no opinion to compose cleanly.
type Verdict int

const (
	// VerdictNoOpinion means the checker has nothing to say this step
	VerdictNoOpinion Verdict = iota
	// VerdictContinue means the checker explicitly allows decoding on
	VerdictContinue
	// VerdictStop means the checker wants the pass terminated now
	VerdictStop
)

// String returns the verdict name for logging
func (v Verdict) String() string {
	switch v {
	case VerdictContinue:
		return "continue"
	case VerdictStop:
		return "stop"
	default:
		return "no-opinion"
	}
}

// Checker inspects the accumulated token sequence and running average
// log-probability of an in-flight decode. Checkers must never return an
// error or panic; internal failures degrade to VerdictNoOpinion.
type Checker interface {
	Check(tokens []int, avgLogProb float64) Verdict
}

// Policy composes checkers: the first VerdictStop wins, otherwise the
// pass continues. A Policy value is installed per inference call and is
// invoked synchronously from the engine's own execution context.
type Policy struct {
	checkers []Checker
	logger   *logger.Logger
}

// NewPolicy creates a policy from the given checkers
func NewPolicy(log *logger.Logger, checkers ...Checker) *Policy {
	return &Policy{
		checkers: checkers,
		logger:   log.Named("decode-policy"),
	}
}

// ShouldContinue evaluates all checkers against the current decode
// state and reports whether the engine should keep generating
func (p *Policy) ShouldContinue(tokens []int, avgLogProb float64) bool {
	for _, c := range p.checkers {
		if c.Check(tokens, avgLogProb) == VerdictStop {
			p.logger.Debug("Early stop triggered",
				logger.Int("tokens", len(tokens)),
				logger.Float64("avg_logprob", avgLogProb))
			return false
		}
	}
	return true
}
