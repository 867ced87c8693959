// Package metering decides whether a visitor may run another AI operation,
// must hand over contact details first, or has exhausted their quota.
package metering

import "example.com/planwidget/internal/config"

// Decision is the outcome of evaluating a visitor's usage against a Policy.
type Decision int

const (
	Allow Decision = iota
	RequireCapture
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RequireCapture:
		return "require_capture"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

const (
	DefaultMaxFree = 1
	DefaultBonus   = 3
)

// Policy holds the two quota thresholds. MaxFree operations are available
// before capture; HardLimit is the ceiling for captured visitors.
type Policy struct {
	MaxFree   int
	HardLimit int
}

// DefaultPolicy is one free operation and three more after capture.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultMaxFree, DefaultBonus)
}

// NewPolicy derives the hard limit as maxFree + bonus.
func NewPolicy(maxFree, bonus int) Policy {
	return Policy{MaxFree: maxFree, HardLimit: maxFree + bonus}
}

// Decide evaluates the rules in order: the capture gate first, then the hard
// ceiling. aggregateCount is the visitor's usage summed across every session
// on the same builder site.
func Decide(aggregateCount int, isCaptured bool, maxFree, hardLimit int) Decision {
	if !isCaptured && aggregateCount >= maxFree {
		return RequireCapture
	}
	if aggregateCount >= hardLimit {
		return Deny
	}
	return Allow
}

// Decide applies the package-level Decide with this policy's thresholds.
func (p Policy) Decide(aggregateCount int, isCaptured bool) Decision {
	return Decide(aggregateCount, isCaptured, p.MaxFree, p.HardLimit)
}

// Remaining reports how many operations the visitor has left at the given
// aggregate count. Uncaptured visitors only see the free allowance.
func (p Policy) Remaining(aggregateCount int, isCaptured bool) int {
	limit := p.MaxFree
	if isCaptured {
		limit = p.HardLimit
	}
	return max(0, limit-aggregateCount)
}

// Table resolves the policy for a builder slug, falling back to a default.
type Table struct {
	fallback Policy
	builders map[string]Policy
}

func NewTable(fallback Policy, builders map[string]Policy) *Table {
	if builders == nil {
		builders = map[string]Policy{}
	}
	return &Table{fallback: fallback, builders: builders}
}

// FromConfig builds a Table from the metering section of the service config.
func FromConfig(cfg config.MeteringConfig) *Table {
	fallback := policyFrom(cfg.MaxFreeInteractions, cfg.BonusInteractions, cfg.HardLimit)
	builders := make(map[string]Policy, len(cfg.Builders))
	for slug := range cfg.Builders {
		builders[slug] = policyFrom(cfg.Resolve(slug))
	}
	return NewTable(fallback, builders)
}

func policyFrom(maxFree, bonus, hardLimit int) Policy {
	if hardLimit > 0 {
		return Policy{MaxFree: maxFree, HardLimit: hardLimit}
	}
	return NewPolicy(maxFree, bonus)
}

// For returns the policy that applies to builderSlug.
func (t *Table) For(builderSlug string) Policy {
	if p, ok := t.builders[builderSlug]; ok {
		return p
	}
	return t.fallback
}
