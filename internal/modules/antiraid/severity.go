package antiraid

import "sentinel-automod/internal/policy"

type Severity uint8

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Classify maps a join count onto the thresholds; each boundary is
// inclusive.
func Classify(count int, t policy.SeverityThresholds) Severity {
	switch {
	case count >= t.Critical:
		return SeverityCritical
	case count >= t.High:
		return SeverityHigh
	case count >= t.Medium:
		return SeverityMedium
	case count >= t.Low:
		return SeverityLow
	default:
		return SeverityNone
	}
}

type Action string

const (
	ActionAlert      Action = "alert"
	ActionLockdown   Action = "lockdown"
	ActionQuarantine Action = "quarantine"
	ActionKick       Action = "kick"
)

var tierActions = []Action{ActionAlert, ActionLockdown, ActionQuarantine, ActionKick}

// ActionsFor returns the response for a tier. Tiers are cumulative: each one
// carries every action of the tiers below it.
func ActionsFor(s Severity) []Action {
	if s == SeverityNone {
		return nil
	}
	n := int(s)
	if n > len(tierActions) {
		n = len(tierActions)
	}
	return append([]Action(nil), tierActions[:n]...)
}
