// Package policy holds the precondition gates and output policies applied
// around a render job: consent, blocked-content screening and watermarking.
package policy

import (
	"fmt"

	"github.com/book-expert/voice-render/internal/core"
)

// Decision is the outcome of a gate check.
type Decision int

// Gate outcomes.
const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}

	return "deny"
}

// ConsentGate blocks submissions without affirmative consent. It holds no
// state between calls.
type ConsentGate struct{}

// Check returns Allow only for explicit consent.
func (ConsentGate) Check(consentConfirmed bool) Decision {
	if consentConfirmed {
		return Allow
	}

	return Deny
}

// Require is Check expressed as an error for callers that short-circuit.
func (g ConsentGate) Require(consentConfirmed bool) error {
	if g.Check(consentConfirmed) == Deny {
		return fmt.Errorf("%w: the speaker's consent to process this recording was not confirmed", core.ErrConsentDenied)
	}

	return nil
}
