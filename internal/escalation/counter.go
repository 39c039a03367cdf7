// Package escalation tracks consecutive unhelpful assistant replies and
// decides when to offer a human handoff.
package escalation

import "github.com/ent0n29/seep/internal/merchant"

const DefaultThreshold = 3

const (
	PromptText  = "Would you like me to connect you to a human?"
	ActionLabel = "Connect to Support"
)

// Prompt is the handoff offer rendered when the streak trips.
type Prompt struct {
	Text   string
	Action merchant.Link
}

// Counter holds one widget instance's unhelpful streak. It has no locking;
// the owning widget serializes calls.
type Counter struct {
	threshold int
	streak    int
}

func NewCounter(threshold int) *Counter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Counter{threshold: threshold}
}

// Observe applies one classified reply. It returns true when the streak hit
// the threshold with support configured; the streak is then reset to zero so
// another full run of unhelpful replies is needed to fire again. Without
// support the threshold is never checked.
func (c *Counter) Observe(unhelpful, supportConfigured bool) bool {
	if !unhelpful {
		c.streak = 0
		return false
	}
	c.streak++
	if !supportConfigured || c.streak < c.threshold {
		return false
	}
	c.streak = 0
	return true
}

// Evaluate runs Observe against cfg and builds the prompt when it fires.
func (c *Counter) Evaluate(unhelpful bool, cfg merchant.Config) (Prompt, bool) {
	if !c.Observe(unhelpful, cfg.SupportLink != "") {
		return Prompt{}, false
	}
	return Prompt{
		Text:   PromptText,
		Action: merchant.Link{Text: ActionLabel, URL: cfg.SupportLink},
	}, true
}

func (c *Counter) Streak() int { return c.streak }
func (c *Counter) Threshold() int { return c.threshold }
