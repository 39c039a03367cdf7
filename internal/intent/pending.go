package intent

// Pending holds at most one outstanding suggestion set. A new user message
// overwrites it; the next finalized bot reply takes it exactly once.
type Pending struct {
	links []Suggestion
}

// Set replaces whatever was pending.
func (p *Pending) Set(links []Suggestion) {
	if len(links) == 0 {
		p.links = nil
		return
	}
	p.links = append([]Suggestion(nil), links...)
}

// Take returns the pending set and clears the slot.
func (p *Pending) Take() []Suggestion {
	out := p.links
	p.links = nil
	return out
}

// Clear drops the pending set without rendering it.
func (p *Pending) Clear() { p.links = nil }

// Len reports how many links are pending.
func (p *Pending) Len() int { return len(p.links) }
