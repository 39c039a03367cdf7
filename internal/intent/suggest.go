package intent

import (
	"regexp"
	"strings"

	"github.com/ent0n29/seep/internal/merchant"
)

// Suggestion labels. Kinds double as metric labels.
const (
	KindTracking = "tracking"
	KindReturns  = "returns"
	KindSupport  = "support"
)

var (
	trackingPattern = regexp.MustCompile(`where is my order|track(?:ing)? (?:my )?order|order status`)
	returnsPattern  = regexp.MustCompile(`return (?:an? |my |this )?item|refund`)
	supportPattern  = regexp.MustCompile(`support`)
)

// Suggestion is an action link derived from the shopper's message.
type Suggestion struct {
	Kind string
	merchant.Link
}

// Suggest maps raw user text to the contextual action links whose patterns
// match and whose target is configured. The order is always tracking,
// returns, support.
func Suggest(text string, cfg merchant.Config) []Suggestion {
	lower := strings.ToLower(text)
	var out []Suggestion
	if cfg.TrackLink != "" && trackingPattern.MatchString(lower) {
		out = append(out, Suggestion{Kind: KindTracking, Link: merchant.Link{Text: "Track Order", URL: cfg.TrackLink}})
	}
	if cfg.ReturnsLink != "" && returnsPattern.MatchString(lower) {
		out = append(out, Suggestion{Kind: KindReturns, Link: merchant.Link{Text: "Return Item", URL: cfg.ReturnsLink}})
	}
	if cfg.SupportLink != "" && supportPattern.MatchString(lower) {
		out = append(out, Suggestion{Kind: KindSupport, Link: merchant.Link{Text: "Contact Support", URL: cfg.SupportLink}})
	}
	return out
}

// Links strips the kinds off a suggestion set.
func Links(in []Suggestion) []merchant.Link {
	if len(in) == 0 {
		return nil
	}
	out := make([]merchant.Link, 0, len(in))
	for _, s := range in {
		out = append(out, s.Link)
	}
	return out
}
