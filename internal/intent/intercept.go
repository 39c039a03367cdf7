package intent

import (
	"regexp"
	"strings"

	"github.com/ent0n29/seep/internal/merchant"
)

// Local command names, in the order they are tested.
const (
	CommandTrackOrder     = "track_order"
	CommandViewCart       = "view_cart"
	CommandBrowseProducts = "browse_products"
	CommandSpeakToAgent   = "speak_to_agent"
)

const trackOrderReply = "Please enter your tracking number or contact support."

var (
	trackOrderCommand = regexp.MustCompile(`track order|where is my order|order status`)
	viewCartCommand   = regexp.MustCompile(`view cart`)
	browseCommand     = regexp.MustCompile(`browse products`)
	agentCommand      = regexp.MustCompile(`(?:speak|talk) to (?:an? )?agent`)
)

// Reply is a bot message produced locally without calling the assistant.
// A reply carries text, an action row, or both.
type Reply struct {
	Command string
	Text    string
	Actions []merchant.Link
}

// Intercept recognizes canned shopper intents. Commands are tested in a fixed
// order and the first one that matches and is satisfiable by cfg wins. When
// handled is false the caller forwards the message to the assistant.
func Intercept(text string, cfg merchant.Config) (reply Reply, handled bool) {
	lower := strings.ToLower(text)

	if trackOrderCommand.MatchString(lower) {
		return Reply{Command: CommandTrackOrder, Text: trackOrderReply}, true
	}
	if viewCartCommand.MatchString(lower) && cfg.CartURL != "" {
		return Reply{Command: CommandViewCart, Text: cfg.CartURL}, true
	}
	if browseCommand.MatchString(lower) && len(cfg.PopularLinks) > 0 {
		links := cfg.ValidPopularLinks()
		if len(links) == 0 {
			return Reply{}, false
		}
		return Reply{Command: CommandBrowseProducts, Actions: links}, true
	}
	if agentCommand.MatchString(lower) && cfg.SupportEmail != "" {
		return Reply{Command: CommandSpeakToAgent, Text: "Connecting you to support at " + cfg.SupportEmail}, true
	}
	return Reply{}, false
}
