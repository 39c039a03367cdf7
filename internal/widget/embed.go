package widget

import (
	"net/url"
	"strings"
	"time"
)

const DefaultMerchantID = "test-merchant"

// Embed is what a host page tells the widget about itself: where the script
// was served from and which merchant it belongs to.
type Embed struct {
	Host       string
	MerchantID string
}

// ParseEmbed derives the service host from the origin of the script URL and
// the merchant from the embed attribute. A relative or unparsable src yields
// an empty host, which the caller replaces with its configured default.
func ParseEmbed(scriptSrc, merchantAttr string) Embed {
	e := Embed{MerchantID: strings.TrimSpace(merchantAttr)}
	if e.MerchantID == "" {
		e.MerchantID = DefaultMerchantID
	}
	u, err := url.Parse(strings.TrimSpace(scriptSrc))
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		e.Host = u.Scheme + "://" + u.Host
	}
	return e
}

// Greeting builds the first bot line shown on open.
func Greeting(now time.Time, welcome string) string {
	var prefix string
	switch h := now.Hour(); {
	case h < 12:
		prefix = "Good morning"
	case h < 18:
		prefix = "Good afternoon"
	default:
		prefix = "Good evening"
	}
	if welcome = strings.TrimSpace(welcome); welcome != "" {
		return prefix + "! " + welcome
	}
	return prefix + "!"
}
