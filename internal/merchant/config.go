package merchant

import (
	"encoding/json"
	"strings"
)

// Link is a labelled action rendered as a button beneath a bot message.
type Link struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Valid reports whether both the label and the target are present.
func (l Link) Valid() bool {
	return strings.TrimSpace(l.Text) != "" && strings.TrimSpace(l.URL) != ""
}

// Config is the merchant-scoped widget configuration. It is read once per
// widget session and never mutated afterwards; an empty field disables the
// feature it would enable.
type Config struct {
	TrackLink     string `json:"trackLink,omitempty"`
	ReturnsLink   string `json:"returnsLink,omitempty"`
	SupportLink   string `json:"supportLink,omitempty"`
	CartURL       string `json:"cartUrl,omitempty"`
	CheckoutURL   string `json:"checkoutUrl,omitempty"`
	ContactURL    string `json:"contactUrl,omitempty"`
	CartLabel     string `json:"cartLabel,omitempty"`
	CheckoutLabel string `json:"checkoutLabel,omitempty"`

	PopularLinks []Link `json:"popular_links,omitempty"`
	SupportEmail string `json:"support_email,omitempty"`

	Greeting       string   `json:"greeting,omitempty"`
	WelcomeMessage string   `json:"welcomeMessage,omitempty"`
	QuickReplies   []string `json:"quickReplies,omitempty"`
	Color          string   `json:"color,omitempty"`
}

// wireConfig mirrors Config but keeps the list fields raw, so a backend that
// sends the wrong shape for one feature only disables that feature.
type wireConfig struct {
	TrackLink     string `json:"trackLink"`
	ReturnsLink   string `json:"returnsLink"`
	SupportLink   string `json:"supportLink"`
	CartURL       string `json:"cartUrl"`
	CheckoutURL   string `json:"checkoutUrl"`
	ContactURL    string `json:"contactUrl"`
	CartLabel     string `json:"cartLabel"`
	CheckoutLabel string `json:"checkoutLabel"`

	PopularLinks json.RawMessage `json:"popular_links"`
	SupportEmail string          `json:"support_email"`

	Greeting       string          `json:"greeting"`
	WelcomeMessage string          `json:"welcomeMessage"`
	QuickReplies   json.RawMessage `json:"quickReplies"`
	Color          string          `json:"color"`
}

func (c *Config) UnmarshalJSON(raw []byte) error {
	var w wireConfig
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	*c = Config{
		TrackLink:      strings.TrimSpace(w.TrackLink),
		ReturnsLink:    strings.TrimSpace(w.ReturnsLink),
		SupportLink:    strings.TrimSpace(w.SupportLink),
		CartURL:        strings.TrimSpace(w.CartURL),
		CheckoutURL:    strings.TrimSpace(w.CheckoutURL),
		ContactURL:     strings.TrimSpace(w.ContactURL),
		CartLabel:      strings.TrimSpace(w.CartLabel),
		CheckoutLabel:  strings.TrimSpace(w.CheckoutLabel),
		SupportEmail:   strings.TrimSpace(w.SupportEmail),
		Greeting:       strings.TrimSpace(w.Greeting),
		WelcomeMessage: strings.TrimSpace(w.WelcomeMessage),
		Color:          strings.TrimSpace(w.Color),
	}

	var links []Link
	if len(w.PopularLinks) > 0 && json.Unmarshal(w.PopularLinks, &links) == nil {
		c.PopularLinks = links
	}
	var replies []string
	if len(w.QuickReplies) > 0 && json.Unmarshal(w.QuickReplies, &replies) == nil {
		c.QuickReplies = replies
	}
	return nil
}

// ValidPopularLinks returns the popular links that carry both text and url,
// preserving their configured order.
func (c Config) ValidPopularLinks() []Link {
	out := make([]Link, 0, len(c.PopularLinks))
	for _, l := range c.PopularLinks {
		if l.Valid() {
			out = append(out, l)
		}
	}
	return out
}

// WelcomeLine is the configured greeting, falling back to welcomeMessage.
func (c Config) WelcomeLine() string {
	if c.Greeting != "" {
		return c.Greeting
	}
	return c.WelcomeMessage
}

// ActionBar returns the persistent storefront shortcuts shown under the
// input. Each entry is keyed by the analytics target reported on click.
func (c Config) ActionBar() []BarAction {
	var out []BarAction
	if c.CartURL != "" {
		out = append(out, BarAction{Target: "cart", Link: Link{Text: "🛒 View Cart", URL: c.CartURL}})
	}
	if c.CheckoutURL != "" {
		out = append(out, BarAction{Target: "checkout", Link: Link{Text: "✅ Checkout", URL: c.CheckoutURL}})
	}
	if c.ContactURL != "" {
		out = append(out, BarAction{Target: "contact", Link: Link{Text: "💬 Contact Us", URL: c.ContactURL}})
	}
	return out
}

// BarAction is one entry of the persistent action bar.
type BarAction struct {
	Target string `json:"target"`
	Link
}
