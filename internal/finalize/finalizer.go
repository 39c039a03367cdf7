// Package finalize interprets a completed assistant stream and decides which
// action rows follow it.
package finalize

import (
	"regexp"
	"strings"

	"github.com/ent0n29/seep/internal/escalation"
	"github.com/ent0n29/seep/internal/intent"
	"github.com/ent0n29/seep/internal/merchant"
	"github.com/ent0n29/seep/internal/render"
)

const (
	defaultCartLabel     = "🛒 View Cart"
	defaultCheckoutLabel = "💳 Checkout"
	defaultCartURL       = "/cart"
	defaultCheckoutURL   = "/checkout"
)

var (
	goToCartPattern = regexp.MustCompile(`go(?:ing)? to (?:the |your )?cart`)
	checkoutPattern = regexp.MustCompile(`checkout`)
)

// Result is everything the widget renders for one completed reply, in
// render order: Body, Buttons, Extra, Escalation, Suggestions.
type Result struct {
	Payload     Payload
	Body        render.Text
	Buttons     []merchant.Link
	Extra       []merchant.Link
	Unhelpful   bool
	Escalation  *escalation.Prompt
	Suggestions []intent.Suggestion
}

// Finalizer runs once per completed stream.
type Finalizer struct {
	classifier escalation.Classifier
}

func New(classifier escalation.Classifier) *Finalizer {
	if classifier == nil {
		classifier = escalation.NewPhraseClassifier(nil)
	}
	return &Finalizer{classifier: classifier}
}

// Finalize interprets buffer, feeds the unhelpful classification into
// counter and takes whatever is pending. counter and pending belong to the
// calling widget instance.
func (f *Finalizer) Finalize(buffer string, cfg merchant.Config, counter *escalation.Counter, pending *intent.Pending) Result {
	payload := ParsePayload(buffer)
	body := render.Bot(payload.Text)

	res := Result{
		Payload: payload,
		Body:    body,
		Buttons: payload.Buttons,
		Extra:   SecondaryActions(body.Plain, cfg),
	}

	res.Unhelpful = f.classifier.Unhelpful(body.Plain)
	if counter != nil {
		if prompt, fired := counter.Evaluate(res.Unhelpful, cfg); fired {
			res.Escalation = &prompt
		}
	}
	if pending != nil {
		res.Suggestions = pending.Take()
	}
	return res
}

// SecondaryActions scans finalized text for cart and checkout mentions. Each
// action needs its URL or label configured; cart always precedes checkout.
func SecondaryActions(text string, cfg merchant.Config) []merchant.Link {
	lower := strings.ToLower(text)
	var out []merchant.Link
	if (cfg.CartURL != "" || cfg.CartLabel != "") && goToCartPattern.MatchString(lower) {
		out = append(out, merchant.Link{
			Text: firstNonEmpty(cfg.CartLabel, defaultCartLabel),
			URL:  firstNonEmpty(cfg.CartURL, defaultCartURL),
		})
	}
	if (cfg.CheckoutURL != "" || cfg.CheckoutLabel != "") && checkoutPattern.MatchString(lower) {
		out = append(out, merchant.Link{
			Text: firstNonEmpty(cfg.CheckoutLabel, defaultCheckoutLabel),
			URL:  firstNonEmpty(cfg.CheckoutURL, defaultCheckoutURL),
		})
	}
	return out
}

func firstNonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}
