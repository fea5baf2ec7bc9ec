package compose

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"

	"flatseek/internal/model"
	"flatseek/internal/personalize"
	"flatseek/internal/wgclient"
)

// DefaultTemplate is used when no message file is configured or present.
const DefaultTemplate = "Hallo {name}, ich bin interessiert an eurem Angebot. LG"

// LoadTemplate reads the message template from path, falling back to the
// built-in default when the file is absent.
func LoadTemplate(path string) string {
	if path == "" {
		return DefaultTemplate
	}
	b, err := os.ReadFile(path)
	if err != nil || strings.TrimSpace(string(b)) == "" {
		return DefaultTemplate
	}
	return string(b)
}

// Composer turns listings into message drafts. Baseline is template
// substitution, which always succeeds; a configured personalizer is
// asked first, and any failure of it silently degrades to the baseline.
// The fallback decision lives here, never in the personalizer.
type Composer struct {
	template     string
	personalizer personalize.Personalizer // nil when disabled
	log          *zap.Logger
}

func New(template string, p personalize.Personalizer, log *zap.Logger) *Composer {
	if template == "" {
		template = DefaultTemplate
	}
	return &Composer{template: template, personalizer: p, log: log}
}

// Personalized reports whether a personalizer is configured.
func (c *Composer) Personalized() bool { return c.personalizer != nil }

// Compose builds the outbound draft for a listing. detail may be nil;
// it only enriches the personalization prompt.
func (c *Composer) Compose(ctx context.Context, l model.Listing, detail *wgclient.OfferDetail) model.MessageDraft {
	name := recipientName(l, detail)
	baseline := strings.ReplaceAll(c.template, "{name}", name)
	draft := model.MessageDraft{ListingID: l.ID, Text: baseline}

	if c.personalizer == nil {
		return draft
	}
	req := personalize.Request{
		Template:   c.template,
		Recipient:  name,
		Title:      l.Title,
		District:   l.District,
		Rent:       l.Rent,
		Advertiser: l.ContactName,
	}
	if detail != nil {
		req.Description = detail.Description
		req.AvailableFrom = detail.AvailableFrom
		req.AvailableTo = detail.AvailableTo
		req.LookingFor = detail.LookingFor
		req.ContactEmail = detail.ContactEmail
		req.ContactPhone = detail.ContactPhone
	}
	if req.Description == "" {
		req.Description = l.Description
	}
	text, err := c.personalizer.Personalize(ctx, req)
	if err != nil {
		c.log.Warn("personalization failed, using template",
			zap.String("listing_id", l.ID),
			zap.String("provider", c.personalizer.Name()),
			zap.Error(err))
		return draft
	}
	draft.Text = text
	draft.Personalized = true
	return draft
}

// recipientName prefers the detail record's first name over the feed's
// contact name; "du" when neither is present.
func recipientName(l model.Listing, detail *wgclient.OfferDetail) string {
	if detail != nil && strings.TrimSpace(detail.FirstName) != "" {
		name := strings.TrimSpace(detail.FirstName)
		if i := strings.IndexByte(name, ' '); i > 0 {
			return name[:i]
		}
		return name
	}
	return l.FirstName()
}
