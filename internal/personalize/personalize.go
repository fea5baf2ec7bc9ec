// Package personalize rewrites the message template using an external
// language-model provider. It is strictly best-effort: the composer owns
// the fallback, this package only reports success or failure.
package personalize

import (
	"context"
	"errors"
	"fmt"

	"flatseek/internal/config"
)

// Request carries the listing context handed to the provider.
type Request struct {
	Template      string
	Recipient     string
	Title         string
	Description   string
	District      string
	Rent          int
	AvailableFrom string
	AvailableTo   string
	LookingFor    string
	Advertiser    string
	ContactEmail  string
	ContactPhone  string
}

// Personalizer produces a personalized message or fails. Provider
// identity, auth and request formatting are hidden behind it.
type Personalizer interface {
	Name() string
	Personalize(ctx context.Context, req Request) (string, error)
}

// ErrTooShort flags a degenerate provider answer; the caller falls back
// to the plain template.
var ErrTooShort = errors.New("personalize: response too short")

const minResponseLen = 50

// FromResolved builds the provider implementation for a resolved LLM
// configuration.
func FromResolved(r config.ResolvedLLM) (Personalizer, error) {
	switch r.Provider {
	case "gemini":
		return &geminiProvider{apiKey: r.APIKey, model: r.Model, name: r.Source}, nil
	case "anthropic":
		return &anthropicProvider{apiKey: r.APIKey, model: r.Model, baseURL: r.BaseURL, name: r.Source}, nil
	case "openai", "openai_compatible":
		base := r.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return &openAIProvider{apiKey: r.APIKey, model: r.Model, baseURL: base, name: r.Source}, nil
	}
	return nil, fmt.Errorf("unsupported llm provider: %s", r.Provider)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// buildPrompt is shared by all providers. The instructions are German
// because the messages are.
func buildPrompt(req Request) string {
	return fmt.Sprintf(`Du bist ein freundlicher WG-Bewerber. Personalisiere die folgende Nachricht basierend auf der WG-Anzeige.

WICHTIGE REGELN:
1. Behalte den Grundton und die Struktur der Originalnachricht bei
2. Füge 1-2 spezifische Bezüge zur Anzeige hinzu (z.B. Lage, etwas Besonderes aus der Beschreibung)
3. Bleib authentisch und nicht zu übertrieben freundlich
4. Die Nachricht sollte etwa gleich lang bleiben
5. Schreibe auf Deutsch
6. Ersetze {name} mit dem echten Namen falls vorhanden.
7. Verwende Kommas statt Gedankenstrichen (kein " - ").
8. Kontakt (Email/Telefon) nur falls in der Beschreibung explizit gefragt.

ORIGINALNACHRICHT:
%s

WG-ANZEIGE:
Titel: %s
Bezirk: %s
Miete: %d€
Frei ab: %s
Frei bis: %s
Gesucht wird: %s
Anbieter: %s
Kontakt (nur falls noetig): %s %s
Beschreibung: %s

EMPFÄNGER: %s

Gib NUR die personalisierte Nachricht zurück, keine Erklärungen.`,
		req.Template,
		req.Title,
		req.District,
		req.Rent,
		req.AvailableFrom,
		req.AvailableTo,
		truncate(req.LookingFor, 500),
		req.Advertiser,
		req.ContactEmail,
		req.ContactPhone,
		truncate(req.Description, 500),
		req.Recipient,
	)
}
