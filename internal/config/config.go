package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model. It captures account
// credentials, search criteria, bot timing, and the LLM personalizer.
type Config struct {
	Account  AccountConfig  `yaml:"account"`
	Search   SearchConfig   `yaml:"search"`
	Bot      BotConfig      `yaml:"bot"`
	LLM      LLMConfig      `yaml:"llm"`
	Gemini   *GeminiConfig  `yaml:"gemini,omitempty"` // legacy block, see ResolveLLM
	Protocol ProtocolConfig `yaml:"protocol"`
	Storage  StorageConfig  `yaml:"storage"`

	MessageFile string `yaml:"messageFile"`
	LogLevel    string `yaml:"logLevel"`
	MetricsAddr string `yaml:"metricsAddr"`
}

type AccountConfig struct {
	// If empty, read from env FLATSEEK_EMAIL / FLATSEEK_PASSWORD.
	Email    string `yaml:"email" envconfig:"FLATSEEK_EMAIL"`
	Password string `yaml:"password" envconfig:"FLATSEEK_PASSWORD"`
	// AuthMode picks the login strategy order: "auto" tries mobile then
	// web, "mobile" or "web" pin a single flow.
	AuthMode string `yaml:"authMode"`
	// VerificationCode completes the web challenge flow when the site
	// demands a second factor. Single use; clear it after a successful
	// verified login.
	VerificationCode string `yaml:"verificationCode" envconfig:"FLATSEEK_VERIFICATION_CODE"`
}

type SearchConfig struct {
	City       string   `yaml:"city"`
	Districts  []string `yaml:"districts"`
	Categories []int    `yaml:"categories"` // 0=WG-Zimmer 1=1-Zimmer 2=Wohnung 3=Haus
	MaxRent    int      `yaml:"maxRent"`
	MinSize    int      `yaml:"minSize"`
	// Zwischenmiete offers are skipped unless allowed here.
	AllowTimeLimited bool `yaml:"allowTimeLimited"`
	MaxPages         int  `yaml:"maxPages"`
	PageSize         int  `yaml:"pageSize"`
	// TargetCount stops pagination once that many filtered matches are
	// collected; 0 exhausts the page budget.
	TargetCount int `yaml:"targetCount"`
}

type BotConfig struct {
	IntervalMinutes       int   `yaml:"intervalMinutes"`
	MaxMessagesPerRun     int   `yaml:"maxMessagesPerRun"`
	MaxMessagesPerDay     int   `yaml:"maxMessagesPerDay"`
	DelayBetweenSeconds   int   `yaml:"delayBetweenSeconds"`
	DryRun                bool  `yaml:"dryRun"`
	MarkContactedInDryRun bool  `yaml:"markContactedInDryRun"`
	MaxAuthFailures       int   `yaml:"maxAuthFailures"`
	QuietHours            []int `yaml:"quietHours"` // UTC hours with no cycles
}

type LLMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // gemini|anthropic|openai|openrouter|groq|together|openai_compatible
	Model    string `yaml:"model"`
	// If empty, read from env FLATSEEK_LLM_API_KEY.
	APIKey  string `yaml:"apiKey" envconfig:"FLATSEEK_LLM_API_KEY"`
	BaseURL string `yaml:"baseUrl"`
}

// GeminiConfig is the pre-LLM-block configuration shape, still accepted.
type GeminiConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
}

// ProtocolConfig holds everything about the remote API that has been
// observed to churn: base URLs, client identifiers, user agents and
// endpoint paths. Swappable without recompiling.
type ProtocolConfig struct {
	BaseURL      string `yaml:"baseUrl"`
	APIBaseURL   string `yaml:"apiBaseUrl"`
	ClientID     string `yaml:"clientId"`
	WebClientID  string `yaml:"webClientId"`
	SMPClient    string `yaml:"smpClient"`
	AppVersion   string `yaml:"appVersion"`
	AppPackage   string `yaml:"appPackage"`
	UserAgent    string `yaml:"userAgent"`
	WebUserAgent string `yaml:"webUserAgent"`

	Endpoints EndpointsConfig `yaml:"endpoints"`

	// DefaultTokenTTLMinutes applies when a login response carries no
	// decodable expiry.
	DefaultTokenTTLMinutes int `yaml:"defaultTokenTtlMinutes"`
}

// EndpointsConfig maps logical operations to paths. Mobile paths are
// relative to APIBaseURL, web paths to BaseURL.
type EndpointsConfig struct {
	Login       string `yaml:"login"`
	Refresh     string `yaml:"refresh"` // contains %s for the user id
	WebLogin    string `yaml:"webLogin"`
	WebVerify   string `yaml:"webVerify"`
	WebRefresh  string `yaml:"webRefresh"` // contains %s for the action
	CitySearch  string `yaml:"citySearch"` // contains %s for the query
	Offers      string `yaml:"offers"`
	OfferDetail string `yaml:"offerDetail"` // contains %s for the offer id
	Contact     string `yaml:"contact"`
	WebContact  string `yaml:"webContact"`
	Profile     string `yaml:"profile"` // contains %s for the user id
	// WebConversations is a cheap authenticated read used to probe a
	// restored web session.
	WebConversations string `yaml:"webConversations"`
}

type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Account: AccountConfig{AuthMode: "auto"},
		Search: SearchConfig{
			City:             "Hamburg",
			Districts:        []string{},
			Categories:       []int{0},
			MaxRent:          800,
			MinSize:          10,
			AllowTimeLimited: false,
			MaxPages:         3,
			PageSize:         20,
			TargetCount:      0,
		},
		Bot: BotConfig{
			IntervalMinutes:       5,
			MaxMessagesPerRun:     5,
			MaxMessagesPerDay:     0,
			DelayBetweenSeconds:   10,
			DryRun:                true,
			MarkContactedInDryRun: false,
			MaxAuthFailures:       3,
			QuietHours:            nil,
		},
		LLM: LLMConfig{Enabled: false, Provider: "gemini", Model: ""},
		Protocol: ProtocolConfig{
			BaseURL:      "https://www.wg-gesucht.de",
			APIBaseURL:   "https://www.wg-gesucht.de/api",
			ClientID:     "wg_mobile_app",
			WebClientID:  "wg_desktop_website",
			SMPClient:    "WG-Gesucht",
			AppVersion:   "1.28.0",
			AppPackage:   "com.wggesucht.android",
			UserAgent:    "Mozilla/5.0 (Linux; Android 6.0; Google Build/MRA58K; wv) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/74.0.3729.186 Mobile Safari/537.36",
			WebUserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			Endpoints: EndpointsConfig{
				Login:       "sessions",
				Refresh:     "sessions/users/%s",
				WebLogin:    "/ajax/sessions.php?action=login",
				WebVerify:   "/ajax/sessions.php?action=verify_login",
				WebRefresh:  "/ajax/sessions.php?action=%s",
				CitySearch:  "location/cities/names/%s",
				Offers:      "asset/offers/",
				OfferDetail: "public/offers/%s",
				Contact:     "conversations",
				WebContact:  "/ajax/conversations.php?action=conversations",
				Profile:     "public/users/%s",
				WebConversations: "/ajax/conversations.php?action=all-conversations-notifications",
			},
			DefaultTokenTTLMinutes: 45,
		},
		Storage:     StorageConfig{DBPath: "./flatseek.db"},
		MessageFile: "./message.txt",
		LogLevel:    "info",
		MetricsAddr: "",
	}
}

// ResolvedLLM is the effective personalizer configuration after merging
// the new llm block with the legacy gemini block.
type ResolvedLLM struct {
	Enabled  bool
	Provider string // canonical provider
	Source   string // provider name as configured (alias preserved)
	Model    string
	APIKey   string
	BaseURL  string
	// Legacy is true when the gemini block supplied the settings.
	Legacy bool
}

var openAICompatibleAliases = map[string]string{
	"openai_compatible": "openai_compatible",
	"openai-compatible": "openai_compatible",
	"openrouter":        "openai_compatible",
	"groq":              "openai_compatible",
	"together":          "openai_compatible",
}

var compatibleBaseURLs = map[string]string{
	"openrouter": "https://openrouter.ai/api/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"together":   "https://api.together.xyz/v1",
}

var defaultModels = map[string]string{
	"gemini":            "gemini-1.5-flash",
	"anthropic":         "claude-3-5-haiku-latest",
	"openai":            "gpt-4o-mini",
	"openrouter":        "openai/gpt-4o-mini",
	"groq":              "llama-3.1-8b-instant",
	"together":          "meta-llama/Llama-3.1-8B-Instruct-Turbo",
	"openai_compatible": "gpt-4o-mini",
}

// ResolveLLM merges the llm block with the legacy gemini block. The new
// block overrides the old when both are present; which one applied is
// recorded so the operator can be told instead of second-guessed.
func (c Config) ResolveLLM() (ResolvedLLM, bool) {
	if c.LLM.Provider != "" || c.LLM.APIKey != "" || c.LLM.Enabled {
		source := strings.ToLower(strings.TrimSpace(c.LLM.Provider))
		if source == "" {
			source = "gemini"
		}
		provider := source
		if p, ok := openAICompatibleAliases[source]; ok {
			provider = p
		}
		model := c.LLM.Model
		if model == "" {
			model = defaultModels[source]
		}
		if model == "" {
			model = defaultModels[provider]
		}
		baseURL := c.LLM.BaseURL
		if baseURL == "" {
			baseURL = compatibleBaseURLs[source]
		}
		if c.LLM.APIKey == "" {
			return ResolvedLLM{}, false
		}
		return ResolvedLLM{
			Enabled:  c.LLM.Enabled,
			Provider: provider,
			Source:   source,
			Model:    model,
			APIKey:   c.LLM.APIKey,
			BaseURL:  baseURL,
		}, true
	}
	if c.Gemini != nil && c.Gemini.APIKey != "" {
		model := c.Gemini.Model
		if model == "" {
			model = defaultModels["gemini"]
		}
		return ResolvedLLM{
			Enabled:  c.Gemini.Enabled,
			Provider: "gemini",
			Source:   "gemini",
			Model:    model,
			APIKey:   c.Gemini.APIKey,
			Legacy:   true,
		}, true
	}
	return ResolvedLLM{}, false
}

// Validate rejects configurations the bot cannot start with.
func (c Config) Validate() error {
	if c.Account.Email == "" || c.Account.Password == "" {
		return errors.New("account email and password are required (config or FLATSEEK_EMAIL/FLATSEEK_PASSWORD)")
	}
	if c.Search.City == "" {
		return errors.New("search city is required")
	}
	if c.Bot.IntervalMinutes <= 0 {
		return fmt.Errorf("intervalMinutes must be positive, got %d", c.Bot.IntervalMinutes)
	}
	for _, h := range c.Bot.QuietHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("quiet hour out of range: %d", h)
		}
	}
	return nil
}

// Load reads YAML config from path and overlays secrets from env.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	// Env wins only when the variable is set; envconfig leaves fields
	// without defaults untouched otherwise.
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
