package personalize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// httpDo is swappable for tests.
var httpDo = defaultDo

var defaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

func defaultDo(req *http.Request) (*http.Response, error) {
	return defaultHTTPClient.Do(req)
}

func postJSON(ctx context.Context, url string, headers map[string]string, payload any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := httpDo(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("llm status %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func checkLength(text string) (string, error) {
	text = strings.TrimSpace(text)
	if len(text) < minResponseLen {
		return "", ErrTooShort
	}
	return text, nil
}

// openAIProvider speaks the chat-completions dialect: OpenAI itself plus
// OpenRouter, Groq, Together and local gateways selected by base URL.
type openAIProvider struct {
	apiKey  string
	model   string
	baseURL string
	name    string
}

func (p *openAIProvider) Name() string { return p.name }

func (p *openAIProvider) Personalize(ctx context.Context, req Request) (string, error) {
	payload := map[string]any{
		"model": p.model,
		"messages": []map[string]any{
			{"role": "user", "content": buildPrompt(req)},
		},
	}
	raw, err := postJSON(ctx, strings.TrimSuffix(p.baseURL, "/")+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + p.apiKey}, payload)
	if err != nil {
		return "", err
	}
	return checkLength(parseChatCompletion(raw))
}

func parseChatCompletion(raw map[string]any) string {
	choices, _ := raw["choices"].([]any)
	if len(choices) == 0 {
		return ""
	}
	ch, _ := choices[0].(map[string]any)
	msg, _ := ch["message"].(map[string]any)
	switch content := msg["content"].(type) {
	case string:
		return content
	case []any:
		var b strings.Builder
		for _, item := range content {
			if blk, ok := item.(map[string]any); ok {
				if blk["type"] == "text" {
					if t, ok := blk["text"].(string); ok {
						b.WriteString(t)
					}
				}
			}
		}
		return b.String()
	}
	return ""
}

type anthropicProvider struct {
	apiKey  string
	model   string
	baseURL string
	name    string
}

func (p *anthropicProvider) Name() string { return p.name }

func (p *anthropicProvider) Personalize(ctx context.Context, req Request) (string, error) {
	base := p.baseURL
	if base == "" {
		base = "https://api.anthropic.com"
	}
	payload := map[string]any{
		"model":      p.model,
		"max_tokens": 800,
		"messages": []map[string]any{
			{"role": "user", "content": buildPrompt(req)},
		},
	}
	raw, err := postJSON(ctx, strings.TrimSuffix(base, "/")+"/v1/messages",
		map[string]string{
			"x-api-key":         p.apiKey,
			"anthropic-version": "2023-06-01",
		}, payload)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if blocks, ok := raw["content"].([]any); ok {
		for _, item := range blocks {
			if blk, ok := item.(map[string]any); ok && blk["type"] == "text" {
				if t, ok := blk["text"].(string); ok {
					b.WriteString(t)
				}
			}
		}
	}
	return checkLength(b.String())
}

type geminiProvider struct {
	apiKey string
	model  string
	name   string
}

func (p *geminiProvider) Name() string { return p.name }

func (p *geminiProvider) Personalize(ctx context.Context, req Request) (string, error) {
	url := fmt.Sprintf(
		"https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s",
		p.model, p.apiKey)
	payload := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]any{{"text": buildPrompt(req)}}},
		},
	}
	raw, err := postJSON(ctx, url, nil, payload)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if cands, ok := raw["candidates"].([]any); ok && len(cands) > 0 {
		if cand, ok := cands[0].(map[string]any); ok {
			if content, ok := cand["content"].(map[string]any); ok {
				if parts, ok := content["parts"].([]any); ok {
					for _, item := range parts {
						if part, ok := item.(map[string]any); ok {
							if t, ok := part["text"].(string); ok {
								b.WriteString(t)
							}
						}
					}
				}
			}
		}
	}
	return checkLength(b.String())
}
