// Package assist asks a hosted Gemini model to explain a failing snippet and
// propose a fix.
package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cwrk-planet/code-room/internal/domain"

	"google.golang.org/genai"
)

const (
	DefaultModel   = "gemini-2.5-flash"
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type FixRequest struct {
	Code     string `json:"code" validate:"required"`
	Error    string `json:"error"`
	Language string `json:"language" validate:"required"`
}

type Fix struct {
	Explanation string `json:"explanation"`
	FixedCode   string `json:"fixedCode"`
}

type Client struct {
	model  string
	models *genai.Models
}

// New returns a client; hc may be nil. Without an API key no upstream client
// is built and every call reports ErrAssistUnavailable.
func New(ctx context.Context, cfg Config, hc *http.Client) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	c := &Client{model: cfg.Model}
	if cfg.APIKey == "" {
		return c, nil
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  hc,
		HTTPOptions: genai.HTTPOptions{BaseURL: strings.TrimRight(cfg.BaseURL, "/") + "/"},
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	c.models = gc.Models
	return c, nil
}

func (c *Client) Enabled() bool { return c.models != nil }

func systemInstruction(language string) string {
	return fmt.Sprintf("You are an expert %s developer. Your task is to analyze the provided code and error, "+
		"then provide a clear explanation and the corrected code. You must respond ONLY with a single JSON object.", language)
}

func userPrompt(code, errText string) string {
	return `
Here is some code that produced an error:

--- CODE ---
` + code + `
--- END CODE ---

--- ERROR ---
` + errText + `
--- END ERROR ---

Please:
1️⃣ Explain the cause of the error clearly.
2️⃣ Provide corrected code.
Respond in JSON like this:
{
  "explanation": "why it happened",
  "fixedCode": "corrected code"
}
`
}

// FixCode returns the model's explanation and corrected code. A reply that is
// not the expected JSON object comes back verbatim as the explanation with an
// empty fix.
func (c *Client) FixCode(ctx context.Context, req FixRequest) (Fix, error) {
	if !c.Enabled() {
		return Fix{}, domain.ErrAssistUnavailable
	}

	resp, err := c.models.GenerateContent(ctx, c.model,
		genai.Text(userPrompt(req.Code, req.Error)),
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(systemInstruction(req.Language))}},
			ResponseMIMEType:  "application/json",
		})
	if err != nil {
		return Fix{}, fmt.Errorf("%w: %v", domain.ErrAssistUpstream, err)
	}

	text := resp.Text()
	if text == "" {
		return Fix{}, fmt.Errorf("%w: empty reply", domain.ErrAssistUpstream)
	}
	return parseFix(text), nil
}

func parseFix(text string) Fix {
	var f Fix
	if err := json.Unmarshal([]byte(text), &f); err != nil {
		return Fix{Explanation: text}
	}
	return f
}
