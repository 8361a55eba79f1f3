// Package gemini drafts story text with the Gemini generateContent API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"fireflow/internal/domain"
	"fireflow/internal/infra"
	"fireflow/internal/transport"
)

const service = "gemini"

// StoryPrompt asks for paragraphs that each end in a one sentence summary,
// the layout ParseStory expects.
const StoryPrompt = "Write a four paragraph story about a magical cat, appropriate for a young reader. " +
	"At the end of each paragraph, write a one sentence summary of the previous paragraph, " +
	`prefixed with the word: "Summary:"`

// Options configures a Client.
type Options struct {
	APIKey string
	Model  string
	API    *transport.Client
	Logger *infra.Logger
}

// Client calls one Gemini model through the retrying transport. The API key
// travels in the x-goog-api-key header so it never appears in error targets.
type Client struct {
	apiKey string
	model  string
	api    *transport.Client
	logger *infra.Logger
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
	SafetySettings   []safetySetting   `json:"safetySettings,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopK            int     `json:"topK,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback"`
}

// The story is for young readers; every harm category blocks at medium.
var safetySettings = []safetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
}

// ErrBlocked reports a prompt or answer withheld by the safety filters.
var ErrBlocked = errors.New("gemini: content blocked")

// New validates options. The transport must not carry a token source.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, &domain.ConfigError{Missing: []string{"GEMINI_API_KEY"}, Reason: "story writing"}
	}
	if opts.API == nil {
		return nil, errors.New("gemini: transport is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Client{apiKey: strings.TrimSpace(opts.APIKey), model: model, api: opts.API, logger: logger}, nil
}

// NewFromConfig builds the client and its transport from configuration.
func NewFromConfig(cfg *infra.Config, logger *infra.Logger) (*Client, error) {
	if err := cfg.RequireGemini(); err != nil {
		return nil, err
	}
	api := transport.NewClient(transport.Options{
		Service:     service,
		BaseURL:     cfg.GeminiBaseURL,
		HTTPClient:  &http.Client{Timeout: cfg.RequestTimeout},
		Logger:      logger,
		MaxAttempts: cfg.RetryMaxAttempts,
	})
	return New(Options{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel, API: api, Logger: logger})
}

// Model returns the configured model id.
func (c *Client) Model() string { return c.model }

// Write sends prompt as a single user turn and returns the concatenated text
// of the first candidate.
func (c *Client) Write(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		prompt = StoryPrompt
	}
	body := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			Temperature:     0.9,
			TopK:            1,
			TopP:            1,
			MaxOutputTokens: 2048,
		},
		SafetySettings: safetySettings,
	}

	var out generateResponse
	_, err := c.api.JSON(ctx, transport.Request{
		Method:    http.MethodPost,
		Path:      fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.model)),
		Operation: "generate content",
		Body:      body,
		Header:    http.Header{"X-Goog-Api-Key": []string{c.apiKey}},
	}, &out)
	if err != nil {
		return "", err
	}
	if reason := out.PromptFeedback.BlockReason; reason != "" {
		return "", fmt.Errorf("%w: %s", ErrBlocked, reason)
	}
	if len(out.Candidates) == 0 {
		return "", fmt.Errorf("gemini generate content: %w", domain.ErrMissingOutputs)
	}

	candidate := out.Candidates[0]
	var b strings.Builder
	for _, p := range candidate.Content.Parts {
		b.WriteString(p.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		if candidate.FinishReason == "SAFETY" {
			return "", fmt.Errorf("%w: %s", ErrBlocked, candidate.FinishReason)
		}
		return "", fmt.Errorf("gemini generate content: %w", domain.ErrMissingOutputs)
	}
	c.logger.Debug().Str("model", c.model).Int("chars", len(text)).Msg("gemini: story drafted")
	return text, nil
}
