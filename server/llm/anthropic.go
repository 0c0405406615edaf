package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const anthropicVersion = "2023-06-01"

type Anthropic struct {
	model     string
	apiKey    string
	baseURL   string
	maxTokens int
	http      *http.Client
}

func NewAnthropic(model string) (*Anthropic, error) {
	model = coalesce(strings.TrimSpace(model), strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")))
	if model == "" {
		return nil, errors.New("model missing: set ANTHROPIC_MODEL or pass a value")
	}
	key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if key == "" {
		return nil, errors.New("API key missing: set ANTHROPIC_API_KEY")
	}
	base := coalesce(strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")), "https://api.anthropic.com")
	maxTokens := 1024
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("ANTHROPIC_MAX_OUTPUT_TOKENS"))); err == nil && n > 0 {
		maxTokens = n
	}
	return &Anthropic{
		model:     model,
		apiKey:    key,
		baseURL:   strings.TrimRight(base, "/"),
		maxTokens: maxTokens,
		http:      &http.Client{},
	}, nil
}

func (c *Anthropic) Name() string { return "anthropic:" + c.model }

func (c *Anthropic) Generate(ctx context.Context, system, user string, timeout time.Duration) (Completion, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	payload := map[string]any{
		"model":      c.model,
		"max_tokens": c.maxTokens,
		"system":     system,
		"messages": []map[string]string{
			{"role": "user", "content": user},
		},
	}
	hdr := http.Header{}
	hdr.Set("x-api-key", c.apiKey)
	hdr.Set("anthropic-version", anthropicVersion)

	start := time.Now()
	body, err := postJSON(ctx, c.http, "anthropic", c.baseURL+"/v1/messages", hdr, payload)
	if err != nil {
		return Completion{Latency: time.Since(start)}, err
	}

	var msg struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return Completion{Latency: time.Since(start)}, &ProviderError{Provider: "anthropic", Err: err}
	}
	var b strings.Builder
	for _, part := range msg.Content {
		if part.Type == "text" {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return Completion{Latency: time.Since(start)}, &ProviderError{Provider: "anthropic", Err: errors.New("no text content returned")}
	}
	return Completion{
		Text:             b.String(),
		PromptTokens:     msg.Usage.InputTokens,
		CompletionTokens: msg.Usage.OutputTokens,
		CostUSD:          Cost(c.model, msg.Usage.InputTokens, msg.Usage.OutputTokens),
		Latency:          time.Since(start),
	}, nil
}
