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

// Options controls JSON mode, reasoning and output length.
type Options struct {
	ReasoningEffort string
	MaxOutputTokens int
	Temperature     *float64
	TopP            *float64
	TopK            int
}

// OpenAI speaks the chat/completions dialect, which OpenRouter shares.
type OpenAI struct {
	cfg  apiConfig
	opts Options
	http *http.Client
}

func NewOpenAI(model string, kind providerKind) (*OpenAI, error) {
	cfg, err := resolveAPIConfigFor(model, kind, true)
	if err != nil {
		return nil, err
	}
	return &OpenAI{
		cfg:  cfg,
		opts: envOptions(cfg.Kind == providerOpenRouter),
		http: &http.Client{},
	}, nil
}

func (c *OpenAI) Name() string { return c.cfg.Kind.String() + ":" + c.cfg.Model }

func (c *OpenAI) Generate(ctx context.Context, system, user string, timeout time.Duration) (Completion, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	payload := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"response_format": map[string]any{"type": "json_object"},
	}
	if c.opts.MaxOutputTokens > 0 {
		payload["max_tokens"] = c.opts.MaxOutputTokens
	}
	if strings.TrimSpace(c.opts.ReasoningEffort) != "" {
		payload["reasoning"] = map[string]any{"effort": c.opts.ReasoningEffort}
	}
	if c.opts.Temperature != nil {
		payload["temperature"] = *c.opts.Temperature
	}
	if c.opts.TopP != nil {
		payload["top_p"] = *c.opts.TopP
	}
	if c.opts.TopK > 0 {
		payload["top_k"] = c.opts.TopK
	}
	if c.cfg.Kind == providerOpenRouter {
		payload["usage"] = map[string]any{"include": true}
	}

	hdr := http.Header{}
	hdr.Set(c.cfg.HeaderName, c.cfg.HeaderPrefix+c.cfg.APIKey)
	if c.cfg.Organization != "" {
		hdr.Set("OpenAI-Organization", c.cfg.Organization)
	}
	for k, v := range c.cfg.ExtraHeaders {
		setHeaderPreserveCase(hdr, k, v)
	}

	provider := c.cfg.Kind.String()
	start := time.Now()
	body, err := postJSON(ctx, c.http, provider, c.cfg.BaseURL+"/chat/completions", hdr, payload)
	if err != nil {
		return Completion{Latency: time.Since(start)}, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int      `json:"prompt_tokens"`
			CompletionTokens int      `json:"completion_tokens"`
			Cost             *float64 `json:"cost"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &cc); err != nil {
		return Completion{Latency: time.Since(start)}, &ProviderError{Provider: provider, Err: err}
	}
	if len(cc.Choices) == 0 {
		return Completion{Latency: time.Since(start)}, &ProviderError{Provider: provider, Err: errors.New("no choices returned")}
	}
	out := Completion{
		Text:             cc.Choices[0].Message.Content,
		PromptTokens:     cc.Usage.PromptTokens,
		CompletionTokens: cc.Usage.CompletionTokens,
		Latency:          time.Since(start),
	}
	if cc.Usage.Cost != nil {
		out.CostUSD = *cc.Usage.Cost
	} else {
		out.CostUSD = Cost(c.cfg.Model, out.PromptTokens, out.CompletionTokens)
	}
	return out, nil
}

func envOptions(preferOpenRouter bool) Options {
	var opts Options
	opts.ReasoningEffort = envWithFallback(preferOpenRouter, "OPENAI_REASONING_EFFORT", "OPENROUTER_REASONING_EFFORT")
	if v := envWithFallback(preferOpenRouter, "OPENAI_MAX_OUTPUT_TOKENS", "OPENROUTER_MAX_OUTPUT_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.MaxOutputTokens = n
		}
	}
	if v := envWithFallback(preferOpenRouter, "OPENAI_TEMPERATURE", "OPENROUTER_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			opts.Temperature = &f
		}
	}
	if v := envWithFallback(preferOpenRouter, "OPENAI_TOP_P", "OPENROUTER_TOP_P"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			opts.TopP = &f
		}
	}
	if v := envWithFallback(preferOpenRouter, "OPENAI_TOP_K", "OPENROUTER_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.TopK = n
		}
	}
	return opts
}

func envWithFallback(preferOpenRouter bool, openAIKey, openRouterKey string) string {
	keys := []string{openAIKey, openRouterKey}
	if preferOpenRouter {
		keys[0], keys[1] = keys[1], keys[0]
	}
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}
