package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type Gemini struct {
	model   string
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewGemini(model string) (*Gemini, error) {
	model = coalesce(strings.TrimSpace(model), strings.TrimSpace(os.Getenv("GEMINI_MODEL")))
	if model == "" {
		return nil, errors.New("model missing: set GEMINI_MODEL or pass a value")
	}
	key := firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
	if key == "" {
		return nil, errors.New("API key missing: set GEMINI_API_KEY or GOOGLE_API_KEY")
	}
	base := coalesce(strings.TrimSpace(os.Getenv("GEMINI_BASE_URL")), "https://generativelanguage.googleapis.com")
	return &Gemini{
		model:   model,
		apiKey:  key,
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{},
	}, nil
}

func (c *Gemini) Name() string { return "gemini:" + c.model }

func (c *Gemini) Generate(ctx context.Context, system, user string, timeout time.Duration) (Completion, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	type part struct {
		Text string `json:"text"`
	}
	payload := map[string]any{
		"systemInstruction": map[string]any{"parts": []part{{Text: system}}},
		"contents": []map[string]any{
			{"role": "user", "parts": []part{{Text: user}}},
		},
		"generationConfig": map[string]any{"responseMimeType": "application/json"},
	}
	hdr := http.Header{}
	hdr.Set("x-goog-api-key", c.apiKey)

	endpoint := c.baseURL + "/v1beta/models/" + url.PathEscape(c.model) + ":generateContent"
	start := time.Now()
	body, err := postJSON(ctx, c.http, "gemini", endpoint, hdr, payload)
	if err != nil {
		return Completion{Latency: time.Since(start)}, err
	}

	var gr struct {
		Candidates []struct {
			Content struct {
				Parts []part `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &gr); err != nil {
		return Completion{Latency: time.Since(start)}, &ProviderError{Provider: "gemini", Err: err}
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return Completion{Latency: time.Since(start)}, &ProviderError{Provider: "gemini", Err: errors.New("no candidates returned")}
	}
	var b strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	u := gr.UsageMetadata
	return Completion{
		Text:             b.String(),
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		CostUSD:          Cost(c.model, u.PromptTokenCount, u.CandidatesTokenCount),
		Latency:          time.Since(start),
	}, nil
}
