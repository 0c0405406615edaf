// Package llm talks to hosted chat models. Every provider is reached through
// plain JSON over HTTP and reports failures as *ProviderError.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Completion is one model reply plus what it cost.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	Latency          time.Duration
}

// Client is the single call a decision agent needs.
type Client interface {
	Name() string
	Generate(ctx context.Context, system, user string, timeout time.Duration) (Completion, error)
}

// ProviderError wraps anything that went wrong between us and the provider:
// transport failures, non-2xx responses, timeouts and empty bodies.
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s http %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Timeout reports whether the call died on its deadline.
func (e *ProviderError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// New picks the client for a "provider:model" pair.
func New(provider, model string) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai", "":
		return NewOpenAI(model, providerOpenAI)
	case "openrouter":
		return NewOpenAI(model, providerOpenRouter)
	case "anthropic", "claude":
		return NewAnthropic(model)
	case "gemini", "google":
		return NewGemini(model)
	}
	return nil, fmt.Errorf("unknown provider %q", provider)
}

// ParseTarget splits "provider:model". A bare model name defaults to openai,
// except that "openrouter/..." ids route to OpenRouter.
func ParseTarget(s string) (provider, model string) {
	s = strings.TrimSpace(s)
	if p, m, ok := strings.Cut(s, ":"); ok && !strings.Contains(p, "/") {
		return strings.ToLower(strings.TrimSpace(p)), strings.TrimSpace(m)
	}
	if k, ok := detectProviderFromModel(s); ok && k == providerOpenRouter {
		return "openrouter", strings.TrimPrefix(s, "openrouter/")
	}
	return "openai", s
}

const maxErrorBody = 800

func postJSON(ctx context.Context, hc *http.Client, provider, url string, hdr http.Header, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProviderError{Provider: provider, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, &ProviderError{Provider: provider, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vs := range hdr {
		req.Header[k] = vs
	}
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &ProviderError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: provider, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{
			Provider: provider,
			Status:   resp.StatusCode,
			Err:      errors.New(truncate(strings.TrimSpace(string(body)), maxErrorBody)),
		}
	}
	return body, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func coalesce(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

// setHeaderPreserveCase writes the header under the exact key given. Some
// gateways match HTTP-Referer case-sensitively.
func setHeaderPreserveCase(h http.Header, key, value string) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return
	}
	canon := http.CanonicalHeaderKey(key)
	if canon == key {
		h.Set(key, value)
		return
	}
	h.Del(canon)
	h[key] = []string{value}
}
