package llm

import (
	"errors"
	"os"
	"strings"
)

type providerKind int

const (
	providerOpenAI providerKind = iota
	providerOpenRouter
)

func (k providerKind) String() string {
	if k == providerOpenRouter {
		return "openrouter"
	}
	return "openai"
}

const (
	defaultSiteURL = "https://catanbench.ai"
	defaultTitle   = "CatanBench"
)

type apiConfig struct {
	Kind         providerKind
	APIKey       string
	Model        string
	BaseURL      string
	HeaderName   string
	HeaderPrefix string
	Organization string
	ExtraHeaders map[string]string
}

// resolveAPIConfig infers the provider from env and the model id.
func resolveAPIConfig(model string) (apiConfig, error) {
	kind := providerOpenAI
	if preferOpenRouterEnv() {
		kind = providerOpenRouter
	}
	return resolveAPIConfigFor(model, kind, false)
}

// resolveAPIConfigFor starts from kind; forced pins it against env and
// base-URL heuristics, which is what an explicit roster entry wants.
func resolveAPIConfigFor(model string, kind providerKind, forced bool) (apiConfig, error) {
	cfg := apiConfig{
		Kind:         kind,
		Model:        strings.TrimSpace(model),
		ExtraHeaders: map[string]string{},
	}

	if !forced {
		if provider, ok := detectProviderFromModel(cfg.Model); ok {
			cfg.Kind = provider
		}
		switch strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER"))) {
		case "openrouter":
			cfg.Kind = providerOpenRouter
			forced = true
		case "openai":
			cfg.Kind = providerOpenAI
			forced = true
		}
	}

	if cfg.Model == "" {
		if cfg.Kind == providerOpenRouter {
			cfg.Model = strings.TrimSpace(os.Getenv("OPENROUTER_MODEL"))
		}
		if cfg.Model == "" {
			cfg.Model = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
		}
	}
	if cfg.Model == "" {
		return apiConfig{}, errors.New("model missing: set OPENAI_MODEL/OPENROUTER_MODEL or pass a value")
	}
	cfg.Model = strings.TrimPrefix(cfg.Model, "openrouter/")

	var base string
	if cfg.Kind == providerOpenRouter {
		base = firstNonEmpty(os.Getenv("OPENROUTER_API_BASE"), os.Getenv("OPENROUTER_BASE_URL"),
			os.Getenv("OPENAI_API_BASE"), os.Getenv("OPENAI_BASE_URL"))
	} else {
		base = firstNonEmpty(os.Getenv("OPENAI_API_BASE"), os.Getenv("OPENAI_BASE_URL"),
			os.Getenv("OPENROUTER_API_BASE"), os.Getenv("OPENROUTER_BASE_URL"))
	}
	if base == "" {
		if cfg.Kind == providerOpenRouter {
			base = "https://openrouter.ai/api/v1"
		} else {
			base = "https://api.openai.com/v1"
		}
	}
	cfg.BaseURL = strings.TrimRight(base, "/")
	if !forced && strings.Contains(strings.ToLower(cfg.BaseURL), "openrouter") {
		cfg.Kind = providerOpenRouter
	}

	openAIKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	openRouterKey := strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY"))
	if cfg.Kind == providerOpenRouter {
		cfg.APIKey = firstNonEmpty(openRouterKey, openAIKey)
	} else {
		cfg.APIKey = firstNonEmpty(openAIKey, openRouterKey)
	}
	if cfg.APIKey == "" {
		return apiConfig{}, errors.New("API key missing: set OPENAI_API_KEY or OPENROUTER_API_KEY")
	}

	headerName := firstNonEmpty(os.Getenv("OPENAI_API_KEY_HEADER"), os.Getenv("OPENROUTER_API_KEY_HEADER"))
	if headerName == "" {
		headerName = "Authorization"
	}
	prefix := os.Getenv("OPENAI_API_KEY_PREFIX")
	if prefix == "" {
		prefix = os.Getenv("OPENROUTER_API_KEY_PREFIX")
	}
	if headerName == "Authorization" && strings.TrimSpace(prefix) == "" {
		prefix = "Bearer "
	}
	cfg.HeaderName = headerName
	cfg.HeaderPrefix = prefix
	cfg.Organization = strings.TrimSpace(os.Getenv("OPENAI_ORG"))

	if cfg.Kind == providerOpenRouter {
		site := coalesce(strings.TrimSpace(os.Getenv("OPENROUTER_SITE_URL")), defaultSiteURL)
		cfg.ExtraHeaders["HTTP-Referer"] = site
		cfg.ExtraHeaders["Referer"] = site
		cfg.ExtraHeaders["X-Title"] = coalesce(strings.TrimSpace(os.Getenv("OPENROUTER_TITLE")), defaultTitle)
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func detectProviderFromModel(model string) (providerKind, bool) {
	normalized := strings.ToLower(strings.TrimSpace(model))
	if normalized == "" {
		return providerOpenAI, false
	}
	if strings.HasPrefix(normalized, "openrouter/") {
		return providerOpenRouter, true
	}
	return providerOpenAI, false
}

func preferOpenRouterEnv() bool {
	if strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")) != "" && strings.TrimSpace(os.Getenv("OPENAI_API_KEY")) == "" {
		return true
	}
	if strings.TrimSpace(os.Getenv("OPENROUTER_MODEL")) != "" && strings.TrimSpace(os.Getenv("OPENAI_MODEL")) == "" {
		return true
	}
	if strings.TrimSpace(os.Getenv("OPENROUTER_API_BASE")) != "" || strings.TrimSpace(os.Getenv("OPENROUTER_BASE_URL")) != "" {
		return true
	}
	for _, key := range []string{"OPENAI_API_BASE", "OPENAI_BASE_URL"} {
		if base := strings.TrimSpace(os.Getenv(key)); base != "" && strings.Contains(strings.ToLower(base), "openrouter") {
			return true
		}
	}
	return false
}
