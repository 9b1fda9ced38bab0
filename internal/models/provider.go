package models

import (
	"fmt"
	"strings"
)

// Provider is one of the supported LLM backends.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

const (
	DefaultProvider = ProviderOpenAI
	DefaultModel    = "gpt-3.5-turbo"
)

// ModelOption describes a selectable model.
type ModelOption struct {
	Value string
	Label string
}

var catalog = map[Provider][]ModelOption{
	ProviderOpenAI: {
		{Value: "gpt-4", Label: "GPT-4"},
		{Value: "gpt-4-turbo", Label: "GPT-4 Turbo"},
		{Value: "gpt-3.5-turbo", Label: "GPT-3.5 Turbo"},
	},
	ProviderAnthropic: {
		{Value: "claude-3-5-sonnet-20241022", Label: "Claude 3.5 Sonnet"},
		{Value: "claude-3-5-haiku-20241022", Label: "Claude 3.5 Haiku"},
		{Value: "claude-3-opus-20240229", Label: "Claude 3 Opus"},
	},
}

var defaultModels = map[Provider]string{
	ProviderOpenAI:    "gpt-3.5-turbo",
	ProviderAnthropic: "claude-3-5-sonnet-20241022",
}

// Providers lists the supported providers in display order.
func Providers() []Provider {
	return []Provider{ProviderOpenAI, ProviderAnthropic}
}

func (p Provider) Valid() bool {
	_, ok := catalog[p]
	return ok
}

// DefaultModel is the model a conversation switches to when its provider changes.
func (p Provider) DefaultModel() string {
	return defaultModels[p]
}

func (p Provider) Models() []ModelOption {
	return append([]ModelOption(nil), catalog[p]...)
}

func (p Provider) DisplayName() string {
	switch p {
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderAnthropic:
		return "Anthropic"
	}
	return string(p)
}

// ValidModel reports whether model belongs to the provider's model set.
func ValidModel(p Provider, model string) bool {
	for _, m := range catalog[p] {
		if m.Value == model {
			return true
		}
	}
	return false
}

func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return p, nil
}
