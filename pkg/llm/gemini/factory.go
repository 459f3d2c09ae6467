package gemini

import (
	"context"
	"fmt"

	"finsight/pkg/config"
	"finsight/pkg/llm"
)

// GeminiFactory handles creation of Gemini Clients
type GeminiFactory struct{}

// Create implements ProviderFactory
func (f *GeminiFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) (llm.Client, error) {
	key := cfg.APIKey()
	if key == "" {
		return nil, fmt.Errorf("gemini: no api key (set api_keys or GEMINI_API_KEY)")
	}

	useThought := false
	if effort, ok := cfg.Options["thinking_effort"].(string); ok && effort != "" && effort != "off" {
		useThought = true
	}

	return NewClient(context.Background(), Options{
		APIKey:     key,
		BaseURL:    cfg.BaseURL,
		UseThought: useThought,
	})
}

func init() {
	llm.RegisterProvider(providerName, &GeminiFactory{})
}
