package openailm

import (
	"fmt"

	"finsight/pkg/config"
	"finsight/pkg/llm"
)

// OpenAIFactory handles creation of OpenAI Clients
type OpenAIFactory struct{}

// Create implements ProviderFactory
func (f *OpenAIFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) (llm.Client, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai: no api key (set api_keys or OPENAI_API_KEY)")
	}
	return NewClient(cfg.Type, apiKey, cfg.BaseURL, cfg.Options), nil
}

func init() {
	llm.RegisterProvider("openai", &OpenAIFactory{})
}
