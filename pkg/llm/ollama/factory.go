package ollama

import (
	"finsight/pkg/config"
	"finsight/pkg/llm"
)

// OllamaFactory handles creation of Ollama Clients
type OllamaFactory struct{}

// Create implements ProviderFactory
func (f *OllamaFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) (llm.Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" && sys != nil {
		baseURL = sys.OllamaDefaultURL
	}
	return NewOllamaClient(baseURL, cfg.Options, nil)
}

func init() {
	llm.RegisterProvider(providerName, &OllamaFactory{})
}
