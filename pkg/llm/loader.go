package llm

import (
	"fmt"
	"log/slog"

	"finsight/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// NewFromConfig 根據設定檔建立 Router，每個 provider group 一個 Client
func NewFromConfig(rawLLM jsoniter.RawMessage, system *config.SystemConfig) (*Router, error) {
	if rawLLM == nil {
		return nil, fmt.Errorf("missing 'llm' config")
	}

	var groups []ProviderGroupConfig
	if err := json.Unmarshal(rawLLM, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse 'llm' config: %w", err)
	}

	router := NewRouter()
	for _, group := range groups {
		slog.Info("Loading LLM group", "type", group.Type, "models", len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			slog.Warn("Unknown provider type", "type", group.Type)
			continue
		}

		client, err := factory.Create(group, system)
		if err != nil {
			slog.Warn("Failed to create provider client", "type", group.Type, "error", err)
			continue
		}
		if system != nil && system.DebugCalls {
			client = NewDebugClient(client, "debug")
		}

		for _, model := range group.Models {
			router.Register(model, client)
		}
	}

	if len(router.Models()) == 0 {
		return nil, fmt.Errorf("no LLM clients could be initialized")
	}

	slog.Info("LLM models available", "models", router.Models())
	return router, nil
}

// NewInvoker wraps the router in the retry policy selected by system.
func NewInvoker(router *Router, system *config.SystemConfig) (Invoker, error) {
	models := router.Models()
	if len(system.FallbackModels) > 0 {
		models = system.FallbackModels
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("empty model fallback list")
	}

	switch system.RetryPolicy {
	case config.RetryPolicyBackoff:
		inv := NewBackoffInvoker(router, models[0], system.MaxRetries, system.RetryBaseDelay())
		inv.Timeout = system.LLMTimeout()
		slog.Info("Using backoff retry policy", "model", models[0], "attempts", system.MaxRetries)
		return inv, nil
	default:
		inv := NewFallbackInvoker(router, models, system.FallbackCooldown())
		inv.Timeout = system.LLMTimeout()
		slog.Info("Using model fallback policy", "models", models, "cooldown", inv.Cooldown)
		return inv, nil
	}
}
