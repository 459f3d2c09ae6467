package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"finsight/pkg/config"
)

// ProviderGroupConfig 定義一組模型的配置，作為 Factory 的輸入標準
type ProviderGroupConfig struct {
	Type    string         `json:"type"`
	APIKeys []string       `json:"api_keys,omitempty"`
	Models  []string       `json:"models"`
	BaseURL string         `json:"base_url,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// APIKey returns the first non-empty key of the group, falling back to the
// provider's environment variable.
func (g ProviderGroupConfig) APIKey() string {
	for _, k := range g.APIKeys {
		if k != "" {
			return k
		}
	}
	return config.EnvAPIKey(g.Type)
}

// ProviderFactory 定義建立 LLM Client 的工廠介面
type ProviderFactory interface {
	// Create 根據配置建立一個可服務該組所有模型的 Client
	Create(groupConfig ProviderGroupConfig, systemConfig *config.SystemConfig) (Client, error)
}

// 全域 Provider 註冊表
var (
	providerRegistry = make(map[string]ProviderFactory)
	registryMu       sync.RWMutex
)

// RegisterProvider 註冊一個 Provider Factory
func RegisterProvider(name string, factory ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	providerRegistry[name] = factory
}

// GetProviderFactory 取得指定名稱的 Provider Factory
func GetProviderFactory(name string) (ProviderFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := providerRegistry[name]
	return f, ok
}

// Router dispatches a model identifier to the provider client serving it.
// It implements Client, so an Invoker can treat all providers as one.
type Router struct {
	routes map[string]Client
	order  []string
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Client)}
}

// Register binds model to client. The first registration of a model wins.
func (r *Router) Register(model string, client Client) {
	if _, dup := r.routes[model]; dup {
		slog.Warn("Duplicate model in provider groups, keeping the first", "model", model, "provider", client.Provider())
		return
	}
	r.routes[model] = client
	r.order = append(r.order, model)
}

// Models returns the registered models in registration order.
func (r *Router) Models() []string {
	cp := make([]string, len(r.order))
	copy(cp, r.order)
	return cp
}

// Provider implements Client.
func (r *Router) Provider() string { return "router" }

// Generate implements Client.
func (r *Router) Generate(ctx context.Context, model string, req *Request) (*Response, error) {
	c, ok := r.routes[model]
	if !ok {
		return nil, &Error{
			Kind:     KindNotFound,
			Provider: r.Provider(),
			Model:    model,
			Message:  fmt.Sprintf("model %q is not served by any configured provider", model),
		}
	}
	return c.Generate(ctx, model, req)
}
