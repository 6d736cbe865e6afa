package generator

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LLMClient 抽象远端生成服务，便于替换/Mock。
// 实现对服务错误和传输错误返回 *GenerationError。
type LLMClient interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// LLMSettings 提供给具体实现的基础配置。
type LLMSettings struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// DefaultModel 返回各 provider 在未配置 model 时使用的模型。
func DefaultModel(provider string) string {
	switch strings.ToLower(provider) {
	case "gemini":
		return defaultGeminiModel
	case "openai":
		return "gpt-4o-mini"
	case "deepseek":
		return "deepseek-chat"
	case "ollama":
		return "llama3.2"
	case "mock":
		return "mock"
	}
	return ""
}

// NewLLMClient 根据 Provider 选择具体实现，Model 为空时取 DefaultModel。
func NewLLMClient(settings *LLMSettings) (LLMClient, error) {
	if settings == nil || settings.Provider == "" {
		return nil, fmt.Errorf("llm provider missing; set llm.provider in config")
	}
	cfg := *settings
	if cfg.Model == "" {
		cfg.Model = DefaultModel(cfg.Provider)
	}
	switch strings.ToLower(cfg.Provider) {
	case "gemini":
		return NewGeminiLLMFromConfig(&cfg)
	case "openai":
		return NewOpenAILLMFromConfig(&cfg)
	case "deepseek":
		// DeepSeek exposes an OpenAI-compatible API, base_url is mandatory.
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
		return NewOpenAILLMFromConfig(&cfg)
	case "ollama":
		return NewOllamaLLMFromConfig(&cfg)
	case "mock":
		return MockLLM{}, nil
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.Provider)
	}
}
