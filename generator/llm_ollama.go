package generator

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaLLM implements LLMClient against a local Ollama server.
type OllamaLLM struct {
	Model  string
	client *api.Client
}

func NewOllamaLLMFromConfig(cfg *LLMSettings) (*OllamaLLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultOllamaURL
	}
	// api.NewClient wants the bare server URL without the OpenAI-style /v1 suffix.
	base = strings.TrimSuffix(strings.TrimSuffix(base, "/"), "/v1")
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{Timeout: cfg.Timeout, Transport: statusRecorder{next: http.DefaultTransport}}
	return &OllamaLLM{
		Model:  cfg.Model,
		client: api.NewClient(u, hc),
	}, nil
}

type statusKey struct{}

// statusRecorder 记录响应状态码。api.Client 遇到 {"error":...} 响应体时
// 只返回普通 error，状态码需要在传输层拿到。
type statusRecorder struct {
	next http.RoundTripper
}

func (s statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := s.next.RoundTrip(req)
	if resp != nil {
		if status, ok := req.Context().Value(statusKey{}).(*int); ok {
			*status = resp.StatusCode
		}
	}
	return resp, err
}

func (o *OllamaLLM) Complete(ctx context.Context, prompt Prompt) (string, error) {
	model := o.Model
	if prompt.Model != "" {
		model = prompt.Model
	}
	stream := false
	req := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Stream: &stream,
	}
	if prompt.Temperature != nil {
		req.Options = map[string]any{"temperature": *prompt.Temperature}
	}

	var status int
	ctx = context.WithValue(ctx, statusKey{}, &status)
	var sb strings.Builder
	err := o.client.Chat(ctx, req, func(r api.ChatResponse) error {
		sb.WriteString(r.Message.Content)
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			detail := statusErr.ErrorMessage
			if detail == "" {
				detail = statusErr.Status
			}
			return "", ServiceErrorf(statusErr.StatusCode, detail, err)
		}
		if status >= http.StatusBadRequest {
			return "", ServiceErrorf(status, err.Error(), err)
		}
		return "", NetworkError(err)
	}
	return sb.String(), nil
}
