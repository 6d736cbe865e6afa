package generator

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiLLM 基于官方 genai SDK 调用 Gemini API。
type GeminiLLM struct {
	Model  string
	client *genai.Client
}

func NewGeminiLLMFromConfig(cfg *LLMSettings) (*GeminiLLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key missing; provide llm.api_key")
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/") + "/"
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiLLM{Model: model, client: client}, nil
}

func (g *GeminiLLM) Complete(ctx context.Context, prompt Prompt) (string, error) {
	model := g.Model
	if prompt.Model != "" {
		model = prompt.Model
	}
	model = strings.TrimPrefix(model, "models/")

	gc := &genai.GenerateContentConfig{}
	if prompt.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(prompt.System, genai.RoleUser)
	}
	if prompt.Temperature != nil {
		gc.Temperature = genai.Ptr(float32(*prompt.Temperature))
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt.User), gc)
	if err != nil {
		if apiErr, ok := asGeminiAPIError(err); ok {
			detail := apiErr.Message
			if detail == "" {
				detail = apiErr.Status
			}
			return "", ServiceErrorf(apiErr.Code, detail, err)
		}
		return "", NetworkError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", MalformedError("gemini: no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

// genai 的 APIError 既可能以值也可能以指针形式返回。
func asGeminiAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}
