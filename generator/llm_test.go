package generator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrompt() Prompt {
	t := 1.2
	return Prompt{System: "be brief", User: "hello", Temperature: &t}
}

func closedServerURL() string {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()
	return url
}

func TestGeminiLLM_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"<!DOCTYPE html>"},{"text":"<html></html>"}]}}]}`)
	}))
	defer srv.Close()

	llm, err := NewGeminiLLMFromConfig(&LLMSettings{APIKey: "secret", Model: "gemini-test", BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	text, err := llm.Complete(context.Background(), testPrompt())
	require.NoError(t, err)
	assert.Equal(t, "<!DOCTYPE html><html></html>", text)

	sys, ok := body["systemInstruction"].(map[string]any)
	require.True(t, ok)
	parts := sys["parts"].([]any)
	assert.Equal(t, "be brief", parts[0].(map[string]any)["text"])
	gc := body["generationConfig"].(map[string]any)
	assert.InDelta(t, 1.2, gc["temperature"], 1e-6)
}

func TestGeminiLLM_Errors(t *testing.T) {
	t.Run("rate limited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`)
		}))
		defer srv.Close()
		llm, err := NewGeminiLLMFromConfig(&LLMSettings{APIKey: "k", Model: "m", BaseURL: srv.URL})
		require.NoError(t, err)

		_, err = llm.Complete(context.Background(), testPrompt())
		ge := AsGenerationError(err)
		assert.Equal(t, KindServiceError, ge.Kind)
		assert.Equal(t, 429, ge.StatusCode)
		assert.Equal(t, "Resource has been exhausted", ge.Detail)
	})

	t.Run("no candidates", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{}`)
		}))
		defer srv.Close()
		llm, err := NewGeminiLLMFromConfig(&LLMSettings{APIKey: "k", Model: "m", BaseURL: srv.URL})
		require.NoError(t, err)

		_, err = llm.Complete(context.Background(), testPrompt())
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("connection refused", func(t *testing.T) {
		llm, err := NewGeminiLLMFromConfig(&LLMSettings{APIKey: "k", Model: "m", BaseURL: closedServerURL()})
		require.NoError(t, err)

		_, err = llm.Complete(context.Background(), testPrompt())
		assert.ErrorIs(t, err, ErrNetworkFailure)
	})

	t.Run("client timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)
		llm, err := NewGeminiLLMFromConfig(&LLMSettings{APIKey: "k", Model: "m", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
		require.NoError(t, err)

		_, err = llm.Complete(context.Background(), testPrompt())
		assert.ErrorIs(t, err, ErrNetworkFailure)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := NewGeminiLLMFromConfig(&LLMSettings{Model: "m"})
		assert.Error(t, err)
	})
}

func TestOpenAILLM_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Subject: hi"}}]}`)
	}))
	defer srv.Close()

	llm, err := NewOpenAILLMFromConfig(&LLMSettings{APIKey: "sk-test", Model: "gpt-test", BaseURL: srv.URL + "/v1/", Timeout: 5 * time.Second})
	require.NoError(t, err)

	text, err := llm.Complete(context.Background(), testPrompt())
	require.NoError(t, err)
	assert.Equal(t, "Subject: hi", text)
	assert.Equal(t, "gpt-test", body["model"])
	assert.Equal(t, 1.2, body["temperature"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenAILLM_Errors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		hits := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
		}))
		defer srv.Close()
		llm, err := NewOpenAILLMFromConfig(&LLMSettings{APIKey: "k", Model: "m", BaseURL: srv.URL + "/v1/"})
		require.NoError(t, err)

		_, err = llm.Complete(context.Background(), testPrompt())
		ge := AsGenerationError(err)
		assert.Equal(t, KindServiceError, ge.Kind)
		assert.Equal(t, http.StatusServiceUnavailable, ge.StatusCode)
		assert.Equal(t, 1, hits, "the sdk must not retry on its own")
	})

	t.Run("empty choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`)
		}))
		defer srv.Close()
		llm, err := NewOpenAILLMFromConfig(&LLMSettings{APIKey: "k", Model: "m", BaseURL: srv.URL + "/v1/"})
		require.NoError(t, err)

		_, err = llm.Complete(context.Background(), testPrompt())
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("connection refused", func(t *testing.T) {
		llm, err := NewOpenAILLMFromConfig(&LLMSettings{APIKey: "k", Model: "m", BaseURL: closedServerURL() + "/v1/"})
		require.NoError(t, err)

		_, err = llm.Complete(context.Background(), testPrompt())
		assert.ErrorIs(t, err, ErrNetworkFailure)
	})
}

func TestOllamaLLM_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] == "missing" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"model \"missing\" not found"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"llama3","message":{"role":"assistant","content":"# Draft"},"done":true}`+"\n")
	}))
	defer srv.Close()

	llm, err := NewOllamaLLMFromConfig(&LLMSettings{Model: "llama3", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	text, err := llm.Complete(context.Background(), testPrompt())
	require.NoError(t, err)
	assert.Equal(t, "# Draft", text)

	p := testPrompt()
	p.Model = "missing"
	_, err = llm.Complete(context.Background(), p)
	ge := AsGenerationError(err)
	assert.Equal(t, KindServiceError, ge.Kind)
	assert.Equal(t, http.StatusNotFound, ge.StatusCode)
	assert.Contains(t, ge.Detail, "not found")
}

func TestNewLLMClient(t *testing.T) {
	_, err := NewLLMClient(nil)
	assert.Error(t, err)
	_, err = NewLLMClient(&LLMSettings{Provider: "deepseek", APIKey: "k", Model: "m"})
	assert.Error(t, err)
	_, err = NewLLMClient(&LLMSettings{Provider: "claude"})
	assert.Error(t, err)

	c, err := NewLLMClient(&LLMSettings{Provider: "MOCK"})
	require.NoError(t, err)
	assert.IsType(t, MockLLM{}, c)

	c, err = NewLLMClient(&LLMSettings{Provider: "deepseek", APIKey: "k", Model: "deepseek-chat", BaseURL: "https://api.deepseek.com/v1"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAILLM{}, c)
}

func TestNewLLMClient_DefaultModelPerProvider(t *testing.T) {
	settings := &LLMSettings{Provider: "openai", APIKey: "k"}
	c, err := NewLLMClient(settings)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", c.(*OpenAILLM).Model)
	assert.Empty(t, settings.Model, "caller settings are left untouched")

	c, err = NewLLMClient(&LLMSettings{Provider: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, "llama3.2", c.(*OllamaLLM).Model)

	c, err = NewLLMClient(&LLMSettings{Provider: "gemini", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", c.(*GeminiLLM).Model)

	c, err = NewLLMClient(&LLMSettings{Provider: "openai", APIKey: "k", Model: "gpt-4.1"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", c.(*OpenAILLM).Model)
	assert.Empty(t, DefaultModel("claude"))
}

func TestMockLLM(t *testing.T) {
	ctx := context.Background()
	html, err := MockLLM{}.Complete(ctx, BuildInitialPrompt(GenerationRequest{PromptText: "<b>cafe</b>", Mode: ModeWebsite}))
	require.NoError(t, err)
	assert.Equal(t, ContentHTMLDocument, Classify(html))
	assert.Contains(t, html, "&lt;b&gt;cafe&lt;/b&gt;")

	md, err := MockLLM{}.Complete(ctx, BuildInitialPrompt(GenerationRequest{PromptText: "post", Mode: ModeBlog}))
	require.NoError(t, err)
	assert.Equal(t, ContentPlainText, Classify(md))

	same, err := MockLLM{}.Complete(ctx, BuildImprovePrompt(GenerationResult{Text: html}))
	require.NoError(t, err)
	assert.Equal(t, html, same)
}
