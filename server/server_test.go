package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webforge/generator"
	"webforge/localstore"
	"webforge/metrics"
	"webforge/projects"
)

type testEnv struct {
	handler   http.Handler
	session   *generator.Session
	dashboard *projects.Dashboard
}

func newTestEnv(t *testing.T, withProjects bool) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	agent, err := generator.NewAgent(generator.MockLLM{}, generator.AgentOptions{Provider: "mock", Model: "mock-1", Metrics: m})
	require.NoError(t, err)
	sess, err := generator.NewSession(context.Background(), agent, localstore.NewMemoryStore(generator.PersistedState{}), generator.SessionConfig{}, nil)
	require.NoError(t, err)

	env := &testEnv{session: sess}
	opts := Options{Session: sess, Gatherer: reg}
	if withProjects {
		adapter, err := projects.NewAdapter(projects.NewMemoryStore(), projects.Identity{UID: "u1"}, nil, m)
		require.NoError(t, err)
		d := projects.NewDashboard(adapter, nil)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			_ = d.Run(ctx)
			close(done)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
		require.Eventually(t, d.Ready, time.Second, 5*time.Millisecond)
		opts.Dashboard = d
		env.dashboard = d
	}
	srv, err := New(opts)
	require.NoError(t, err)
	env.handler = srv.Routes()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var body struct {
		Error APIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestGenerate(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/generate", `{"prompt":"A landing page for a bakery","tone":"friendly"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res generator.GenerationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, generator.ContentHTMLDocument, res.ContentKind)
	assert.Equal(t, generator.ModeWebsite, res.Request.Mode)
	assert.Equal(t, generator.ToneFriendly, res.Request.Tone)

	w = env.do(t, http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		History []generator.HistoryEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	require.Len(t, hist.History, 1)
	assert.Equal(t, res.ID, hist.History[0].Result.ID)
}

func TestGenerate_Errors(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/generate", `{"prompt":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "empty_prompt", decodeError(t, w).Code)

	w = env.do(t, http.MethodPost, "/api/generate", `{"prompt":"x","mode":"poem"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad_request", decodeError(t, w).Code)

	w = env.do(t, http.MethodPost, "/api/generate", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNoResultYet(t *testing.T) {
	env := newTestEnv(t, false)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/preview"},
		{http.MethodGet, "/api/download"},
		{http.MethodPost, "/api/generate/variation"},
		{http.MethodPost, "/api/generate/improve"},
	} {
		w := env.do(t, tc.method, tc.path, "")
		assert.Equal(t, http.StatusConflict, w.Code, tc.path)
		assert.Equal(t, "no_result", decodeError(t, w).Code, tc.path)
	}
}

func TestPreviewAndDownload(t *testing.T) {
	env := newTestEnv(t, false)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/generate", `{"prompt":"Team offsite","mode":"blog"}`).Code)

	w := env.do(t, http.MethodGet, "/api/preview", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "<h1")

	w = env.do(t, http.MethodGet, "/api/download", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
}

func TestVariationAndImprove(t *testing.T) {
	env := newTestEnv(t, false)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/generate", `{"prompt":"Portfolio"}`).Code)

	w := env.do(t, http.MethodPost, "/api/generate/variation", "")
	require.Equal(t, http.StatusOK, w.Code)
	var v generator.GenerationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.True(t, v.Request.Variation)

	w = env.do(t, http.MethodPost, "/api/generate/improve", "")
	require.Equal(t, http.StatusOK, w.Code)
	var imp generator.GenerationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &imp))
	// The mock echoes the content back.
	assert.Equal(t, v.Text, imp.Text)
}

func TestSavedPrompts(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/saved", `{"prompt":"Weekly newsletter"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sp generator.SavedPrompt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sp))
	assert.Equal(t, "Weekly newsletter", sp.Text)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/api/session/prompt", `{"prompt":"something else"}`).Code)
	w = env.do(t, http.MethodPost, "/api/saved/"+sp.ID+"/load", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Weekly newsletter", env.session.View().PromptText)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/saved/missing/load", "").Code)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/saved/"+sp.ID, "").Code)
	assert.Empty(t, env.session.View().Saved)
}

func TestPreferences(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPut, "/api/preferences", `{"tone":"formal","language":"german"}`)
	require.Equal(t, http.StatusOK, w.Code)
	view := env.session.View()
	assert.Equal(t, generator.ToneFormal, view.Preferences.Tone)
	assert.Equal(t, generator.LanguageGerman, view.Config.Language)

	w = env.do(t, http.MethodPut, "/api/preferences", `{"tone":"grumpy"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClearHistory(t *testing.T) {
	env := newTestEnv(t, false)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/generate", `{"prompt":"one"}`).Code)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/history", "").Code)
	assert.Empty(t, env.session.View().History)
}

func TestProjectsDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, http.MethodGet, "/api/projects", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "projects_disabled", decodeError(t, w).Code)
}

func TestProjectsFlow(t *testing.T) {
	env := newTestEnv(t, true)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/projects/save", "").Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/generate", `{"prompt":"Coffee shop site"}`).Code)
	w := env.do(t, http.MethodPost, "/api/projects/save", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var p projects.Project
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "Coffee shop site", p.Name)

	w = env.do(t, http.MethodPatch, "/api/projects/current", `{"name":"Cafe"}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		list := env.dashboard.Projects()
		return len(list) == 1 && list[0].Name == "Cafe"
	}, time.Second, 5*time.Millisecond)

	w = env.do(t, http.MethodDelete, "/api/projects/"+p.ID, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "delete_not_confirmed", decodeError(t, w).Code)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/projects/"+p.ID+"?confirm=true", "").Code)
	require.Eventually(t, func() bool { return len(env.dashboard.Projects()) == 0 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/projects/"+p.ID+"/open", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, true)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/generate", `{"prompt":"hello"}`).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/projects/save", "").Code)

	w := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "webforge_llm_requests_total")
	assert.Contains(t, w.Body.String(), "webforge_projects_writes_total")
}

func TestStaticIndexAndUnknownAPI(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<title>webforge</title>")

	w = env.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProjectsLiveFeed(t *testing.T) {
	env := newTestEnv(t, true)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/projects/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg liveMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Empty(t, msg.Projects)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/generate", `{"prompt":"Live site"}`).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/projects/save", "").Code)

	for len(msg.Projects) == 0 {
		require.NoError(t, conn.ReadJSON(&msg))
	}
	assert.Equal(t, "Live site", msg.Projects[0].Name)
	require.NotNil(t, msg.Current)
	assert.Equal(t, msg.Projects[0].ID, msg.Current.ID)
}
