package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/translation-orchestrator/internal/apperr"
	"github.com/MimeLyc/translation-orchestrator/internal/config"
)

func execConfig(kind, endpoint string) config.ExecutionConfig {
	return config.ExecutionConfig{
		ProviderID:          kind + "-test",
		ProviderKind:        kind,
		Endpoint:            endpoint,
		CredentialReference: "secret-key",
		ModelID:             "test-model",
		PromptContent:       "Translate {{source_language}} to {{target_language}}.",
		Temperature:         0.1,
		MaxTokens:           256,
		SourceLanguage:      "ar",
		TargetLanguage:      "ur",
	}
}

func TestRegistry_OpenAICompatible(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		messages := body["messages"].([]any)
		system := messages[0].(map[string]any)
		assert.Equal(t, "Translate Arabic to Urdu.", system["content"])

		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"<translation>سلام</translation>"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	reg := NewDefaultRegistry(server.Client(), false)
	res, err := reg.Translate(context.Background(), execConfig(KindOpenAI, server.URL+"/v1"), "مرحبا")
	require.NoError(t, err)
	assert.Equal(t, "سلام", res.TranslatedText)
	assert.Equal(t, 0.85, res.Confidence)
}

func TestOpenAICompatible_ReusesClientWithPerRequestSettings(t *testing.T) {
	type seen struct {
		maxTokens   float64
		temperature float64
		model       string
	}
	var (
		mu    sync.Mutex
		calls []seen
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, seen{
			maxTokens:   body["max_tokens"].(float64),
			temperature: body["temperature"].(float64),
			model:       body["model"].(string),
		})
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"<translation>ok</translation>"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	invoker := NewOpenAICompatible(server.Client())
	req := Request{Text: "a", ModelID: "m1", MaxTokens: 100, Temperature: 0.1, Credential: "k", Endpoint: server.URL}
	_, err := invoker.Translate(context.Background(), req)
	require.NoError(t, err)

	req.MaxTokens, req.Temperature = 300, 0.9
	_, err = invoker.Translate(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, invoker.clients, 1)

	req.ModelID = "m2"
	_, err = invoker.Translate(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, invoker.clients, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []seen{
		{maxTokens: 100, temperature: 0.1, model: "m1"},
		{maxTokens: 300, temperature: 0.9, model: "m1"},
		{maxTokens: 300, temperature: 0.9, model: "m2"},
	}, calls)
}

func TestRegistry_Anthropic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var body anthropicRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 256, body.MaxTokens)
		assert.Equal(t, "مرحبا", body.Messages[0].Content)

		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"<translation>سلام</translation><confidence>0.66</confidence>"}],"stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	reg := NewDefaultRegistry(server.Client(), false)
	res, err := reg.Translate(context.Background(), execConfig(KindAnthropic, server.URL+"/v1"), "مرحبا")
	require.NoError(t, err)
	assert.Equal(t, "سلام", res.TranslatedText)
	assert.Equal(t, 0.66, res.Confidence)
}

func TestRegistry_Gemini(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("x-goog-api-key"))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"سلام"}]},"finishReason":"MAX_TOKENS"}]}`))
	}))
	defer server.Close()

	reg := NewDefaultRegistry(server.Client(), false)
	res, err := reg.Translate(context.Background(), execConfig(KindGemini, server.URL), "مرحبا")
	require.NoError(t, err)
	assert.Equal(t, "سلام", res.TranslatedText)
	assert.Equal(t, 0.4, res.Confidence)
}

func TestRegistry_FailuresAreProviderErrors(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer failing.Close()

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"   "},"finish_reason":"stop"}]}`))
	}))
	defer empty.Close()

	malformed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer malformed.Close()

	noCredential := execConfig(KindOpenAI, empty.URL)
	noCredential.CredentialReference = "env:ORCH_TEST_MISSING_KEY"

	tests := []struct {
		name string
		cfg  config.ExecutionConfig
	}{
		{name: "http 500", cfg: execConfig(KindOpenAI, failing.URL)},
		{name: "empty output", cfg: execConfig(KindOpenAI, empty.URL)},
		{name: "malformed body", cfg: execConfig(KindAnthropic, malformed.URL)},
		{name: "unknown kind", cfg: execConfig("deepl", empty.URL)},
		{name: "unresolvable credential", cfg: noCredential},
	}

	reg := NewDefaultRegistry(http.DefaultClient, false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Translate(context.Background(), tt.cfg, "text")
			require.Error(t, err)
			assert.True(t, apperr.IsType(err, apperr.ErrProvider), err.Error())
		})
	}
}

func TestRegistry_TimeoutIsProviderError(t *testing.T) {
	slow := NewRegistry(WithTimeout(30 * time.Millisecond))
	slow.Register("slow", Registration{Invoker: InvokerFunc(func(ctx context.Context, req Request) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	})})

	cfg := execConfig("slow", "")
	cfg.CredentialReference = ""
	_, err := slow.Translate(context.Background(), cfg, "text")
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrProvider))
	assert.Contains(t, err.Error(), "timed out")
}

func TestRegistry_RateLimit(t *testing.T) {
	reg := NewRegistry(WithRequestsPerMinute(600))
	reg.Register(KindMock, Registration{Invoker: NewMock()})

	cfg := execConfig(KindMock, "")
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := reg.Translate(context.Background(), cfg, "text")
		require.NoError(t, err)
	}
	// burst of one, then one call every 100ms
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
}

func TestRegistry_Catalog(t *testing.T) {
	reg := NewDefaultRegistry(nil, true)
	assert.Equal(t, []string{KindAnthropic, KindGemini, KindMock, KindOllama, KindOpenAI}, reg.Kinds())
	assert.True(t, reg.Supports(KindOllama))
	assert.False(t, reg.RequiresCredential(KindOllama))
	assert.True(t, reg.RequiresCredential(KindOpenAI))
	assert.False(t, reg.Supports("deepl"))

	withoutMock := NewDefaultRegistry(nil, false)
	assert.False(t, withoutMock.Supports(KindMock))
}

func TestMock_Deterministic(t *testing.T) {
	m := NewMock()
	req := Request{Text: "مرحبا", ModelID: "mock-1"}

	first, err := m.Translate(context.Background(), req)
	require.NoError(t, err)
	second, err := m.Translate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "[mock-1] مرحبا", first.TranslatedText)
	assert.GreaterOrEqual(t, first.Confidence, 0.70)
	assert.LessOrEqual(t, first.Confidence, 0.99)

	_, err = m.Translate(context.Background(), Request{Text: "bad " + MockFailMarker})
	require.Error(t, err)
}

func TestEnvCredentialResolver(t *testing.T) {
	t.Setenv("ORCH_TEST_KEY", "sk-live")

	got, err := EnvCredentialResolver("env:ORCH_TEST_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-live", got)

	got, err = EnvCredentialResolver("literal-key")
	require.NoError(t, err)
	assert.Equal(t, "literal-key", got)

	_, err = EnvCredentialResolver("env:ORCH_TEST_UNSET_KEY")
	require.Error(t, err)
}
