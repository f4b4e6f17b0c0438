package provider

import (
	"context"
	"net/http"
	"sync"

	"github.com/MimeLyc/translation-orchestrator/internal/llm"
)

// OpenAICompatible calls any /chat/completions endpoint through the llm client.
// Clients are cached per endpoint, credential and model; sampling settings
// travel with each request.
type OpenAICompatible struct {
	httpClient *http.Client

	mu      sync.Mutex
	clients map[clientKey]*llm.Client
}

type clientKey struct {
	endpoint   string
	credential string
	model      string
}

func NewOpenAICompatible(httpClient *http.Client) *OpenAICompatible {
	return &OpenAICompatible{
		httpClient: httpClient,
		clients:    make(map[clientKey]*llm.Client),
	}
}

func (o *OpenAICompatible) client(req Request) (*llm.Client, error) {
	key := clientKey{endpoint: req.Endpoint, credential: req.Credential, model: req.ModelID}

	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.clients[key]; ok {
		return c, nil
	}
	c, err := llm.NewClient(&llm.Config{
		APIKey:      req.Credential,
		APIURL:      req.Endpoint,
		Model:       req.ModelID,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		// the registry bounds the call through ctx
		Timeout: 3600,
	})
	if err != nil {
		return nil, err
	}
	c.WithHTTPClient(o.httpClient)
	o.clients[key] = c
	return c, nil
}

func (o *OpenAICompatible) Translate(ctx context.Context, req Request) (Result, error) {
	client, err := o.client(req)
	if err != nil {
		return Result{}, err
	}

	opts := llm.NewChatCompletionOptions().
		WithSystemPrompt(req.SystemPrompt).
		WithMaxTokens(req.MaxTokens).
		WithTemperature(req.Temperature)
	choice, err := client.Complete(ctx, req.Text, opts)
	if err != nil {
		return Result{}, err
	}
	text, confidence := ParseOutput(choice.Message.Content, FinishConfidence(choice.FinishReason))
	return Result{TranslatedText: text, Confidence: confidence}, nil
}
