package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/MimeLyc/translation-orchestrator/internal/apperr"
	"github.com/MimeLyc/translation-orchestrator/internal/config"
	"github.com/MimeLyc/translation-orchestrator/pkg/log"
)

// Request is one translation call.
type Request struct {
	Text         string
	SystemPrompt string
	ModelID      string
	MaxTokens    int
	Temperature  float64
	Credential   string
	Endpoint     string
}

type Result struct {
	TranslatedText string
	Confidence     float64
}

// Invoker calls one kind of external translator. Implementations must not
// retry and must return an error for any failed or unusable response.
type Invoker interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

type InvokerFunc func(ctx context.Context, req Request) (Result, error)

func (f InvokerFunc) Translate(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Registration binds an Invoker to a provider kind.
type Registration struct {
	Invoker            Invoker
	RequiresCredential bool
	DefaultEndpoint    string
}

const (
	KindOpenAI    = "openai"
	KindOllama    = "ollama"
	KindAnthropic = "anthropic"
	KindGemini    = "gemini"
	KindMock      = "mock"
)

// Registry dispatches translation calls by provider kind and applies the
// per call timeout and per provider rate limit.
type Registry struct {
	mu            sync.RWMutex
	registrations map[string]Registration
	limiters      map[string]*rate.Limiter

	timeout           time.Duration
	requestsPerMinute int
	resolve           CredentialResolver
}

type Option func(*Registry)

func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRequestsPerMinute limits calls per provider id. Zero disables limiting.
func WithRequestsPerMinute(n int) Option {
	return func(r *Registry) {
		r.requestsPerMinute = n
	}
}

func WithCredentialResolver(resolve CredentialResolver) Option {
	return func(r *Registry) {
		if resolve != nil {
			r.resolve = resolve
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		registrations: make(map[string]Registration),
		limiters:      make(map[string]*rate.Limiter),
		timeout:       60 * time.Second,
		resolve:       EnvCredentialResolver,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefaultRegistry registers every built in provider kind.
func NewDefaultRegistry(httpClient *http.Client, mockEnabled bool, opts ...Option) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	r := NewRegistry(opts...)
	r.Register(KindOpenAI, Registration{
		Invoker:            NewOpenAICompatible(httpClient),
		RequiresCredential: true,
		DefaultEndpoint:    "https://api.openai.com/v1",
	})
	r.Register(KindOllama, Registration{
		Invoker:         NewOpenAICompatible(httpClient),
		DefaultEndpoint: "http://localhost:11434/v1",
	})
	r.Register(KindAnthropic, Registration{
		Invoker:            NewAnthropic(httpClient),
		RequiresCredential: true,
		DefaultEndpoint:    "https://api.anthropic.com/v1",
	})
	r.Register(KindGemini, Registration{
		Invoker:            NewGemini(httpClient),
		RequiresCredential: true,
		DefaultEndpoint:    "https://generativelanguage.googleapis.com",
	})
	if mockEnabled {
		r.Register(KindMock, Registration{Invoker: NewMock()})
	}
	return r
}

func (r *Registry) Register(kind string, reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registrations[strings.TrimSpace(kind)] = reg
}

func (r *Registry) lookup(kind string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrations[kind]
	return reg, ok
}

func (r *Registry) Supports(kind string) bool {
	_, ok := r.lookup(kind)
	return ok
}

func (r *Registry) RequiresCredential(kind string) bool {
	reg, ok := r.lookup(kind)
	return ok && reg.RequiresCredential
}

// Kinds lists registered provider kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]string, 0, len(r.registrations))
	for kind := range r.registrations {
		ret = append(ret, kind)
	}
	sort.Strings(ret)
	return ret
}

func (r *Registry) limiter(providerID string) *rate.Limiter {
	if r.requestsPerMinute <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[providerID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.requestsPerMinute)), 1)
		r.limiters[providerID] = l
	}
	return l
}

// Translate runs text through the provider selected by cfg. Every failure is
// returned as an apperr.ErrProvider error.
func (r *Registry) Translate(ctx context.Context, cfg config.ExecutionConfig, text string) (Result, error) {
	ctx, span := otel.Tracer("translation-orchestrator/provider").Start(ctx, "provider.translate")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider.id", cfg.ProviderID),
		attribute.String("provider.kind", cfg.ProviderKind),
		attribute.String("provider.model", cfg.ModelID),
		attribute.Int("text.length", len(text)),
	)

	res, err := r.translate(ctx, cfg, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(attribute.Float64("translation.confidence", res.Confidence))
	return res, nil
}

func (r *Registry) translate(ctx context.Context, cfg config.ExecutionConfig, text string) (Result, error) {
	reg, ok := r.lookup(cfg.ProviderKind)
	if !ok {
		return Result{}, apperr.Provider(fmt.Errorf("kind %q", cfg.ProviderKind), "no translation invoker registered").
			WithContext("provider_id", cfg.ProviderID)
	}

	credential := ""
	if strings.TrimSpace(cfg.CredentialReference) != "" {
		secret, err := r.resolve(cfg.CredentialReference)
		if err != nil {
			return Result{}, apperr.Provider(err, "resolve credential").
				WithContext("provider_id", cfg.ProviderID).
				WithContext("credential", log.Mask(cfg.CredentialReference))
		}
		credential = secret
	}
	if reg.RequiresCredential && credential == "" {
		return Result{}, apperr.Provider(errors.New("empty credential"), "provider requires a credential").
			WithContext("provider_id", cfg.ProviderID)
	}

	if l := r.limiter(cfg.ProviderID); l != nil {
		if err := l.Wait(ctx); err != nil {
			return Result{}, apperr.Provider(err, "rate limit wait aborted").WithContext("provider_id", cfg.ProviderID)
		}
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = reg.DefaultEndpoint
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := reg.Invoker.Translate(callCtx, Request{
		Text:         text,
		SystemPrompt: RenderPrompt(cfg.PromptContent, cfg.SourceLanguage, cfg.TargetLanguage),
		ModelID:      cfg.ModelID,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		Credential:   credential,
		Endpoint:     endpoint,
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Result{}, apperr.Provider(err, fmt.Sprintf("provider call timed out after %s", r.timeout)).
				WithContext("provider_id", cfg.ProviderID)
		}
		if apperr.IsType(err, apperr.ErrProvider) {
			return Result{}, err
		}
		return Result{}, apperr.Provider(err, "provider call failed").WithContext("provider_id", cfg.ProviderID)
	}
	if strings.TrimSpace(res.TranslatedText) == "" {
		return Result{}, apperr.Provider(errors.New("empty output"), "provider returned no translation").
			WithContext("provider_id", cfg.ProviderID)
	}
	res.Confidence = clamp01(res.Confidence)
	return res, nil
}

// CredentialResolver turns a credential reference into the secret value.
type CredentialResolver func(ref string) (string, error)

// EnvCredentialResolver resolves "env:NAME" from the process environment and
// treats any other reference as the literal secret.
func EnvCredentialResolver(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if name, ok := strings.CutPrefix(ref, "env:"); ok {
		value, found := os.LookupEnv(name)
		if !found || strings.TrimSpace(value) == "" {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
		return value, nil
	}
	return ref, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
