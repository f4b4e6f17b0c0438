package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/translation-orchestrator/internal/apperr"
	"github.com/MimeLyc/translation-orchestrator/pkg/log"
)

// SettingsRepository persists registry snapshots. SaveSettings must commit
// the snapshot and the change log entry together or not at all.
type SettingsRepository interface {
	LoadSettings(ctx context.Context) (*Snapshot, error)
	SaveSettings(ctx context.Context, snapshot *Snapshot, entry ChangeLogEntry) error
	ListChangeLog(ctx context.Context, limit int) ([]ChangeLogEntry, error)
}

// ExecutionConfig is everything a job needs to call its provider, frozen at
// job creation.
type ExecutionConfig struct {
	ProviderID          string  `json:"provider_id"`
	ProviderKind        string  `json:"provider_kind"`
	Endpoint            string  `json:"endpoint,omitempty"`
	CredentialReference string  `json:"credential_reference,omitempty"`
	ModelID             string  `json:"model_id"`
	PromptContent       string  `json:"prompt_content"`
	Temperature         float64 `json:"temperature"`
	MaxTokens           int     `json:"max_tokens"`
	SourceLanguage      string  `json:"source_language"`
	TargetLanguage      string  `json:"target_language"`
	SettingsVersion     int64   `json:"settings_version"`
}

// Redacted returns a copy with the credential reference masked.
func (c ExecutionConfig) Redacted() ExecutionConfig {
	c.CredentialReference = log.Mask(c.CredentialReference)
	return c
}

// SettingsStore is the configuration store. Writers are serialized by mu and
// publish a fresh snapshot only after the repository commit succeeded;
// readers load the current pointer without locking.
type SettingsStore struct {
	repo    SettingsRepository
	catalog ProviderCatalog

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]

	now   func() time.Time
	newID func() string
}

type SettingsOption func(*SettingsStore)

func WithSettingsClock(now func() time.Time) SettingsOption {
	return func(s *SettingsStore) {
		s.now = now
	}
}

// NewSettingsStore loads the persisted registry, or commits seed when the
// repository is empty.
func NewSettingsStore(ctx context.Context, repo SettingsRepository, catalog ProviderCatalog, seed *Snapshot, opts ...SettingsOption) (*SettingsStore, error) {
	if repo == nil {
		return nil, fmt.Errorf("settings repository is required")
	}
	s := &SettingsStore{
		repo:    repo,
		catalog: catalog,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}

	loaded, err := repo.LoadSettings(ctx)
	if err != nil {
		return nil, apperr.Persistence(err, "load settings")
	}
	if loaded != nil {
		log.Info("Loaded settings version %d (provider=%s model=%s)", loaded.Version, loaded.Active.ProviderID, loaded.Active.ModelID)
		s.current.Store(loaded)
		return s, nil
	}

	if seed == nil {
		return nil, apperr.Validation("no persisted settings and no seed provided")
	}
	next := seed.Clone()
	if err := next.validateActive(catalog); err != nil {
		return nil, err
	}
	next.Version = 1
	next.UpdatedAt = s.now()
	entry := s.entry("system", ActionBootstrap, fmt.Sprintf("seeded provider=%s model=%s", next.Active.ProviderID, next.Active.ModelID))
	if err := repo.SaveSettings(ctx, next, entry); err != nil {
		return nil, apperr.Persistence(err, "save seed settings")
	}
	log.Info("Seeded settings (provider=%s model=%s)", next.Active.ProviderID, next.Active.ModelID)
	s.current.Store(next)
	return s, nil
}

// Snapshot returns the last committed registry. Callers must not mutate it.
func (s *SettingsStore) Snapshot() *Snapshot {
	return s.current.Load()
}

func (s *SettingsStore) GetActiveConfig() ActiveConfig {
	return s.current.Load().Active
}

// Resolve freezes the active selection into an ExecutionConfig.
func (s *SettingsStore) Resolve() (ExecutionConfig, error) {
	snap := s.current.Load()
	if err := snap.validateActive(s.catalog); err != nil {
		return ExecutionConfig{}, err
	}
	provider, _ := snap.Provider(snap.Active.ProviderID)
	a := snap.Active
	return ExecutionConfig{
		ProviderID:          provider.ProviderID,
		ProviderKind:        provider.kind(),
		Endpoint:            provider.EndpointOverride,
		CredentialReference: provider.CredentialReference,
		ModelID:             a.ModelID,
		PromptContent:       a.PromptContent,
		Temperature:         a.Temperature,
		MaxTokens:           a.MaxTokens,
		SourceLanguage:      a.SourceLanguage,
		TargetLanguage:      a.TargetLanguage,
		SettingsVersion:     snap.Version,
	}, nil
}

func (s *SettingsStore) UpdateConfig(ctx context.Context, patch ConfigPatch, actor string) (ActiveConfig, error) {
	if patch.IsEmpty() {
		return ActiveConfig{}, apperr.Validation("config patch is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.current.Load()
	next := before.Clone()
	a := &next.Active

	if patch.ProviderID != nil {
		a.ProviderID = strings.TrimSpace(*patch.ProviderID)
	}
	if patch.ModelID != nil {
		a.ModelID = strings.TrimSpace(*patch.ModelID)
	}
	if a.ModelID != before.Active.ModelID || a.ProviderID != before.Active.ProviderID {
		// a new model brings its own defaults unless the patch overrides them
		if model, ok := next.Model(a.ProviderID, a.ModelID); ok {
			a.Temperature = model.Temperature
			a.MaxTokens = model.MaxTokens
		}
	}
	if patch.PromptName != nil {
		name := strings.TrimSpace(*patch.PromptName)
		prompt, ok := next.Prompt(name)
		if !ok {
			return ActiveConfig{}, apperr.Validation("unknown prompt %q", name)
		}
		a.PromptName = prompt.Name
		a.PromptContent = prompt.Content
	}
	if patch.PromptContent != nil {
		a.PromptContent = *patch.PromptContent
		if patch.PromptName == nil {
			a.PromptName = ""
		}
	}
	if patch.Temperature != nil {
		a.Temperature = *patch.Temperature
	}
	if patch.MaxTokens != nil {
		a.MaxTokens = *patch.MaxTokens
	}
	if patch.SourceLanguage != nil {
		a.SourceLanguage = strings.TrimSpace(*patch.SourceLanguage)
	}
	if patch.TargetLanguage != nil {
		a.TargetLanguage = strings.TrimSpace(*patch.TargetLanguage)
	}

	if err := next.validateActive(s.catalog); err != nil {
		return ActiveConfig{}, err
	}
	if err := s.commit(ctx, next, actor, ActionUpdateConfig, diffActive(before.Active, next.Active)); err != nil {
		return ActiveConfig{}, err
	}
	return next.Active, nil
}

func (s *SettingsStore) RegisterProvider(ctx context.Context, provider ProviderConfig, actor string) (ProviderConfig, error) {
	provider.ProviderID = strings.TrimSpace(provider.ProviderID)
	provider.Kind = strings.TrimSpace(provider.Kind)
	if provider.Kind == "" {
		provider.Kind = provider.ProviderID
	}
	if strings.TrimSpace(provider.DisplayName) == "" {
		provider.DisplayName = provider.ProviderID
	}
	if err := validateProvider(provider, s.catalog); err != nil {
		return ProviderConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().Clone()
	_, existed := next.Provider(provider.ProviderID)
	next.upsertProvider(provider)
	if next.Active.ProviderID == provider.ProviderID && !provider.IsActive {
		return ProviderConfig{}, apperr.Validation("provider %q is selected by the active configuration and cannot be deactivated", provider.ProviderID)
	}

	verb := "added"
	if existed {
		verb = "updated"
	}
	summary := fmt.Sprintf("%s provider %s (kind=%s active=%t credential=%s endpoint=%s)",
		verb, provider.ProviderID, provider.Kind, provider.IsActive, log.Mask(provider.CredentialReference), provider.EndpointOverride)
	if err := s.commit(ctx, next, actor, ActionRegisterProvider, summary); err != nil {
		return ProviderConfig{}, err
	}
	return provider, nil
}

func (s *SettingsStore) RegisterModel(ctx context.Context, model ModelConfig, actor string) (ModelConfig, error) {
	model.ProviderID = strings.TrimSpace(model.ProviderID)
	model.ModelID = strings.TrimSpace(model.ModelID)
	if strings.TrimSpace(model.DisplayName) == "" {
		model.DisplayName = model.ModelID
	}
	if err := validateModel(model); err != nil {
		return ModelConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().Clone()
	if _, ok := next.Provider(model.ProviderID); !ok {
		return ModelConfig{}, apperr.Validation("unknown provider %q", model.ProviderID)
	}
	if next.Active.ProviderID == model.ProviderID && next.Active.ModelID == model.ModelID && !model.IsActive {
		return ModelConfig{}, apperr.Validation("model %q is selected by the active configuration and cannot be deactivated", model.ModelID)
	}
	_, existed := next.Model(model.ProviderID, model.ModelID)
	next.upsertModel(model)

	verb := "added"
	if existed {
		verb = "updated"
	}
	summary := fmt.Sprintf("%s model %s/%s (max_tokens=%d temperature=%v active=%t)",
		verb, model.ProviderID, model.ModelID, model.MaxTokens, model.Temperature, model.IsActive)
	if err := s.commit(ctx, next, actor, ActionRegisterModel, summary); err != nil {
		return ModelConfig{}, err
	}
	return model, nil
}

func (s *SettingsStore) RegisterPrompt(ctx context.Context, prompt PromptTemplate, actor string) (PromptTemplate, error) {
	prompt.Name = strings.TrimSpace(prompt.Name)
	if err := validatePrompt(prompt); err != nil {
		return PromptTemplate{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().Clone()
	_, existed := next.Prompt(prompt.Name)
	next.upsertPrompt(prompt)

	verb := "added"
	if existed {
		verb = "updated"
	}
	summary := fmt.Sprintf("%s prompt %s (%d chars, default=%t)", verb, prompt.Name, len(prompt.Content), prompt.IsDefault)
	if err := s.commit(ctx, next, actor, ActionRegisterPrompt, summary); err != nil {
		return PromptTemplate{}, err
	}
	return prompt, nil
}

func (s *SettingsStore) GetChangeLog(ctx context.Context, limit int) ([]ChangeLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	entries, err := s.repo.ListChangeLog(ctx, limit)
	if err != nil {
		return nil, apperr.Persistence(err, "list change log")
	}
	return entries, nil
}

// commit persists next with its change log entry and publishes it. Caller holds mu.
func (s *SettingsStore) commit(ctx context.Context, next *Snapshot, actor, action, summary string) error {
	next.Version = s.current.Load().Version + 1
	next.UpdatedAt = s.now()
	entry := s.entry(actor, action, summary)
	if err := s.repo.SaveSettings(ctx, next, entry); err != nil {
		log.Error("Failed to persist settings (%s by %s): %v", action, entry.Actor, err)
		return apperr.Persistence(err, "save settings")
	}
	s.current.Store(next)
	log.Info("Settings v%d committed: %s by %s: %s", next.Version, action, entry.Actor, summary)
	return nil
}

func (s *SettingsStore) entry(actor, action, summary string) ChangeLogEntry {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = "admin"
	}
	return ChangeLogEntry{
		ID:          s.newID(),
		Actor:       actor,
		Timestamp:   s.now(),
		Action:      action,
		DiffSummary: summary,
	}
}
