package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/MimeLyc/translation-orchestrator/internal/apperr"
	"github.com/MimeLyc/translation-orchestrator/pkg/log"
)

// ProviderConfig describes an external translation backend. Kind selects the
// implementation and defaults to ProviderID.
type ProviderConfig struct {
	ProviderID          string `json:"provider_id" yaml:"provider_id,omitempty"`
	Kind                string `json:"kind" yaml:"kind,omitempty"`
	DisplayName         string `json:"display_name" yaml:"display_name,omitempty"`
	CredentialReference string `json:"credential_reference,omitempty" yaml:"credential_reference,omitempty"`
	EndpointOverride    string `json:"endpoint_override,omitempty" yaml:"endpoint_override,omitempty"`
	IsActive            bool   `json:"is_active" yaml:"is_active,omitempty"`
}

// Redacted returns a copy safe to expose through the API or logs.
func (p ProviderConfig) Redacted() ProviderConfig {
	p.CredentialReference = log.Mask(p.CredentialReference)
	return p
}

func (p ProviderConfig) kind() string {
	if strings.TrimSpace(p.Kind) != "" {
		return p.Kind
	}
	return p.ProviderID
}

type ModelConfig struct {
	ProviderID  string  `json:"provider_id" yaml:"provider_id,omitempty"`
	ModelID     string  `json:"model_id" yaml:"model_id,omitempty"`
	DisplayName string  `json:"display_name" yaml:"display_name,omitempty"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature" yaml:"temperature,omitempty"`
	IsActive    bool    `json:"is_active" yaml:"is_active,omitempty"`
}

type PromptTemplate struct {
	Name        string `json:"name" yaml:"name,omitempty"`
	Content     string `json:"content" yaml:"content,omitempty"`
	Description string `json:"description" yaml:"description,omitempty"`
	IsDefault   bool   `json:"is_default" yaml:"is_default,omitempty"`
}

// ActiveConfig is the selection used for new jobs.
type ActiveConfig struct {
	ProviderID     string  `json:"provider_id"`
	ModelID        string  `json:"model_id"`
	PromptName     string  `json:"prompt_name,omitempty"`
	PromptContent  string  `json:"prompt_content"`
	Temperature    float64 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens"`
	SourceLanguage string  `json:"source_language"`
	TargetLanguage string  `json:"target_language"`
}

// ConfigPatch carries the fields of an UpdateConfig call. Nil fields are kept.
type ConfigPatch struct {
	ProviderID     *string  `json:"provider_id,omitempty"`
	ModelID        *string  `json:"model_id,omitempty"`
	PromptName     *string  `json:"prompt_name,omitempty"`
	PromptContent  *string  `json:"prompt_content,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      *int     `json:"max_tokens,omitempty"`
	SourceLanguage *string  `json:"source_language,omitempty"`
	TargetLanguage *string  `json:"target_language,omitempty"`
}

func (p ConfigPatch) IsEmpty() bool {
	return p.ProviderID == nil && p.ModelID == nil && p.PromptName == nil &&
		p.PromptContent == nil && p.Temperature == nil && p.MaxTokens == nil &&
		p.SourceLanguage == nil && p.TargetLanguage == nil
}

type ChangeLogEntry struct {
	ID          string    `json:"id"`
	Actor       string    `json:"actor"`
	Timestamp   time.Time `json:"timestamp"`
	Action      string    `json:"action"`
	DiffSummary string    `json:"diff_summary"`
}

const (
	ActionBootstrap        = "bootstrap"
	ActionUpdateConfig     = "update_config"
	ActionRegisterProvider = "register_provider"
	ActionRegisterModel    = "register_model"
	ActionRegisterPrompt   = "register_prompt"
)

// Snapshot is one committed version of the whole registry. Published
// snapshots are never mutated; writers work on a clone.
type Snapshot struct {
	Version   int64            `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
	Active    ActiveConfig     `json:"active"`
	Providers []ProviderConfig `json:"providers"`
	Models    []ModelConfig    `json:"models"`
	Prompts   []PromptTemplate `json:"prompts"`
}

func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	ret := *s
	ret.Providers = append([]ProviderConfig(nil), s.Providers...)
	ret.Models = append([]ModelConfig(nil), s.Models...)
	ret.Prompts = append([]PromptTemplate(nil), s.Prompts...)
	return &ret
}

func (s *Snapshot) Provider(id string) (ProviderConfig, bool) {
	for _, p := range s.Providers {
		if p.ProviderID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

func (s *Snapshot) Model(providerID, modelID string) (ModelConfig, bool) {
	for _, m := range s.Models {
		if m.ProviderID == providerID && m.ModelID == modelID {
			return m, true
		}
	}
	return ModelConfig{}, false
}

func (s *Snapshot) Prompt(name string) (PromptTemplate, bool) {
	for _, p := range s.Prompts {
		if p.Name == name {
			return p, true
		}
	}
	return PromptTemplate{}, false
}

// Redacted returns a clone with credential references masked.
func (s *Snapshot) Redacted() *Snapshot {
	ret := s.Clone()
	for i := range ret.Providers {
		ret.Providers[i] = ret.Providers[i].Redacted()
	}
	return ret
}

func (s *Snapshot) upsertProvider(p ProviderConfig) {
	for i := range s.Providers {
		if s.Providers[i].ProviderID == p.ProviderID {
			s.Providers[i] = p
			return
		}
	}
	s.Providers = append(s.Providers, p)
	sort.Slice(s.Providers, func(i, j int) bool { return s.Providers[i].ProviderID < s.Providers[j].ProviderID })
}

func (s *Snapshot) upsertModel(m ModelConfig) {
	for i := range s.Models {
		if s.Models[i].ProviderID == m.ProviderID && s.Models[i].ModelID == m.ModelID {
			s.Models[i] = m
			return
		}
	}
	s.Models = append(s.Models, m)
	sort.Slice(s.Models, func(i, j int) bool {
		if s.Models[i].ProviderID != s.Models[j].ProviderID {
			return s.Models[i].ProviderID < s.Models[j].ProviderID
		}
		return s.Models[i].ModelID < s.Models[j].ModelID
	})
}

func (s *Snapshot) upsertPrompt(p PromptTemplate) {
	if p.IsDefault {
		for i := range s.Prompts {
			s.Prompts[i].IsDefault = false
		}
	}
	for i := range s.Prompts {
		if s.Prompts[i].Name == p.Name {
			s.Prompts[i] = p
			return
		}
	}
	s.Prompts = append(s.Prompts, p)
	sort.Slice(s.Prompts, func(i, j int) bool { return s.Prompts[i].Name < s.Prompts[j].Name })
}

// ProviderCatalog reports which provider implementations are available.
type ProviderCatalog interface {
	Supports(kind string) bool
	RequiresCredential(kind string) bool
}

func validateProvider(p ProviderConfig, catalog ProviderCatalog) error {
	if strings.TrimSpace(p.ProviderID) == "" {
		return apperr.Validation("provider_id is required")
	}
	if catalog != nil {
		if !catalog.Supports(p.kind()) {
			return apperr.Validation("no translation invoker registered for provider kind %q", p.kind())
		}
		if catalog.RequiresCredential(p.kind()) && strings.TrimSpace(p.CredentialReference) == "" {
			return apperr.Validation("provider %q requires a credential_reference", p.ProviderID)
		}
	}
	return nil
}

func validateModel(m ModelConfig) error {
	if strings.TrimSpace(m.ProviderID) == "" {
		return apperr.Validation("provider_id is required")
	}
	if strings.TrimSpace(m.ModelID) == "" {
		return apperr.Validation("model_id is required")
	}
	if m.MaxTokens < 1 {
		return apperr.Validation("max_tokens must be greater than 0")
	}
	if m.Temperature < 0 || m.Temperature > 2 {
		return apperr.Validation("temperature must be between 0 and 2")
	}
	return nil
}

func validatePrompt(p PromptTemplate) error {
	if strings.TrimSpace(p.Name) == "" {
		return apperr.Validation("prompt name is required")
	}
	if strings.TrimSpace(p.Content) == "" {
		return apperr.Validation("prompt content is required")
	}
	return nil
}

// validateActive checks that the active selection references active registry entries.
func (s *Snapshot) validateActive(catalog ProviderCatalog) error {
	a := s.Active
	provider, ok := s.Provider(a.ProviderID)
	if !ok {
		return apperr.Validation("unknown provider %q", a.ProviderID)
	}
	if !provider.IsActive {
		return apperr.Validation("provider %q is not active", a.ProviderID)
	}
	if err := validateProvider(provider, catalog); err != nil {
		return err
	}
	model, ok := s.Model(a.ProviderID, a.ModelID)
	if !ok {
		return apperr.Validation("unknown model %q for provider %q", a.ModelID, a.ProviderID)
	}
	if !model.IsActive {
		return apperr.Validation("model %q is not active", a.ModelID)
	}
	if strings.TrimSpace(a.PromptContent) == "" {
		return apperr.Validation("prompt_content is required")
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return apperr.Validation("temperature must be between 0 and 2")
	}
	if a.MaxTokens < 1 {
		return apperr.Validation("max_tokens must be greater than 0")
	}
	if _, err := language.Parse(a.SourceLanguage); err != nil {
		return apperr.Validation("invalid source_language %q", a.SourceLanguage)
	}
	if _, err := language.Parse(a.TargetLanguage); err != nil {
		return apperr.Validation("invalid target_language %q", a.TargetLanguage)
	}
	return nil
}

// LanguageName renders a BCP 47 tag as an English display name, e.g. "ur" -> "Urdu".
func LanguageName(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	if name := display.English.Tags().Name(t); name != "" {
		return name
	}
	return tag
}

func diffActive(before, after ActiveConfig) string {
	changes := make([]string, 0)
	add := func(field string, from, to any) {
		if fmt.Sprint(from) != fmt.Sprint(to) {
			changes = append(changes, fmt.Sprintf("%s: %v -> %v", field, from, to))
		}
	}
	add("provider_id", before.ProviderID, after.ProviderID)
	add("model_id", before.ModelID, after.ModelID)
	add("prompt_name", before.PromptName, after.PromptName)
	if before.PromptContent != after.PromptContent {
		changes = append(changes, fmt.Sprintf("prompt_content: changed (%d chars)", len(after.PromptContent)))
	}
	add("temperature", before.Temperature, after.Temperature)
	add("max_tokens", before.MaxTokens, after.MaxTokens)
	add("source_language", before.SourceLanguage, after.SourceLanguage)
	add("target_language", before.TargetLanguage, after.TargetLanguage)
	if len(changes) == 0 {
		return "no changes"
	}
	return strings.Join(changes, "; ")
}
