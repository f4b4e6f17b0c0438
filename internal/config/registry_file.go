package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RegistryFile is the optional YAML document named by REGISTRY_FILE. Its
// entries are merged into the first boot seed; a persisted registry always
// wins over it.
//
//	providers:
//	  - provider_id: groq
//	    kind: openai
//	    endpoint_override: https://api.groq.com/openai/v1
//	    credential_reference: env:GROQ_API_KEY
//	    is_active: true
//	models:
//	  - provider_id: groq
//	    model_id: llama-3.1-8b-instant
//	    max_tokens: 1000
//	    is_active: true
//	active:
//	  provider_id: groq
//	  model_id: llama-3.1-8b-instant
type RegistryFile struct {
	Providers []ProviderConfig  `yaml:"providers"`
	Models    []ModelConfig     `yaml:"models"`
	Prompts   []PromptTemplate  `yaml:"prompts"`
	Active    RegistrySelection `yaml:"active"`
}

type RegistrySelection struct {
	ProviderID string `yaml:"provider_id"`
	ModelID    string `yaml:"model_id"`
	PromptName string `yaml:"prompt_name"`
}

func LoadRegistryFile(path string) (*RegistryFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	var f RegistryFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse registry file %s: %w", path, err)
	}
	return &f, nil
}

// Merge upserts the file entries into snap and applies the active selection.
func (f *RegistryFile) Merge(snap *Snapshot) error {
	for _, p := range f.Providers {
		if strings.TrimSpace(p.ProviderID) == "" {
			return fmt.Errorf("registry file: provider without provider_id")
		}
		if p.DisplayName == "" {
			p.DisplayName = p.ProviderID
		}
		snap.upsertProvider(p)
	}
	for _, m := range f.Models {
		if err := validateModel(m); err != nil {
			return fmt.Errorf("registry file: %w", err)
		}
		if m.DisplayName == "" {
			m.DisplayName = m.ModelID
		}
		snap.upsertModel(m)
	}
	for _, p := range f.Prompts {
		if err := validatePrompt(p); err != nil {
			return fmt.Errorf("registry file: %w", err)
		}
		snap.upsertPrompt(p)
	}

	sel := f.Active
	if sel.ProviderID != "" {
		snap.Active.ProviderID = sel.ProviderID
	}
	if sel.ModelID != "" {
		m, ok := snap.Model(snap.Active.ProviderID, sel.ModelID)
		if !ok {
			return fmt.Errorf("registry file: model %s/%s is not registered", snap.Active.ProviderID, sel.ModelID)
		}
		snap.Active.ModelID = m.ModelID
		snap.Active.MaxTokens = m.MaxTokens
		snap.Active.Temperature = m.Temperature
	}
	if sel.PromptName != "" {
		p, ok := snap.Prompt(sel.PromptName)
		if !ok {
			return fmt.Errorf("registry file: prompt %s is not registered", sel.PromptName)
		}
		snap.Active.PromptName = p.Name
		snap.Active.PromptContent = p.Content
	}
	return nil
}

// LoadSeed returns SeedSnapshot with REGISTRY_FILE merged in when set.
func (c *Config) LoadSeed() (*Snapshot, error) {
	snap := c.SeedSnapshot()
	if c.LLM.RegistryFile == "" {
		return snap, nil
	}
	f, err := LoadRegistryFile(c.LLM.RegistryFile)
	if err != nil {
		return nil, err
	}
	if err := f.Merge(snap); err != nil {
		return nil, err
	}
	return snap, nil
}
