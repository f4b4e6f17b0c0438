package config

// DefaultPromptName is the prompt seeded on first boot.
const DefaultPromptName = "default"

// DefaultPrompt asks for a tag delimited answer so the provider output parser
// can separate the translation from any commentary.
const DefaultPrompt = `You are a professional translator. Translate the following {{source_language}} text into {{target_language}}.

Guidelines:
- Keep the meaning faithful to the original and the tone natural for native {{target_language}} readers.
- Preserve names, numbers and religious or technical terms accurately.
- Do not add explanations inside the translation.

Return the translation inside <translation></translation> tags. Optionally add your confidence in the translation as a number between 0 and 1 inside <confidence></confidence> tags.`

// MockProviderID is the id of the deterministic offline provider.
const MockProviderID = "mock"

// SeedSnapshot builds the registry committed on first boot from the
// environment configuration.
func (c *Config) SeedSnapshot() *Snapshot {
	snap := &Snapshot{
		Providers: []ProviderConfig{},
		Models:    []ModelConfig{},
		Prompts: []PromptTemplate{{
			Name:        DefaultPromptName,
			Content:     DefaultPrompt,
			Description: "General purpose segment translation prompt",
			IsDefault:   true,
		}},
	}

	snap.upsertProvider(ProviderConfig{
		ProviderID:          c.LLM.Provider,
		Kind:                c.LLM.Kind,
		DisplayName:         c.LLM.Provider,
		CredentialReference: c.LLM.APIKeyRef,
		EndpointOverride:    c.LLM.APIURL,
		IsActive:            true,
	})
	snap.upsertModel(ModelConfig{
		ProviderID:  c.LLM.Provider,
		ModelID:     c.LLM.Model,
		DisplayName: c.LLM.Model,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: c.LLM.Temperature,
		IsActive:    true,
	})

	if c.LLM.MockEnabled && c.LLM.Provider != MockProviderID {
		snap.upsertProvider(ProviderConfig{
			ProviderID:  MockProviderID,
			Kind:        MockProviderID,
			DisplayName: "Deterministic mock",
			IsActive:    true,
		})
		snap.upsertModel(ModelConfig{
			ProviderID:  MockProviderID,
			ModelID:     "mock-1",
			DisplayName: "Mock model",
			MaxTokens:   c.LLM.MaxTokens,
			Temperature: 0,
			IsActive:    true,
		})
	}

	snap.Active = ActiveConfig{
		ProviderID:     c.LLM.Provider,
		ModelID:        c.LLM.Model,
		PromptName:     DefaultPromptName,
		PromptContent:  DefaultPrompt,
		Temperature:    c.LLM.Temperature,
		MaxTokens:      c.LLM.MaxTokens,
		SourceLanguage: c.Translate.SourceLanguage.String(),
		TargetLanguage: c.Translate.TargetLanguage.String(),
	}
	return snap
}
