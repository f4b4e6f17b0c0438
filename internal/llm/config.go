package llm

import (
	"fmt"
	"strings"
)

// Config holds the configuration for an OpenAI compatible chat completion
// endpoint (OpenAI, OpenRouter, Groq, Ollama, vLLM, ...).
//
// APIKey may be empty for endpoints that do not authenticate.
type Config struct {
	APIKey      string  `json:"-"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("API URL is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be greater than 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// GetHeaders returns the headers for the LLM API request
func (c *Config) GetHeaders() map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if c.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.APIKey
	}
	return headers
}
