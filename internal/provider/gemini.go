package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Gemini calls the Google AI generateContent endpoint.
type Gemini struct {
	httpClient *http.Client
}

func NewGemini(httpClient *http.Client) *Gemini {
	return &Gemini{httpClient: httpClient}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

func (g *Gemini) Translate(ctx context.Context, req Request) (Result, error) {
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Text}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(req.Endpoint, "/"), url.PathEscape(req.ModelID))
	headers := map[string]string{"x-goog-api-key": req.Credential}

	var resp geminiResponse
	if err := postJSON(ctx, g.httpClient, endpoint, headers, body, &resp); err != nil {
		return Result{}, err
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return Result{}, fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return Result{}, fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		sb.WriteString(part.Text)
	}
	text, confidence := ParseOutput(sb.String(), FinishConfidence(candidate.FinishReason))
	return Result{TranslatedText: text, Confidence: confidence}, nil
}
