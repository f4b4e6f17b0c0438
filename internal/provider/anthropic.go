package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const anthropicVersion = "2023-06-01"

// Anthropic calls the Messages API.
type Anthropic struct {
	httpClient *http.Client
}

func NewAnthropic(httpClient *http.Client) *Anthropic {
	return &Anthropic{httpClient: httpClient}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *Anthropic) Translate(ctx context.Context, req Request) (Result, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := anthropicRequest{
		Model:       req.ModelID,
		MaxTokens:   maxTokens,
		System:      req.SystemPrompt,
		Temperature: req.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Text}},
	}
	headers := map[string]string{
		"x-api-key":         req.Credential,
		"anthropic-version": anthropicVersion,
	}

	var resp anthropicResponse
	url := strings.TrimRight(req.Endpoint, "/") + "/messages"
	if err := postJSON(ctx, a.httpClient, url, headers, body, &resp); err != nil {
		return Result{}, err
	}
	if resp.Error != nil {
		return Result{}, fmt.Errorf("anthropic error %s: %s", resp.Error.Type, resp.Error.Message)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text, confidence := ParseOutput(sb.String(), FinishConfidence(resp.StopReason))
	return Result{TranslatedText: text, Confidence: confidence}, nil
}
