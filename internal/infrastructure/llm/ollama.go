package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ChatScribe/internal/config"
	"ChatScribe/internal/domain"
	"ChatScribe/internal/ports"
)

const analysisPrompt = `Analyze the following text and return the result as JSON:
{
    "title": "Short title (up to 5 words)",
    "summary": "Brief description (1-2 sentences)",
    "categories": ["category1", "category2"],
    "tags": ["tag1", "tag2"]
}

Text to analyze:
%s

Return ONLY the JSON, no additional text.`

// OllamaClient implements ports.Analyzer against an Ollama-compatible API.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ ports.Analyzer = (*OllamaClient)(nil)

// NewOllamaClient builds a client from configuration.
func NewOllamaClient(cfg config.OllamaConfig, log *slog.Logger) *OllamaClient {
	return &OllamaClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		model:   cfg.Model,
		logger:  log,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Setup verifies the endpoint is reachable and the configured model is
// present. Failure here aborts startup.
func (c *OllamaClient) Setup(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("list models: unexpected status %s", resp.Status)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decode models: %w", err)
	}

	for _, m := range tags.Models {
		if m.Name == c.model {
			return nil
		}
	}

	return fmt.Errorf("model %s not found on server", c.model)
}

// Analyze sends the text for analysis and parses the embedded JSON object
// out of the model response. No retry is performed here; retry policy
// belongs to the caller.
func (c *OllamaClient) Analyze(ctx context.Context, text string) (domain.AnalysisResult, error) {
	if strings.TrimSpace(text) == "" {
		return domain.AnalysisResult{}, &ports.ValidationError{Reason: "empty text"}
	}

	body, err := json.Marshal(map[string]any{
		"model":  c.model,
		"prompt": fmt.Sprintf(analysisPrompt, text),
		"stream": false,
	})
	if err != nil {
		return domain.AnalysisResult{}, &ports.GatewayError{Reason: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return domain.AnalysisResult{}, &ports.GatewayError{Reason: "new request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.AnalysisResult{}, &ports.GatewayError{Reason: "send request", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.AnalysisResult{}, &ports.GatewayError{Reason: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return domain.AnalysisResult{}, &ports.GatewayError{
			Reason: "unexpected status",
			Status: resp.StatusCode,
			Raw:    string(raw),
		}
	}

	var generated struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &generated); err != nil {
		return domain.AnalysisResult{}, &ports.GatewayError{Reason: "malformed body", Raw: string(raw), Err: err}
	}

	extracted, err := extractJSON(generated.Response)
	if err != nil {
		return domain.AnalysisResult{}, &ports.GatewayError{Reason: "no JSON in response", Raw: generated.Response, Err: err}
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal([]byte(extracted), &result); err != nil {
		return domain.AnalysisResult{}, &ports.GatewayError{Reason: "parse analysis", Raw: generated.Response, Err: err}
	}

	result.Raw = []byte(extracted)
	c.debug("analysis complete", "title", result.Title, "categories", len(result.Categories))
	return result, nil
}

// extractJSON locates the first '{' and the last '}' in the model output
// and strips a leading/trailing code fence if present. Models wrap the JSON
// in prose often enough that this heuristic is required.
func extractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("no JSON object found")
	}

	out := strings.TrimSpace(s[start : end+1])
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out), nil
}

func (c *OllamaClient) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
