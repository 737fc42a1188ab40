package generate

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sqlscout/sqlscout/internal/errors"
	"github.com/sqlscout/sqlscout/internal/retrieval"
)

// Client implements Service against OpenAI, Anthropic, or Ollama.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a generation client with the given configuration.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "invalid generator configuration")
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// sqlResponse is the JSON contract every provider is prompted to emit.
type sqlResponse struct {
	SQL         string  `json:"sql"`
	Explanation string  `json:"explanation"`
	Confidence  float64 `json:"confidence"`
}

// Generate produces one SQL candidate. An empty retrieval context is
// declined outright: generation without schema grounding is the case
// most likely to hallucinate tables that do not exist.
func (c *Client) Generate(
	ctx context.Context,
	question string,
	assembled *retrieval.Context,
	attempt int,
) (*Candidate, error) {
	if assembled == nil || assembled.Empty() {
		return nil, errors.New(errors.ErrTypeGenerationDeclined,
			"no relevant schema context retrieved for the question")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	prompt := c.buildPrompt(question, assembled)

	var (
		text string
		err  error
	)

	switch c.config.Provider {
	case ProviderOpenAI:
		text, err = c.completeOpenAI(callCtx, prompt)
	case ProviderAnthropic:
		text, err = c.completeAnthropic(callCtx, prompt)
	case ProviderOllama:
		text, err = c.completeOllama(callCtx, prompt)
	default:
		return nil, errors.Newf(errors.ErrTypeConfig, "unsupported provider: %s", c.config.Provider)
	}

	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return nil, errors.Wrap(err, errors.ErrTypeGenerationTimeout,
				"generation backend call timed out")
		}

		return nil, errors.Wrap(err, errors.ErrTypeGenerationDeclined,
			"generation backend call failed")
	}

	var response sqlResponse
	if err := json.Unmarshal([]byte(text), &response); err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeGenerationDeclined,
			"backend returned unparseable response")
	}

	if strings.TrimSpace(response.SQL) == "" {
		return nil, errors.New(errors.ErrTypeGenerationDeclined,
			"backend produced no SQL for the question")
	}

	if response.Confidence < c.config.MinConfidence {
		return nil, errors.Newf(errors.ErrTypeGenerationDeclined,
			"backend confidence %.2f below threshold %.2f",
			response.Confidence, c.config.MinConfidence)
	}

	return &Candidate{
		SQL:         strings.TrimSpace(response.SQL),
		Explanation: response.Explanation,
		Confidence:  response.Confidence,
		Attempt:     attempt,
		ContextIDs:  assembled.FragmentIDs(),
	}, nil
}

// buildPrompt creates the structured generation prompt.
func (c *Client) buildPrompt(question string, assembled *retrieval.Context) string {
	systemPrompt := `You are an expert at converting natural language questions into SQL queries.
Convert the user's question into a single valid SQL SELECT statement using only the schema provided.

Respond with a JSON object containing these fields:
- sql: The SQL query (a single SELECT statement, or empty string if you cannot answer)
- explanation: A short explanation of what the query does
- confidence: A float between 0.0 and 1.0

Rules:
1. Only reference tables and columns that appear in the schema below
2. Use JOINs from the join hints where tables must be combined
3. Prefer TOP or LIMIT clauses for potentially large result sets
4. Never emit INSERT, UPDATE, DELETE, or any other write operation
5. If the schema does not support the question, return an empty sql field with confidence 0.0

%s

Question: %s`

	return fmt.Sprintf(systemPrompt, assembled.Render(), question)
}

// OpenAI API structures
type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Temperature    float64               `json:"temperature,omitempty"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (c *Client) completeOpenAI(ctx context.Context, prompt string) (string, error) {
	reqBody := openAIRequest{
		Model: c.config.Model,
		Messages: []openAIMessage{
			{Role: "user", Content: prompt},
		},
		Temperature:    c.config.Temperature,
		MaxTokens:      c.config.MaxTokens,
		ResponseFormat: &openAIResponseFormat{Type: "json_object"},
	}

	respBody, err := c.post(ctx, c.config.BaseURL+"/chat/completions", reqBody, map[string]string{
		"Authorization": "Bearer " + c.config.APIKey,
	})
	if err != nil {
		return "", err
	}

	var response openAIResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse OpenAI response: %w", err)
	}

	if response.Error != nil {
		return "", fmt.Errorf("OpenAI API error: %s", response.Error.Message)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}

	return response.Choices[0].Message.Content, nil
}

// Anthropic API structures
type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (c *Client) completeAnthropic(ctx context.Context, prompt string) (string, error) {
	reqBody := anthropicRequest{
		Model:     c.config.Model,
		MaxTokens: c.config.MaxTokens,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}

	respBody, err := c.post(ctx, c.config.BaseURL+"/messages", reqBody, map[string]string{
		"x-api-key":         c.config.APIKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return "", err
	}

	var response anthropicResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse Anthropic response: %w", err)
	}

	if response.Error != nil {
		return "", fmt.Errorf("Anthropic API error: %s", response.Error.Message)
	}

	if len(response.Content) == 0 {
		return "", fmt.Errorf("no response from Anthropic")
	}

	return response.Content[0].Text, nil
}

// Ollama API structures
type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (c *Client) completeOllama(ctx context.Context, prompt string) (string, error) {
	reqBody := ollamaRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		Stream: false,
		Format: "json",
	}

	respBody, err := c.post(ctx, c.config.BaseURL+"/api/generate", reqBody, nil)
	if err != nil {
		return "", err
	}

	var response ollamaResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse Ollama response: %w", err)
	}

	if response.Error != "" {
		return "", fmt.Errorf("Ollama API error: %s", response.Error)
	}

	return response.Response, nil
}

// post makes a JSON HTTP request to the provider API.
func (c *Client) post(ctx context.Context, url string, reqBody interface{}, headers map[string]string) ([]byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
