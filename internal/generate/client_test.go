package generate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlscout/sqlscout/internal/errors"
	"github.com/sqlscout/sqlscout/internal/retrieval"
	"github.com/sqlscout/sqlscout/internal/schema"
)

func testContext() *retrieval.Context {
	return &retrieval.Context{
		Items: []retrieval.Item{
			{
				Kind: retrieval.ItemFragment,
				Fragment: schema.Fragment{
					ID:            "table:po_mstr",
					Kind:          schema.KindTable,
					QualifiedName: "po_mstr",
					Description:   "Purchase order headers",
					SourceTable:   "po_mstr",
				},
				Score: 0.9,
			},
		},
		Budget:     8000,
		Chars:      50,
		SchemaHits: 1,
	}
}

func testConfig(provider Provider, baseURL string) Config {
	return Config{
		Provider:      provider,
		Model:         "test-model",
		APIKey:        "test-key",
		BaseURL:       baseURL,
		Timeout:       5 * time.Second,
		Temperature:   0.1,
		MaxTokens:     1000,
		MinConfidence: 0.3,
	}
}

func encodeSQLResponse(t *testing.T, sql string, confidence float64) string {
	t.Helper()

	payload, err := json.Marshal(sqlResponse{
		SQL:         sql,
		Explanation: "counts purchase orders",
		Confidence:  confidence,
	})
	require.NoError(t, err)

	return string(payload)
}

func TestGenerateEmptyContextDeclined(t *testing.T) {
	client, err := NewClient(testConfig(ProviderOllama, "http://localhost:1"))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "how many orders", &retrieval.Context{}, 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeGenerationDeclined))

	_, err = client.Generate(context.Background(), "how many orders", nil, 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeGenerationDeclined))
}

func TestGenerateOllamaSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "json", req.Format)
		assert.Contains(t, req.Prompt, "po_mstr")
		assert.Contains(t, req.Prompt, "how many purchase orders")

		json.NewEncoder(w).Encode(ollamaResponse{
			Response: encodeSQLResponse(t, "SELECT COUNT(*) FROM po_mstr", 0.9),
			Done:     true,
		})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(ProviderOllama, server.URL))
	require.NoError(t, err)

	candidate, err := client.Generate(context.Background(), "how many purchase orders", testContext(), 2)
	require.NoError(t, err)

	assert.Equal(t, "SELECT COUNT(*) FROM po_mstr", candidate.SQL)
	assert.Equal(t, "counts purchase orders", candidate.Explanation)
	assert.InDelta(t, 0.9, candidate.Confidence, 0.001)
	assert.Equal(t, 2, candidate.Attempt)
	assert.Equal(t, []string{"table:po_mstr"}, candidate.ContextIDs)
}

func TestGenerateOpenAISuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{
				{Message: openAIMessage{
					Role:    "assistant",
					Content: encodeSQLResponse(t, "SELECT COUNT(*) FROM po_mstr", 0.8),
				}},
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(ProviderOpenAI, server.URL))
	require.NoError(t, err)

	candidate, err := client.Generate(context.Background(), "how many purchase orders", testContext(), 1)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM po_mstr", candidate.SQL)
}

func TestGenerateAnthropicSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{
				{Type: "text", Text: encodeSQLResponse(t, "SELECT COUNT(*) FROM po_mstr", 0.75)},
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(ProviderAnthropic, server.URL))
	require.NoError(t, err)

	candidate, err := client.Generate(context.Background(), "how many purchase orders", testContext(), 1)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM po_mstr", candidate.SQL)
}

func TestGenerateLowConfidenceDeclined(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{
			Response: encodeSQLResponse(t, "SELECT COUNT(*) FROM po_mstr", 0.1),
			Done:     true,
		})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(ProviderOllama, server.URL))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "how many purchase orders", testContext(), 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeGenerationDeclined))
}

func TestGenerateEmptySQLDeclined(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{
			Response: encodeSQLResponse(t, "", 0.0),
			Done:     true,
		})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(ProviderOllama, server.URL))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "what is the meaning of life", testContext(), 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeGenerationDeclined))
}

func TestGenerateHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(ProviderOllama, server.URL))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "how many purchase orders", testContext(), 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeGenerationDeclined))
}

func TestGenerateBadPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{
			Response: "this is not json",
			Done:     true,
		})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(ProviderOllama, server.URL))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "how many purchase orders", testContext(), 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeGenerationDeclined))
}

func TestGenerateTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	config := testConfig(ProviderOllama, server.URL)
	config.Timeout = 50 * time.Millisecond

	client, err := NewClient(config)
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "how many purchase orders", testContext(), 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeGenerationTimeout))
}

func TestNewClientInvalidConfig(t *testing.T) {
	config := testConfig(ProviderOpenAI, "")
	config.APIKey = ""

	_, err := NewClient(config)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestBuildPromptIncludesContext(t *testing.T) {
	client, err := NewClient(testConfig(ProviderOllama, "http://localhost:1"))
	require.NoError(t, err)

	prompt := client.buildPrompt("open purchase orders by vendor", testContext())

	assert.Contains(t, prompt, "open purchase orders by vendor")
	assert.Contains(t, prompt, "po_mstr")
	assert.Contains(t, prompt, "JSON")
}
