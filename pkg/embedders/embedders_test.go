package embedders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "hello", req.Prompt)

		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "")
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOllamaEmbedEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "custom-model")
	_, err := e.Embed(context.Background(), "hello")
	assert.Error(t, err)
	assert.Equal(t, "custom-model", e.Model())
}

func TestOpenAIEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		w.Write([]byte(`{"data":[{"embedding":[1,2]}]}`))
	}))
	defer server.Close()

	e := NewOpenAIEmbedder(server.URL, "", "sk-test")
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)
}

func TestNewSelectsProvider(t *testing.T) {
	e, err := New(Config{Provider: "ollama"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaEmbedder{}, e)

	e, err = New(Config{Provider: "openai"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEmbedder{}, e)

	_, err = New(Config{Provider: "bedrock"})
	assert.Error(t, err)
}
