package embedder

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ragstack/ragstack-go/internal/rag"
)

func TestVoyageEmbedder_SendsInputType(t *testing.T) {
	var gotBody voyageEmbedRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2}, "index": 0},
				{"embedding": []float32{0.3, 0.4}, "index": 1},
			},
		})
	}))
	defer srv.Close()

	emb := NewVoyageEmbedder(&VoyageConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "voyage-3",
	})

	got, err := emb.Embed(context.Background(), []string{"doc one", "doc two"}, rag.ModeQuery)
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("want bearer auth header, got %q", gotAuth)
	}
	if gotBody.InputType != "query" {
		t.Errorf("want input_type %q, got %q", "query", gotBody.InputType)
	}
	if gotBody.Model != "voyage-3" {
		t.Errorf("want model voyage-3, got %q", gotBody.Model)
	}
	if len(got) != 2 || got[0][0] != 0.1 || got[1][1] != 0.4 {
		t.Errorf("unexpected embeddings: %v", got)
	}
}

func TestVoyageEmbedder_DocumentMode(t *testing.T) {
	var gotInputType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body voyageEmbedRequest
		json.NewDecoder(r.Body).Decode(&body)
		gotInputType = body.InputType
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1}, "index": 0}},
		})
	}))
	defer srv.Close()

	emb := NewVoyageEmbedder(&VoyageConfig{BaseURL: srv.URL, APIKey: "k", Model: "voyage-3"})
	if _, err := emb.Embed(context.Background(), []string{"doc"}, rag.ModeDocument); err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	if gotInputType != "document" {
		t.Errorf("want input_type %q, got %q", "document", gotInputType)
	}
}

func TestVoyageEmbedder_PlacesByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Out-of-order response.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{2}, "index": 1},
				{"embedding": []float32{1}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	emb := NewVoyageEmbedder(&VoyageConfig{BaseURL: srv.URL, APIKey: "k", Model: "voyage-3"})
	got, err := emb.Embed(context.Background(), []string{"a", "b"}, rag.ModeDocument)
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	if got[0][0] != 1 || got[1][0] != 2 {
		t.Errorf("embeddings not placed by index: %v", got)
	}
}

func TestVoyageEmbedder_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 2, 3}, "index": 0}},
		})
	}))
	defer srv.Close()

	emb := NewVoyageEmbedder(&VoyageConfig{BaseURL: srv.URL, APIKey: "k", Model: "voyage-3", Dimensions: 2})
	if _, err := emb.Embed(context.Background(), []string{"a"}, rag.ModeDocument); err == nil {
		t.Fatal("want dimension mismatch error, got nil")
	}
}

func TestVoyageEmbedder_APIErrorSurfacesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"detail": "invalid api key"})
	}))
	defer srv.Close()

	emb := NewVoyageEmbedder(&VoyageConfig{BaseURL: srv.URL, APIKey: "bad", Model: "voyage-3"})
	_, err := emb.Embed(context.Background(), []string{"a"}, rag.ModeQuery)
	if err == nil || !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("want error containing API detail, got %v", err)
	}
}

func TestOpenAIEmbedder_IgnoresMode(t *testing.T) {
	var gotRaw map[string]json.RawMessage

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotRaw)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1}, "index": 0}},
		})
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "text-embedding-3-small"})
	if _, err := emb.Embed(context.Background(), []string{"a"}, rag.ModeQuery); err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	if _, ok := gotRaw["input_type"]; ok {
		t.Error("openai request must not carry an input_type field")
	}
}

func TestOpenAIEmbedder_AzureAuth(t *testing.T) {
	var gotPath, gotKey, gotBearer string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotKey = r.Header.Get("api-key")
		gotBearer = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1}, "index": 0}},
		})
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL:    srv.URL,
		APIKey:     "azure-key",
		Model:      "embed-deploy",
		Azure:      true,
		APIVersion: "2025-04-01-preview",
	})
	if _, err := emb.Embed(context.Background(), []string{"a"}, rag.ModeDocument); err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}

	if gotKey != "azure-key" {
		t.Errorf("want api-key header, got %q", gotKey)
	}
	if gotBearer != "" {
		t.Errorf("azure mode must not send a bearer token, got %q", gotBearer)
	}
	if !strings.Contains(gotPath, "/deployments/embed-deploy/embeddings") ||
		!strings.Contains(gotPath, "api-version=2025-04-01-preview") {
		t.Errorf("unexpected azure path: %q", gotPath)
	}
}

func TestOllamaEmbedder_ModePrefixes(t *testing.T) {
	tests := []struct {
		name       string
		mode       rag.EmbedMode
		disable    bool
		wantPrefix string
	}{
		{"document mode", rag.ModeDocument, false, "search_document: "},
		{"query mode", rag.ModeQuery, false, "search_query: "},
		{"prefixes disabled", rag.ModeQuery, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotInput []string

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var body ollamaEmbedRequest
				json.NewDecoder(r.Body).Decode(&body)
				gotInput = body.Input
				json.NewEncoder(w).Encode(map[string]any{
					"embeddings": [][]float32{{1, 2}},
				})
			}))
			defer srv.Close()

			emb := NewOllamaEmbedder(&OllamaConfig{
				Host:                srv.URL,
				Model:               "nomic-embed-text",
				DisableModePrefixes: tt.disable,
			})
			if _, err := emb.Embed(context.Background(), []string{"hello"}, tt.mode); err != nil {
				t.Fatalf("Embed() failed: %v", err)
			}

			want := tt.wantPrefix + "hello"
			if len(gotInput) != 1 || gotInput[0] != want {
				t.Errorf("want input %q, got %q", want, gotInput)
			}
		})
	}
}

func TestOllamaEmbedder_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{1}},
		})
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	if _, err := emb.Embed(context.Background(), []string{"a", "b"}, rag.ModeDocument); err == nil {
		t.Fatal("want count mismatch error, got nil")
	}
}

func TestNewFromEnv_DefaultsToVoyage(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "")
	t.Setenv("VOYAGE_API_KEY", "vk")

	emb, err := NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv() failed: %v", err)
	}
	if _, ok := emb.(*VoyageEmbedder); !ok {
		t.Errorf("want *VoyageEmbedder, got %T", emb)
	}
}

func TestNewFromEnv_VoyageRequiresKey(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "voyage")
	t.Setenv("VOYAGE_API_KEY", "")
	t.Setenv("EMBEDDING_API_KEY", "")

	if _, err := NewFromEnv(); err == nil {
		t.Fatal("want missing-key error, got nil")
	}
}

func TestNewFromEnv_UnknownBackend(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "bedrock")

	_, err := NewFromEnv()
	if err == nil || !strings.Contains(err.Error(), "unknown backend") {
		t.Errorf("want unknown-backend error, got %v", err)
	}
}

func TestNewFromEnv_OllamaNeedsNoKey(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "ollama")

	emb, err := NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv() failed: %v", err)
	}
	if _, ok := emb.(*OllamaEmbedder); !ok {
		t.Errorf("want *OllamaEmbedder, got %T", emb)
	}
}

func TestDefaultDimensions(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "")

	tests := []struct {
		backend string
		want    int
	}{
		{"voyage", 1024},
		{"openai", 1536},
		{"azure", 1536},
		{"ollama", 768},
	}
	for _, tt := range tests {
		if got := DefaultDimensions(tt.backend); got != tt.want {
			t.Errorf("DefaultDimensions(%q): want %d, got %d", tt.backend, tt.want, got)
		}
	}

	t.Setenv("EMBEDDING_DIMENSIONS", "512")
	if got := DefaultDimensions("voyage"); got != 512 {
		t.Errorf("EMBEDDING_DIMENSIONS override: want 512, got %d", got)
	}
}

func TestValidate(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("voyage without key fails", func(t *testing.T) {
		t.Setenv("EMBEDDING_PROVIDER", "voyage")
		t.Setenv("VOYAGE_API_KEY", "")
		t.Setenv("EMBEDDING_API_KEY", "")
		if err := Validate(log); err == nil {
			t.Fatal("want error, got nil")
		}
	})

	t.Run("voyage with key passes", func(t *testing.T) {
		t.Setenv("EMBEDDING_PROVIDER", "voyage")
		t.Setenv("VOYAGE_API_KEY", "vk")
		if err := Validate(log); err != nil {
			t.Fatalf("want nil, got %v", err)
		}
	})

	t.Run("ollama needs nothing", func(t *testing.T) {
		t.Setenv("EMBEDDING_PROVIDER", "ollama")
		if err := Validate(log); err != nil {
			t.Fatalf("want nil, got %v", err)
		}
	})

	t.Run("azure without endpoint fails", func(t *testing.T) {
		t.Setenv("EMBEDDING_PROVIDER", "azure")
		t.Setenv("AZURE_OPENAI_API_KEY", "ak")
		t.Setenv("EMBEDDING_ENDPOINT", "")
		t.Setenv("AZURE_OPENAI_ENDPOINT", "")
		if err := Validate(log); err == nil {
			t.Fatal("want error, got nil")
		}
	})
}

func TestLooksLikeChatModel(t *testing.T) {
	chat := []string{"gpt-4o", "llama3.1:70b", "Mistral-7B", "qwen3-coder"}
	for _, m := range chat {
		if !looksLikeChatModel(m) {
			t.Errorf("looksLikeChatModel(%q): want true", m)
		}
	}
	embed := []string{"voyage-3", "text-embedding-3-small", "nomic-embed-text"}
	for _, m := range embed {
		if looksLikeChatModel(m) {
			t.Errorf("looksLikeChatModel(%q): want false", m)
		}
	}
}
