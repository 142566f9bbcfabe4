package embedding

import (
	"context"
	"strings"

	arkembedding "github.com/cloudwego/eino-ext/components/embedding/ark"
	einoembedding "github.com/cloudwego/eino/components/embedding"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/zhouzirui/persona-lens/backend/internal/config"
)

// Provider names accepted by EMBEDDING_PROVIDER.
const (
	ProviderArk    = "ark"
	ProviderGemini = "gemini"
)

// NewProvider builds the raw embedding provider selected by cfg.
func NewProvider(ctx context.Context, cfg config.EmbeddingConfig) (einoembedding.Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderArk:
		return newArk(ctx, cfg)
	case ProviderGemini:
		return NewGemini(ctx, cfg.GeminiAPIKey, cfg.Model, cfg.Dimensions)
	default:
		return nil, goerr.New("unknown embedding provider", goerr.V("provider", cfg.Provider))
	}
}

func newArk(ctx context.Context, cfg config.EmbeddingConfig) (einoembedding.Embedder, error) {
	if cfg.Model == "" || (cfg.APIKey == "" && (cfg.AccessKey == "" || cfg.SecretKey == "")) {
		return nil, goerr.New("ark embedding requires EMBEDDING_MODEL and ARK_API_KEY or AK/SK")
	}

	emb, err := arkembedding.NewEmbedder(ctx, &arkembedding.EmbeddingConfig{
		BaseURL:   cfg.BaseURL,
		Region:    cfg.Region,
		APIKey:    cfg.APIKey,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Model:     cfg.Model,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create ark embedder")
	}
	return emb, nil
}

// Gemini embeds text with the Gemini API.
type Gemini struct {
	client     *genai.Client
	model      string
	dimensions int
}

var _ einoembedding.Embedder = (*Gemini)(nil)

// NewGemini creates a Gemini embedding provider. dimensions of zero keeps the
// model default.
func NewGemini(ctx context.Context, apiKey, model string, dimensions int) (*Gemini, error) {
	if apiKey == "" {
		return nil, goerr.New("gemini embedding requires GEMINI_API_KEY")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	return &Gemini{client: client, model: model, dimensions: dimensions}, nil
}

// EmbedStrings implements the eino embedding interface.
func (g *Gemini) EmbedStrings(ctx context.Context, texts []string, _ ...einoembedding.Option) ([][]float64, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	cfg := &genai.EmbedContentConfig{}
	if g.dimensions > 0 {
		dim := int32(g.dimensions)
		cfg.OutputDimensionality = &dim
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", g.model))
	}

	out := make([][]float64, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		vec := make([]float64, len(e.Values))
		for i, v := range e.Values {
			vec[i] = float64(v)
		}
		out = append(out, vec)
	}
	return out, nil
}
