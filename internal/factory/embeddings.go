package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/config"
	emb "github.com/mycelian/mycelian-chat/internal/embeddings"
	"github.com/mycelian/mycelian-chat/internal/embeddings/ollama"
	"github.com/mycelian/mycelian-chat/internal/embeddings/openaiemb"
)

// NewEmbeddingProvider creates an embedding provider based on config.
// Launches optional async warmup; returns provider immediately for fast startup.
func NewEmbeddingProvider(ctx context.Context, cfg *config.Config, log zerolog.Logger) (emb.Provider, error) {
	var provider emb.Provider

	switch cfg.EmbedProvider {
	case "", "ollama":
		provider = ollama.New(cfg.OllamaURL, cfg.EmbedModel)
	case "openai":
		p, err := openaiemb.New(cfg.EmbedAPIKey, "", cfg.EmbedModel)
		if err != nil {
			return nil, err
		}
		provider = p
	case "hash":
		// Deterministic, offline; for development only.
		return emb.NewHash(emb.DefaultHashDimensions), nil
	default:
		return nil, fmt.Errorf("unknown EMBED_PROVIDER: %s", cfg.EmbedProvider)
	}

	// Optional async warmup with configurable timeout; don't block startup
	go func() {
		warmupCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.BootstrapTimeoutSeconds)*time.Second)
		defer cancel()

		if vec, err := provider.Embed(warmupCtx, "factory-warmup-check"); err != nil || len(vec) == 0 {
			log.Warn().Err(err).Int("vec_len", len(vec)).
				Str("provider", cfg.EmbedProvider).Str("model", cfg.EmbedModel).
				Msg("embedding provider warmup failed")
		} else {
			log.Debug().Str("provider", cfg.EmbedProvider).Str("model", cfg.EmbedModel).
				Msg("embedding provider warmup completed")
		}
	}()

	return provider, nil
}
