package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/config"
	"github.com/mycelian/mycelian-chat/internal/searchindex"
)

// NewSearchIndex returns the Weaviate index when VECTOR_STORE=weaviate, or
// nil when recall is served by the store itself.
// Launches async bootstrap with short timeout; returns index immediately for fast startup.
func NewSearchIndex(ctx context.Context, cfg *config.Config, log zerolog.Logger) (searchindex.Index, error) {
	if cfg.VectorStore != "weaviate" {
		return nil, nil
	}
	if cfg.WeaviateURL == "" {
		return nil, fmt.Errorf("CHAT_MEMORY_WEAVIATE_URL is required when VECTOR_STORE=weaviate")
	}

	idx, err := searchindex.NewWeaviateIndex(cfg.WeaviateURL)
	if err != nil {
		return nil, err
	}

	go func() {
		bootstrapCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.BootstrapTimeoutSeconds)*time.Second)
		defer cancel()

		if err := searchindex.BootstrapWeaviate(bootstrapCtx, cfg.WeaviateURL); err != nil {
			log.Warn().Err(err).Str("url", cfg.WeaviateURL).Msg("search index bootstrap failed")
		} else {
			log.Debug().Str("url", cfg.WeaviateURL).Msg("search index bootstrap completed")
		}
	}()

	return idx, nil
}
