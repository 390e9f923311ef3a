package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/indextool"
	"github.com/mycelian/mycelian-chat/internal/config"
	"github.com/mycelian/mycelian-chat/internal/factory"
	"github.com/mycelian/mycelian-chat/internal/logger"
	"github.com/mycelian/mycelian-chat/internal/searchindex"
)

const usage = `usage: weaviate-tool <query|reindex> [flags]

  query    embed a query and print the nearest stored turns
  reindex  copy a user's stored turns from the primary store into Weaviate
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	log := logger.New("weaviate-tool")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	var runErr error
	switch os.Args[1] {
	case "query":
		runErr = runQuery(cfg, os.Args[2:], log)
	case "reindex":
		runErr = runReindex(cfg, os.Args[2:], log)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if runErr != nil {
		log.Error().Err(runErr).Str("command", os.Args[1]).Msg("failed")
		os.Exit(1)
	}
}

func runQuery(cfg *config.Config, args []string, log zerolog.Logger) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	query := fs.String("q", "", "Query text (required)")
	weaviateURL := fs.String("weaviate-url", cfg.WeaviateURL, "Weaviate host")
	topK := fs.Int("k", 5, "Top K results")
	threshold := fs.Float64("threshold", 0, "Minimum similarity")
	userID := fs.String("user", "", "Tenant userId (required)")
	conversationID := fs.String("conversation", "", "Filter by conversationId (optional)")
	_ = fs.Parse(args)

	ctx := context.Background()
	emb, err := factory.NewEmbeddingProvider(ctx, cfg, log)
	if err != nil {
		return err
	}
	idx, err := searchindex.NewWeaviateIndex(*weaviateURL)
	if err != nil {
		return err
	}
	out, err := indextool.Query(ctx, idx, emb, *userID, *conversationID, *query, *topK, *threshold)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runReindex(cfg *config.Config, args []string, log zerolog.Logger) error {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	userID := fs.String("user", "", "User whose conversations are reindexed (required)")
	weaviateURL := fs.String("weaviate-url", cfg.WeaviateURL, "Weaviate host")
	batch := fs.Int("batch", 50, "Records per upsert")
	_ = fs.Parse(args)

	ctx := context.Background()
	st, db, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	emb, err := factory.NewEmbeddingProvider(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := searchindex.BootstrapWeaviate(ctx, *weaviateURL); err != nil {
		log.Warn().Err(err).Msg("weaviate bootstrap")
	}
	idx, err := searchindex.NewWeaviateIndex(*weaviateURL)
	if err != nil {
		return err
	}
	n, err := indextool.Reindex(ctx, st.Records(), idx, emb, *userID, *batch, log)
	if err != nil {
		return err
	}
	log.Info().Str("user_id", *userID).Int("records", n).Msg("reindex completed")
	return nil
}
