package config

import (
	"os"
	"testing"
	"time"
)

func TestConfigLoad_Defaults(t *testing.T) {
	unsetBuildEnv()
	_ = os.Unsetenv("CHAT_MEMORY_EMBED_PROVIDER")
	_ = os.Unsetenv("CHAT_MEMORY_RECALL_THRESHOLD")
	_ = os.Unsetenv("CHAT_MEMORY_PRUNE_THRESHOLD")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.EmbedProvider != "ollama" || cfg.EmbedModel != "mxbai-embed-large" {
		t.Fatalf("unexpected default embed config: %+v", cfg)
	}
	if cfg.RecallThreshold != 0.7 || cfg.RecallCount != 4 {
		t.Fatalf("unexpected recall defaults: %v %d", cfg.RecallThreshold, cfg.RecallCount)
	}
	if cfg.PruneThreshold != 20 || cfg.KeepRecent != 10 || cfg.PruneFetchLimit != 100 {
		t.Fatalf("unexpected prune defaults: %d %d %d", cfg.PruneThreshold, cfg.KeepRecent, cfg.PruneFetchLimit)
	}
	if cfg.BootstrapTimeoutSeconds != 5 {
		t.Fatalf("unexpected default bootstrap timeout: %d", cfg.BootstrapTimeoutSeconds)
	}
}

func TestConfigLoad_EnvOverride(t *testing.T) {
	_ = os.Setenv("CHAT_MEMORY_EMBED_MODEL", "test-model")
	_ = os.Setenv("CHAT_MEMORY_KEEP_RECENT", "6")
	defer func() {
		_ = os.Unsetenv("CHAT_MEMORY_EMBED_MODEL")
		_ = os.Unsetenv("CHAT_MEMORY_KEEP_RECENT")
	}()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.EmbedModel != "test-model" {
		t.Fatalf("embed model env override failed, got %s", cfg.EmbedModel)
	}
	if cfg.KeepRecent != 6 {
		t.Fatalf("keep recent env override failed, got %d", cfg.KeepRecent)
	}
}

func TestNewForTesting(t *testing.T) {
	cfg := NewForTesting()
	if !cfg.IsTesting() || cfg.IsProduction() {
		t.Fatalf("expected testing environment, got %s", cfg.Environment)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		t.Fatalf("testing config should validate: %v", err)
	}
	if cfg.GetHTTPAddr() != ":8080" {
		t.Fatalf("unexpected addr %s", cfg.GetHTTPAddr())
	}
	if cfg.OutboxInterval() != 2*time.Second {
		t.Fatalf("unexpected outbox interval %s", cfg.OutboxInterval())
	}
}
