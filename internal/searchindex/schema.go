package searchindex

import (
	"context"
	"fmt"
	"strings"
	"time"

	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

func turnClass() *models.Class {
	return &models.Class{
		Class:      ClassName,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "recordId", DataType: []string{"text"}},
			{Name: "userId", DataType: []string{"text"}},
			{Name: "conversationId", DataType: []string{"text"}},
			{Name: "role", DataType: []string{"text"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "createdAt", DataType: []string{"date"}},
		},
		MultiTenancyConfig: &models.MultiTenancyConfig{Enabled: true},
	}
}

// BootstrapWeaviate ensures the ConversationTurn class exists with multi-tenancy enabled.
// If the class exists without MT enabled, it is dropped and recreated.
func BootstrapWeaviate(ctx context.Context, baseURL string) error {
	host := strings.TrimPrefix(strings.TrimPrefix(baseURL, "http://"), "https://")
	cl, err := weaviate.NewClient(weaviate.Config{Scheme: "http", Host: host})
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := ensureMTClass(cctx, cl, turnClass()); err != nil {
		return fmt.Errorf("bootstrap %s: %w", ClassName, err)
	}
	return nil
}

func ensureMTClass(ctx context.Context, cl *weaviate.Client, desired *models.Class) error {
	ex, err := cl.Schema().ClassGetter().WithClassName(desired.Class).Do(ctx)
	if err == nil && ex != nil {
		if ex.MultiTenancyConfig != nil && ex.MultiTenancyConfig.Enabled {
			return nil
		}
		if err := cl.Schema().ClassDeleter().WithClassName(desired.Class).Do(ctx); err != nil {
			return fmt.Errorf("delete class %s: %w", desired.Class, err)
		}
	}
	if err := cl.Schema().ClassCreator().WithClass(desired).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", desired.Class, err)
	}
	return nil
}
