package searchindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/go-resty/resty/v2"
	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	filters "github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	gql "github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/mycelian/mycelian-chat/internal/model"
)

// ClassName is the Weaviate class holding one object per MemoryRecord.
const ClassName = "ConversationTurn"

const upsertBatchSize = 50

// weaviateIndex is a native implementation of Index using the Weaviate Go client.
type weaviateIndex struct {
	client  *weaviate.Client
	meta    *resty.Client
	baseURL string
}

// NewWeaviateIndex constructs an Index backed by Weaviate at baseURL.
// baseURL should be host:port (without scheme), e.g., "localhost:8082".
func NewWeaviateIndex(baseURL string) (Index, error) {
	host := strings.TrimPrefix(strings.TrimPrefix(baseURL, "http://"), "https://")
	cl, err := weaviate.NewClient(weaviate.Config{Scheme: "http", Host: host})
	if err != nil {
		return nil, err
	}
	meta := resty.New().SetBaseURL("http://" + host).SetTimeout(5 * time.Second)
	return &weaviateIndex{client: cl, meta: meta, baseURL: host}, nil
}

func (w *weaviateIndex) Search(ctx context.Context, q Query) ([]model.RecallMatch, error) {
	if q.UserID == "" || q.K <= 0 || len(q.Vector) == 0 {
		return nil, nil
	}
	near := (&gql.NearVectorArgumentBuilder{}).
		WithVector(q.Vector).
		WithDistance(float32(1 - q.Threshold))

	req := w.client.GraphQL().Get().
		WithClassName(ClassName).
		WithNearVector(near).
		WithLimit(q.K).
		WithTenant(q.UserID).
		WithFields(
			gql.Field{Name: "recordId"},
			gql.Field{Name: "conversationId"},
			gql.Field{Name: "role"},
			gql.Field{Name: "content"},
			gql.Field{Name: "createdAt"},
			gql.Field{Name: "_additional", Fields: []gql.Field{{Name: "distance"}}},
		)
	if q.ConversationID != "" {
		req = req.WithWhere(filters.Where().
			WithPath([]string{"conversationId"}).
			WithOperator(filters.Equal).
			WithValueText(q.ConversationID))
	}

	resp, err := req.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql: %s", formatGraphQLErrors(resp.Errors))
	}
	getData, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	items, _ := getData[ClassName].([]interface{})
	return parseMatches(items, q), nil
}

// parseMatches converts GraphQL rows into matches, keeping only those at or
// above the threshold, best first, capped at K.
func parseMatches(items []interface{}, q Query) []model.RecallMatch {
	out := make([]model.RecallMatch, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		var distance float64
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			switch v := add["distance"].(type) {
			case float64:
				distance = v
			case string:
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					distance = f
				}
			}
		}
		sim := 1 - distance
		if sim < q.Threshold {
			continue
		}
		rec := model.MemoryRecord{UserID: q.UserID}
		rec.ID, _ = m["recordId"].(string)
		rec.ConversationID, _ = m["conversationId"].(string)
		role, _ := m["role"].(string)
		rec.Role = model.Role(role)
		rec.Content, _ = m["content"].(string)
		if ts, ok := m["createdAt"].(string); ok {
			rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		}
		out = append(out, model.RecallMatch{Record: rec, Similarity: sim})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > q.K {
		out = out[:q.K]
	}
	return out
}

func recordProperties(r model.MemoryRecord) map[string]interface{} {
	return map[string]interface{}{
		"recordId":       r.ID,
		"userId":         r.UserID,
		"conversationId": r.ConversationID,
		"role":           string(r.Role),
		"content":        r.Content,
		"createdAt":      r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Upsert writes records in batches; object IDs are the record IDs.
func (w *weaviateIndex) Upsert(ctx context.Context, recs ...model.MemoryRecord) error {
	for offset := 0; offset < len(recs); offset += upsertBatchSize {
		end := offset + upsertBatchSize
		if end > len(recs) {
			end = len(recs)
		}
		tenants := make(map[string]struct{})
		objs := make([]*models.Object, 0, end-offset)
		for _, r := range recs[offset:end] {
			if r.UserID == "" || r.ID == "" {
				continue
			}
			tenants[r.UserID] = struct{}{}
			objs = append(objs, &models.Object{
				Class:      ClassName,
				ID:         strfmt.UUID(r.ID),
				Properties: recordProperties(r),
				Vector:     r.Embedding,
				Tenant:     r.UserID,
			})
		}
		if len(objs) == 0 {
			continue
		}
		for tenant := range tenants {
			if err := ensureTenant(ctx, w.client, ClassName, tenant); err != nil {
				return err
			}
		}
		results, err := w.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
		if err != nil {
			return fmt.Errorf("weaviate batch upsert: %w", err)
		}
		for _, res := range results {
			if res.Result != nil && res.Result.Errors != nil && len(res.Result.Errors.Error) > 0 {
				return fmt.Errorf("weaviate batch upsert %s: %s", res.ID, res.Result.Errors.Error[0].Message)
			}
		}
	}
	return nil
}

func conversationFilter(conversationID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"conversationId"}).
		WithOperator(filters.Equal).
		WithValueText(conversationID)
}

func (w *weaviateIndex) deleteWhere(ctx context.Context, userID string, where *filters.WhereBuilder) error {
	if err := ensureTenant(ctx, w.client, ClassName, userID); err != nil {
		return err
	}
	_, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(ClassName).
		WithTenant(userID).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	return err
}

func (w *weaviateIndex) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if userID == "" || conversationID == "" {
		return nil
	}
	return w.deleteWhere(ctx, userID, conversationFilter(conversationID))
}

func (w *weaviateIndex) DeleteUpTo(ctx context.Context, userID, conversationID string, upTo time.Time) error {
	if userID == "" || conversationID == "" {
		return nil
	}
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			conversationFilter(conversationID),
			filters.Where().
				WithPath([]string{"createdAt"}).
				WithOperator(filters.LessThanEqual).
				WithValueDate(upTo.UTC()),
		})
	return w.deleteWhere(ctx, userID, where)
}

// HealthPing implements health.HealthPinger for the weaviate index.
// It calls GET http://<baseURL>/v1/meta and expects 200 OK.
func (w *weaviateIndex) HealthPing(ctx context.Context) error {
	if w == nil || w.baseURL == "" {
		return fmt.Errorf("weaviate baseURL missing")
	}
	resp, err := w.meta.R().SetContext(ctx).Get("/v1/meta")
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("weaviate status %d", resp.StatusCode())
	}
	return nil
}

// formatGraphQLErrors returns compact string with messages extracted for logging.
func formatGraphQLErrors(errs interface{}) string {
	if b, err := json.Marshal(errs); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", errs)
}

// ensureTenant creates the tenant for the given class if it does not already exist.
func ensureTenant(ctx context.Context, cl *weaviate.Client, className, tenant string) error {
	if tenant == "" {
		return nil
	}
	// Check existing tenants first to avoid 409 errors
	ex, err := cl.Schema().TenantsGetter().WithClassName(className).Do(ctx)
	if err == nil {
		for _, t := range ex {
			if t.Name == tenant {
				return nil
			}
		}
	}
	return cl.Schema().TenantsCreator().WithClassName(className).WithTenants(models.Tenant{Name: tenant}).Do(ctx)
}
