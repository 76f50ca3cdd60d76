package kb

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/rs/zerolog/log"

	"github.com/wakb/wakb/pkg/config"
)

// MilvusTopicSearcher implements SemanticSearcher against the Milvus topic
// collection. The group filter is part of the Milvus expression, so
// out-of-scope and orphaned topics never leave the data layer.
type MilvusTopicSearcher struct {
	client     client.Client
	collection string
	cfg        *config.Config
}

// NewMilvusTopicSearcher connects to Milvus and loads the topic collection.
func NewMilvusTopicSearcher(ctx context.Context, cfg *config.Config) (*MilvusTopicSearcher, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: cfg.Milvus.Address,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to Milvus: %w", err)
	}
	needsClose := true
	defer func() {
		if needsClose {
			_ = c.Close()
		}
	}()

	collection := cfg.Milvus.TopicCollection

	loaded, err := c.GetLoadState(ctx, collection, nil)
	if err != nil {
		return nil, fmt.Errorf("checking collection load state: %w", err)
	}
	if loaded != entity.LoadStateLoaded {
		if err := c.LoadCollection(ctx, collection, false); err != nil {
			return nil, fmt.Errorf("loading collection: %w", err)
		}
	}

	needsClose = false
	return &MilvusTopicSearcher{
		client:     c,
		collection: collection,
		cfg:        cfg,
	}, nil
}

// Search performs a scoped vector similarity search. It refuses to run
// without a group filter.
func (m *MilvusTopicSearcher) Search(ctx context.Context, embedding []float32, groupJIDs []string, limit int) ([]Result, error) {
	if len(groupJIDs) == 0 {
		log.Error().Msg("SECURITY: Milvus topic search called without group filter")
		return nil, ErrScopeRequired
	}

	vectors := []entity.Vector{entity.FloatVector(embedding)}
	outputFields := []string{"topic_id", "group_jid", "subject", "summary"}

	sp, err := entity.NewIndexHNSWSearchParam(m.cfg.Milvus.Search.Ef)
	if err != nil {
		return nil, fmt.Errorf("creating search params: %w", err)
	}

	results, err := m.client.Search(
		ctx,
		m.collection,
		nil, // partitions
		scopeExpr(groupJIDs),
		outputFields,
		vectors,
		"embedding",
		milvusMetric(m.cfg.Milvus.Index.Metric),
		limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("Milvus search: %w", err)
	}

	if len(results) == 0 {
		return []Result{}, nil
	}

	hits := make([]Result, 0, results[0].ResultCount)
	for i := 0; i < results[0].ResultCount; i++ {
		// COSINE scores are similarities in [-1,1]; the pipeline works in
		// distances where lower is better.
		hit := Result{
			Distance: 1 - float64(results[0].Scores[i]),
		}

		for _, field := range results[0].Fields {
			col, ok := field.(*entity.ColumnVarChar)
			if !ok {
				continue
			}
			val, err := col.ValueByIdx(i)
			if err != nil {
				return nil, fmt.Errorf("extracting %s at idx %d: %w", field.Name(), i, err)
			}
			switch field.Name() {
			case "topic_id":
				hit.ID = val
			case "group_jid":
				hit.GroupJID = val
			case "subject":
				hit.Subject = val
			case "summary":
				hit.Summary = val
			}
		}

		hits = append(hits, hit)
	}

	return hits, nil
}

// scopeExpr builds the mandatory Milvus filter expression: only topics with
// a non-empty group_jid inside the resolved scope are reachable.
func scopeExpr(groupJIDs []string) string {
	quoted := make([]string, 0, len(groupJIDs))
	for _, jid := range groupJIDs {
		quoted = append(quoted, strconv.Quote(jid))
	}
	return fmt.Sprintf(`group_jid != "" && group_jid in [%s]`, strings.Join(quoted, ", "))
}

func milvusMetric(metric string) entity.MetricType {
	switch strings.ToUpper(strings.TrimSpace(metric)) {
	case "L2":
		return entity.L2
	case "IP", "INNER_PRODUCT":
		return entity.IP
	case "COSINE":
		return entity.COSINE
	default:
		return entity.COSINE
	}
}

// Stats returns row count and config identity for the health endpoint.
func (m *MilvusTopicSearcher) Stats(ctx context.Context) (int64, error) {
	collStats, err := m.client.GetCollectionStatistics(ctx, m.collection)
	if err != nil {
		return 0, fmt.Errorf("getting collection stats: %w", err)
	}

	var rowCount int64
	if rc, ok := collStats["row_count"]; ok {
		fmt.Sscanf(rc, "%d", &rowCount)
	}
	return rowCount, nil
}

// Close closes the Milvus connection.
func (m *MilvusTopicSearcher) Close() error {
	return m.client.Close()
}
