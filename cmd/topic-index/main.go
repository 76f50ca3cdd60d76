// topic-index maintains the Milvus topic collection for the knowledge base.
//
// It reads topics from SQLite, embeds subject and summary together, and
// upserts them into Milvus. Only topics attached to a group are indexed;
// orphans stay out of the collection entirely.
//
// Usage:
//
//	topic-index --db wakb.db
//	topic-index --db wakb.db --drop  # Drop and recreate collection
//	topic-index --db wakb.db --cleanup
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wakb/wakb/pkg/config"
	"github.com/wakb/wakb/pkg/vectordb"
)

var (
	dbPath    = flag.String("db", "", "Path to SQLite database (defaults to database.sqlite from config)")
	cfgPath   = flag.String("config", "", "Path to wakb.yaml (auto-detected if not specified)")
	dropFirst = flag.Bool("drop", false, "Drop existing collection before creating")
	cleanup   = flag.Bool("cleanup", false, "Delete stale topics from Milvus (orphaned or deleted from SQLite)")
	batchSize = flag.Int("batch-size", 50, "Number of topics to embed and insert per batch")
	debug     = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.LoadFromFlagOrDir(*cfgPath, ".")
	if err != nil {
		log.Warn().Err(err).Msg("No configuration file found, using defaults")
		cfg = config.Default()
	}

	sqlitePath := *dbPath
	if sqlitePath == "" {
		sqlitePath = cfg.Database.SQLite
	}
	if sqlitePath == "" {
		log.Fatal().Msg("SQLite database path is empty (set -db or database.sqlite in wakb.yaml)")
	}

	fmt.Printf("Configuration:\n")
	fmt.Printf("  SQLite: %s\n", sqlitePath)
	fmt.Printf("  Milvus: %s\n", cfg.Milvus.Address)
	fmt.Printf("  Collection: %s\n", cfg.Milvus.TopicCollection)
	fmt.Printf("  Embedding: %s (%d dim)\n", cfg.Embedding.Model, cfg.Embedding.Dimension)
	fmt.Printf("  Batch size: %d\n", *batchSize)
	fmt.Println()

	ctx := context.Background()

	// Open SQLite database (read-write for updating milvus_synced flag)
	db, err := sql.Open("sqlite3", sqlitePath+"?_busy_timeout=30000&_journal_mode=WAL")
	if err != nil {
		log.Fatal().Err(err).Str("path", sqlitePath).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Database not accessible")
	}

	// Connect to Milvus
	milvusClient, err := client.NewClient(ctx, client.Config{
		Address: cfg.Milvus.Address,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Milvus")
	}
	defer milvusClient.Close()
	fmt.Printf("Connected to Milvus at %s\n", cfg.Milvus.Address)

	embClient := vectordb.NewEmbeddingClient(cfg.Embedding)

	// Handle collection creation
	collection := cfg.Milvus.TopicCollection
	needsFullReindex := false

	if *dropFirst {
		if err := dropCollection(ctx, milvusClient, collection); err != nil {
			log.Fatal().Err(err).Msg("Failed to drop collection")
		}
		needsFullReindex = true
	}

	exists, err := milvusClient.HasCollection(ctx, collection)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to check collection existence")
	}

	if !exists {
		if err := createCollection(ctx, milvusClient, cfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to create collection")
		}
		needsFullReindex = true
	} else {
		fmt.Printf("Collection %s already exists, using existing\n", collection)
		if err := milvusClient.LoadCollection(ctx, collection, false); err != nil {
			log.Warn().Err(err).Msg("Failed to load collection (may already be loaded)")
		}
	}

	// Reset sync state so every topic gets re-evaluated after a rebuild
	if needsFullReindex {
		fmt.Println("Resetting sync status for full reindex...")
		_, err := db.ExecContext(ctx, "UPDATE kbtopics SET milvus_synced = 0")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to reset sync status")
		}
	}

	// Count unsynced eligible topics
	var unsynced int
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM kbtopics
		WHERE group_jid IS NOT NULL AND group_jid != ''
		  AND (milvus_synced = 0 OR milvus_synced IS NULL)
	`).Scan(&unsynced)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to count topics")
	}

	var total int
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM kbtopics
		WHERE group_jid IS NOT NULL AND group_jid != ''
	`).Scan(&total)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to count total topics")
	}

	fmt.Printf("Unsynced topics: %d (of %d total eligible)\n\n", unsynced, total)

	start := time.Now()
	inserted := 0
	if unsynced > 0 {
		// Check embedding service only when there is something to embed
		if !embClient.IsAvailable(ctx) {
			log.Fatal().Msg("Embedding service not available at " + cfg.Embedding.BaseURL)
		}
		fmt.Printf("Embedding service available at %s\n", cfg.Embedding.BaseURL)

		inserted, err = indexTopics(ctx, db, milvusClient, embClient, cfg, *batchSize, unsynced)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to index topics")
		}
	} else {
		fmt.Println("All topics already synced to Milvus.")
	}

	fmt.Println("Flushing...")
	if err := milvusClient.Flush(ctx, collection, false); err != nil {
		log.Warn().Err(err).Msg("Failed to flush")
	}

	stats, err := milvusClient.GetCollectionStatistics(ctx, collection)
	finalCount := int64(0)
	if err == nil {
		if rowCount, ok := stats["row_count"]; ok {
			fmt.Sscanf(rowCount, "%d", &finalCount)
		}
	}

	fmt.Println()
	fmt.Println("============================================================")
	fmt.Println("INDEXING COMPLETE")
	fmt.Println("============================================================")
	fmt.Printf("Total inserted: %d\n", inserted)
	fmt.Printf("Final collection size: %d\n", finalCount)
	fmt.Printf("Duration: %s\n", time.Since(start).Round(time.Second))

	if *cleanup {
		deleted, err := cleanupStaleTopics(ctx, db, milvusClient, collection)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to cleanup stale topics")
		} else if deleted > 0 {
			fmt.Printf("\nCleaned up %d stale topics from Milvus\n", deleted)
		}
	}
}

func dropCollection(ctx context.Context, c client.Client, collection string) error {
	exists, err := c.HasCollection(ctx, collection)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	fmt.Printf("Dropping existing collection %s...\n", collection)
	return c.DropCollection(ctx, collection)
}

func createCollection(ctx context.Context, c client.Client, cfg *config.Config) error {
	collection := cfg.Milvus.TopicCollection
	dim := cfg.Embedding.Dimension

	fmt.Printf("Creating collection %s...\n", collection)

	schema := &entity.Schema{
		CollectionName: collection,
		Description:    "Knowledge base topic summaries per WhatsApp group",
		Fields: []*entity.Field{
			{
				Name:       "topic_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "group_jid",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "subject",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "1024"},
			},
			{
				Name:       "summary",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "8192"},
			},
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", dim)},
			},
		},
	}

	if err := c.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}

	// Create HNSW index
	idx, err := entity.NewIndexHNSW(
		milvusMetricFromConfig(cfg.Milvus.Index.Metric),
		cfg.Milvus.Index.M,
		cfg.Milvus.Index.EfConstruction,
	)
	if err != nil {
		return fmt.Errorf("creating index params: %w", err)
	}

	if err := c.CreateIndex(ctx, collection, "embedding", idx, false); err != nil {
		return fmt.Errorf("creating index: %w", err)
	}

	if err := c.LoadCollection(ctx, collection, false); err != nil {
		return fmt.Errorf("loading collection: %w", err)
	}

	fmt.Printf("Collection created with HNSW index (M=%d, ef_construction=%d)\n",
		cfg.Milvus.Index.M, cfg.Milvus.Index.EfConstruction)

	return nil
}

func milvusMetricFromConfig(metric string) entity.MetricType {
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

type topicRow struct {
	ID        string
	GroupJID  string
	Subject   string
	Summary   string
	UpdatedAt int64 // Guards the synced flag against concurrent rewrites
}

func indexTopics(ctx context.Context, db *sql.DB, milvus client.Client, embClient *vectordb.EmbeddingClient, cfg *config.Config, batchSize, total int) (int, error) {
	collection := cfg.Milvus.TopicCollection

	rows, err := db.QueryContext(ctx, `
		SELECT id, group_jid, subject, summary, updated_at
		FROM kbtopics
		WHERE group_jid IS NOT NULL AND group_jid != ''
		  AND (milvus_synced = 0 OR milvus_synced IS NULL)
		ORDER BY group_jid, updated_at
	`)
	if err != nil {
		return 0, fmt.Errorf("querying topics: %w", err)
	}
	defer rows.Close()

	var batch []topicRow
	inserted := 0
	batchNum := 0

	for rows.Next() {
		var t topicRow
		if err := rows.Scan(&t.ID, &t.GroupJID, &t.Subject, &t.Summary, &t.UpdatedAt); err != nil {
			return inserted, fmt.Errorf("scanning topic: %w", err)
		}
		batch = append(batch, t)

		if len(batch) >= batchSize {
			n, err := insertBatch(ctx, milvus, embClient, collection, batch, cfg.Embedding.Dimension)
			if err != nil {
				return inserted, fmt.Errorf("inserting batch %d: %w", batchNum, err)
			}

			if err := markBatchSynced(ctx, db, batch); err != nil {
				log.Warn().Err(err).Msg("Failed to mark batch as synced")
			}

			inserted += n
			batchNum++

			// Small delay between batches
			time.Sleep(50 * time.Millisecond)

			if batchNum%10 == 0 {
				pct := float64(inserted) / float64(total) * 100
				fmt.Printf("  [%d/%d] %.1f%% - inserted %d topics\n", inserted, total, pct, inserted)
			}

			batch = batch[:0]
		}
	}

	if err := rows.Err(); err != nil {
		return inserted, fmt.Errorf("iterating rows: %w", err)
	}

	if len(batch) > 0 {
		n, err := insertBatch(ctx, milvus, embClient, collection, batch, cfg.Embedding.Dimension)
		if err != nil {
			return inserted, fmt.Errorf("inserting final batch: %w", err)
		}

		if err := markBatchSynced(ctx, db, batch); err != nil {
			log.Warn().Err(err).Msg("Failed to mark final batch as synced")
		}

		inserted += n
	}

	return inserted, nil
}

// markBatchSynced marks topics as synced only if they were not rewritten while
// the batch was being embedded. A rewritten topic keeps milvus_synced = 0 and
// gets picked up on the next run.
func markBatchSynced(ctx context.Context, db *sql.DB, batch []topicRow) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE kbtopics SET milvus_synced = 1
		WHERE id = ? AND updated_at = ?
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range batch {
		if _, err := stmt.ExecContext(ctx, t.ID, t.UpdatedAt); err != nil {
			log.Warn().Err(err).Str("topic_id", t.ID).Msg("Failed to mark topic as synced")
		}
	}

	return tx.Commit()
}

func insertBatch(ctx context.Context, milvus client.Client, embClient *vectordb.EmbeddingClient, collection string, topics []topicRow, dim int) (int, error) {
	if len(topics) == 0 {
		return 0, nil
	}

	// Subject and summary are embedded together; questions match either.
	texts := make([]string, len(topics))
	for i, t := range topics {
		texts[i] = t.Subject + "\n" + t.Summary
	}
	embeddings, err := embClient.EmbedBatch(ctx, texts)
	if err != nil {
		failedIDs := make([]string, len(topics))
		for i, t := range topics {
			failedIDs[i] = t.ID
		}
		log.Error().Strs("topic_ids", failedIDs).Err(err).Msg("Batch embedding failed")
		return 0, fmt.Errorf("generating embeddings: %w", err)
	}

	topicIDs := make([]string, len(topics))
	groupJIDs := make([]string, len(topics))
	subjects := make([]string, len(topics))
	summaries := make([]string, len(topics))
	embeddingsList := make([][]float32, len(topics))

	for i, t := range topics {
		topicIDs[i] = t.ID
		groupJIDs[i] = t.GroupJID
		subjects[i] = truncate(t.Subject, 1023)
		summaries[i] = truncate(t.Summary, 8191)
		embeddingsList[i] = embeddings[i]
	}

	cols := []entity.Column{
		entity.NewColumnVarChar("topic_id", topicIDs),
		entity.NewColumnVarChar("group_jid", groupJIDs),
		entity.NewColumnVarChar("subject", subjects),
		entity.NewColumnVarChar("summary", summaries),
		entity.NewColumnFloatVector("embedding", dim, embeddingsList),
	}

	// Upsert for idempotency
	_, err = milvus.Upsert(ctx, collection, "", cols...)
	if err != nil {
		return 0, fmt.Errorf("upserting: %w", err)
	}

	return len(topics), nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	// Walk backwards to a UTF-8 boundary so multi-byte runes stay intact
	for maxLen > 0 && !isUTF8Start(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}

func isUTF8Start(b byte) bool {
	// UTF-8 continuation bytes are 10xxxxxx
	return (b & 0xC0) != 0x80
}

// cleanupStaleTopics removes topics from Milvus that no longer exist in SQLite
// or have been orphaned since indexing. Orphans must never be searchable, so
// staleness here is a correctness issue, not just hygiene.
func cleanupStaleTopics(ctx context.Context, db *sql.DB, milvus client.Client, collection string) (int, error) {
	fmt.Println("\nChecking for stale topics in Milvus...")

	validIDs := make(map[string]struct{})
	rows, err := db.QueryContext(ctx, `
		SELECT id FROM kbtopics
		WHERE group_jid IS NOT NULL AND group_jid != ''
	`)
	if err != nil {
		return 0, fmt.Errorf("querying valid topics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scanning topic id: %w", err)
		}
		validIDs[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating rows: %w", err)
	}

	fmt.Printf("  Valid eligible topics in SQLite: %d\n", len(validIDs))

	results, err := milvus.Query(ctx, collection, []string{}, `topic_id != ""`, []string{"topic_id"})
	if err != nil {
		return 0, fmt.Errorf("querying Milvus: %w", err)
	}

	var staleIDs []string
	milvusTotal := 0
	for _, col := range results {
		strCol, ok := col.(*entity.ColumnVarChar)
		if !ok || col.Name() != "topic_id" {
			continue
		}
		for i := 0; i < strCol.Len(); i++ {
			val, err := strCol.ValueByIdx(i)
			if err != nil {
				continue
			}
			milvusTotal++
			if _, valid := validIDs[val]; !valid {
				staleIDs = append(staleIDs, val)
			}
		}
	}

	fmt.Printf("  Topics scanned in Milvus: %d\n", milvusTotal)

	if len(staleIDs) == 0 {
		fmt.Println("  No stale topics found")
		return 0, nil
	}

	fmt.Printf("  Found %d stale topics, deleting...\n", len(staleIDs))

	deleteBatchSize := 1000
	deleted := 0

	for i := 0; i < len(staleIDs); i += deleteBatchSize {
		end := i + deleteBatchSize
		if end > len(staleIDs) {
			end = len(staleIDs)
		}
		batch := staleIDs[i:end]

		expr := fmt.Sprintf("topic_id in [\"%s\"]", strings.Join(batch, "\",\""))
		if err := milvus.Delete(ctx, collection, "", expr); err != nil {
			log.Warn().Err(err).Int("batch_start", i).Msg("Failed to delete batch")
			continue
		}
		deleted += len(batch)
	}

	return deleted, nil
}
