// kb-search is an operator CLI for inspecting knowledge base retrieval.
//
// It runs the same scoped hybrid search the bot uses, against a live Milvus
// collection and SQLite store, and prints the ranked results with distances.
// Useful for tuning thresholds and debugging "nothing found" reports.
//
// Usage:
//
//	kb-search -group 1203630@g.us -query "when is the next meeting"
//	kb-search -group 1203630@g.us -query "wifi password" -limit 20
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wakb/wakb/pkg/config"
	"github.com/wakb/wakb/pkg/kb"
	"github.com/wakb/wakb/pkg/store"
	"github.com/wakb/wakb/pkg/util"
	"github.com/wakb/wakb/pkg/vectordb"
	"github.com/wakb/wakb/pkg/whatsapp"
)

var (
	dbPath   = flag.String("db", "", "Path to SQLite database (defaults to database.sqlite from config)")
	cfgPath  = flag.String("config", "", "Path to wakb.yaml (auto-detected if not specified)")
	groupJID = flag.String("group", "", "Group JID whose scope to search (required)")
	query    = flag.String("query", "", "Question to search for (required)")
	limit    = flag.Int("limit", 0, "Override max results (defaults to search.max_results from config)")
	debug    = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *groupJID == "" || *query == "" {
		fmt.Fprintln(os.Stderr, "Usage: kb-search -group <jid> -query <question>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.LoadFromFlagOrDir(*cfgPath, ".")
	if err != nil {
		log.Warn().Err(err).Msg("No configuration file found, using defaults")
		cfg = config.Default()
	}
	if *limit > 0 {
		cfg.Search.MaxResults = *limit
	}

	sqlitePath := *dbPath
	if sqlitePath == "" {
		sqlitePath = cfg.Database.SQLite
	}
	if sqlitePath == "" {
		log.Fatal().Msg("SQLite database path is empty (set -db or database.sqlite in wakb.yaml)")
	}

	st, err := store.New(sqlitePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", sqlitePath).Msg("Failed to open store")
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	semantic, err := kb.NewMilvusTopicSearcher(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Milvus")
	}
	defer semantic.Close()

	jid, err := whatsapp.ParseJID(*groupJID)
	if err != nil {
		log.Fatal().Err(err).Str("group", *groupJID).Msg("Invalid group JID")
	}
	if !whatsapp.IsGroup(jid) {
		log.Fatal().Str("group", *groupJID).Msg("Not a group JID")
	}

	resolver := kb.NewScopeResolver(st)
	scope, err := resolver.Resolve(ctx, kb.Message{
		ChatJID:  jid.String(),
		GroupJID: jid.String(),
	})
	if err != nil {
		log.Fatal().Err(err).Str("group", *groupJID).Msg("Scope resolution failed")
	}

	fmt.Printf("Scope (%d groups):\n", len(scope))
	for _, g := range scope {
		name := g.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %s  %s\n", g.GroupJID, name)
	}
	fmt.Println()

	embedder := vectordb.NewEmbeddingClient(cfg.Embedding)
	if !embedder.IsAvailable(ctx) {
		log.Fatal().Str("base_url", cfg.Embedding.BaseURL).Msg("Embedding service not available")
	}

	embedding, err := embedder.Embed(ctx, *query)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to embed query")
	}

	search := kb.NewHybridSearch(cfg, semantic, st)

	start := time.Now()
	results, err := search.Search(ctx, embedding, *query, scope)
	if err != nil {
		log.Fatal().Err(err).Msg("Search failed")
	}
	elapsed := time.Since(start)

	if len(results) == 0 {
		fmt.Printf("No results for %q (threshold %.2f)\n", *query, cfg.Search.SimilarityThreshold)
		return
	}

	fmt.Printf("Results for %q (%d hits in %s):\n\n", *query, len(results), elapsed.Round(time.Millisecond))
	for i, r := range results {
		source := "semantic"
		if r.KeywordOnly {
			source = "keyword"
		}
		fmt.Printf("%2d. [%.4f] [%s] %s\n", i+1, r.Distance, source, r.Subject)
		fmt.Printf("    group: %s\n", r.GroupJID)
		fmt.Printf("    %s\n", util.Truncate(r.Summary, 160))
	}
}
