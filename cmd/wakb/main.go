// wakb is the WhatsApp knowledge-base bot server.
//
// It receives gateway webhook events, stores messages per group, and answers
// questions from the group's topic knowledge base. Events can alternatively
// be consumed over the gateway websocket with -ws.
//
// Endpoints:
//   - POST /webhook    - Gateway event ingestion (always acks, processes async)
//   - GET  /health     - Dependency health check
//   - GET  /kb/status  - Knowledge base readiness and statistics
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wakb/wakb/pkg/bot"
	"github.com/wakb/wakb/pkg/config"
	"github.com/wakb/wakb/pkg/kb"
	"github.com/wakb/wakb/pkg/llm"
	"github.com/wakb/wakb/pkg/store"
	"github.com/wakb/wakb/pkg/vectordb"
	"github.com/wakb/wakb/pkg/whatsapp"
)

var (
	addr      = flag.String("addr", "", "HTTP listen address (defaults to server.addr from config)")
	dbPath    = flag.String("db", "", "Path to SQLite database (defaults to database.sqlite from config)")
	cfgPath   = flag.String("config", "", "Path to wakb.yaml (auto-detected if not specified)")
	useStream = flag.Bool("ws", false, "Consume gateway events over websocket instead of relying on webhooks only")
	debug     = flag.Bool("debug", false, "Enable debug logging")
)

// eventTimeout bounds the processing of a single gateway event, LLM calls
// included.
const eventTimeout = 3 * time.Minute

func main() {
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

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

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = cfg.Server.Addr
	}

	// Open the message and topic store
	st, err := store.New(sqlitePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", sqlitePath).Msg("Failed to open store")
	}
	defer st.Close()
	log.Info().Str("path", sqlitePath).Msg("Connected to SQLite")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Milvus
	semantic, err := kb.NewMilvusTopicSearcher(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Milvus")
	}
	defer semantic.Close()
	log.Info().
		Str("address", cfg.Milvus.Address).
		Str("collection", cfg.Milvus.TopicCollection).
		Msg("Connected to Milvus")

	embedder := vectordb.NewEmbeddingClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	gateway := whatsapp.NewClient(cfg.WhatsApp)

	// The bot's own JID is needed to skip its own messages and to detect
	// mentions. Without it the bot would answer itself.
	botJID, err := gateway.MyJID(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("host", cfg.WhatsApp.Host).Msg("Failed to resolve bot JID from gateway")
	}
	log.Info().Str("bot_jid", botJID).Msg("Resolved bot identity")

	service := kb.NewService(cfg, st, st, st, semantic, st, embedder, llmClient, gateway, botJID)
	router := bot.NewRouter(cfg, llmClient, service, st, gateway, botJID)
	handler := bot.NewHandler(st, router, botJID)

	// Optional websocket event stream
	if *useStream {
		stream := whatsapp.NewEventStream(cfg.WhatsApp)
		go stream.Run(ctx)
		go consumeStream(ctx, stream, handler)
		log.Info().Str("host", cfg.WhatsApp.Host).Msg("Consuming gateway websocket events")
	}

	// Create HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", webhookHandler(handler))
	mux.HandleFunc("GET /health", healthHandler(st, semantic, embedder))
	mux.HandleFunc("GET /kb/status", kbStatusHandler(st))

	server := &http.Server{
		Addr:         listenAddr,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down server...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", listenAddr).Msg("Starting knowledge base bot")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Server stopped")
}

// consumeStream feeds websocket events into the same handler the webhook
// uses. Events are processed sequentially; the stream buffers bursts.
func consumeStream(ctx context.Context, stream *whatsapp.EventStream, handler *bot.Handler) {
	for raw := range stream.Events() {
		eventCtx, cancel := context.WithTimeout(ctx, eventTimeout)
		if err := handler.HandleEvent(eventCtx, raw); err != nil {
			log.Warn().Err(err).Msg("Websocket event processing failed")
		}
		cancel()
	}
}

// webhookHandler acks every event immediately and processes it in the
// background. The gateway treats non-200 responses as delivery failures and
// retries, so the ack must never wait on the LLM.
func webhookHandler(handler *bot.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
			defer cancel()
			if err := handler.HandleEvent(ctx, raw); err != nil {
				log.Warn().Err(err).Msg("Webhook event processing failed")
			}
		}()

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type healthResponse struct {
	Status     string `json:"status"`
	Database   string `json:"database"`
	Milvus     string `json:"milvus"`
	Embeddings string `json:"embeddings"`
	TopicRows  int64  `json:"topic_rows"`
}

// healthHandler reports per-dependency health. Degraded still returns 200;
// only a dead database is considered unhealthy since nothing works without it.
func healthHandler(st *store.Store, semantic *kb.MilvusTopicSearcher, embedder *vectordb.EmbeddingClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Database: "ok", Milvus: "ok", Embeddings: "ok"}
		status := http.StatusOK

		if _, err := st.CountManagedGroups(r.Context()); err != nil {
			resp.Database = "error"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}

		rows, err := semantic.Stats(r.Context())
		if err != nil {
			resp.Milvus = "error"
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		} else {
			resp.TopicRows = rows
		}

		if !embedder.IsAvailable(r.Context()) {
			resp.Embeddings = "unavailable"
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}

		writeJSON(w, status, resp)
	}
}

type managedGroupEntry struct {
	GroupJID string `json:"group_jid"`
	Name     string `json:"name"`
}

type kbStatusResponse struct {
	Status            string              `json:"status"`
	Healthy           bool                `json:"healthy"`
	Issue             string              `json:"issue,omitempty"`
	Recommendation    string              `json:"recommendation,omitempty"`
	Statistics        store.Stats         `json:"statistics"`
	ManagedGroupsList []managedGroupEntry `json:"managed_groups_list"`
	Warnings          []string            `json:"warnings,omitempty"`
}

// kbStatusHandler reports whether the knowledge base can answer questions at
// all, and why not when it cannot.
func kbStatusHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := st.TopicStats(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Knowledge base status query failed")
			writeError(w, http.StatusInternalServerError, "status query failed")
			return
		}

		managed, err := st.ListManagedGroups(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Managed groups query failed")
			writeError(w, http.StatusInternalServerError, "status query failed")
			return
		}

		groupList := make([]managedGroupEntry, 0, len(managed))
		for _, g := range managed {
			groupList = append(groupList, managedGroupEntry{GroupJID: g.GroupJID, Name: g.Name})
		}

		resp := kbStatusResponse{
			Statistics:        stats,
			ManagedGroupsList: groupList,
		}

		switch {
		case stats.ManagedGroups == 0:
			resp.Status = "no_managed_groups"
			resp.Issue = "no groups are marked as managed, so no topics are reachable"
			resp.Recommendation = "mark at least one group as managed and load its topics"
		case stats.EligibleTopics == 0:
			resp.Status = "no_topics"
			resp.Issue = "managed groups exist but no eligible topics are loaded"
			resp.Recommendation = "run the topic indexer to load summaries for managed groups"
		default:
			resp.Status = "healthy"
			resp.Healthy = true
		}

		if stats.OrphanTopics > 0 {
			resp.Warnings = append(resp.Warnings,
				"some topics are not attached to any known group and are excluded from search")
		}

		// Readiness problems are configuration states, not server errors.
		writeJSON(w, http.StatusOK, resp)
	}
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
