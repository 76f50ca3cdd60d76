// Package config provides unified configuration for the knowledge-base bot.
// All tuning constants for retrieval, scoring, and message limits live here
// so deployments can adjust them without code changes.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the full bot configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Milvus    MilvusConfig    `yaml:"milvus"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Search    SearchConfig    `yaml:"search"`
	Quality   QualityConfig   `yaml:"quality"`
	History   HistoryConfig   `yaml:"history"`
	Limits    LimitsConfig    `yaml:"limits"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	SQLite string `yaml:"sqlite"`
}

type MilvusConfig struct {
	Address         string             `yaml:"address"`
	TopicCollection string             `yaml:"topic_collection"`
	Index           MilvusIndexConfig  `yaml:"index"`
	Search          MilvusSearchConfig `yaml:"search"`
}

type MilvusIndexConfig struct {
	Type           string `yaml:"type"`
	Metric         string `yaml:"metric"`
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
}

type MilvusSearchConfig struct {
	Ef int `yaml:"ef"`
}

type EmbeddingConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	Dimension      int    `yaml:"dimension"`
	BatchSize      int    `yaml:"batch_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type LLMConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	MaxTokens      int    `yaml:"max_tokens"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type WhatsAppConfig struct {
	Host              string `yaml:"host"`
	BasicAuthUser     string `yaml:"basic_auth_user"`
	BasicAuthPassword string `yaml:"basic_auth_password"`
}

// SearchConfig holds the hybrid retrieval tuning knobs. The keyword distance
// and penalty are hand-tuned; the invariants that matter are that a semantic
// match always outranks a keyword-only match at equal relevance, and that
// KeywordDistance + KeywordPenalty stays below SimilarityThreshold so
// keyword-only hits remain visible to the quality filter.
type SearchConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	SemanticCandidates  int     `yaml:"semantic_candidates"`
	KeywordCandidates   int     `yaml:"keyword_candidates"`
	MaxKeywords         int     `yaml:"max_keywords"`
	KeywordDistance     float64 `yaml:"keyword_distance"`
	KeywordPenalty      float64 `yaml:"keyword_penalty"`
	MaxResults          int     `yaml:"max_results"`
}

type QualityConfig struct {
	MinSubjectRunes int     `yaml:"min_subject_runes"`
	MinSummaryRunes int     `yaml:"min_summary_runes"`
	MinConfidence   float64 `yaml:"min_confidence"`
	HedgeBelow      float64 `yaml:"hedge_below"`
	UncertainBelow  float64 `yaml:"uncertain_below"`
}

type HistoryConfig struct {
	Limit        int `yaml:"limit"`
	SummaryLimit int `yaml:"summary_limit"`
}

type LimitsConfig struct {
	MaxQuestionRunes int `yaml:"max_question_runes"`
	MaxMessageRunes  int `yaml:"max_message_runes"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8090",
		},
		Database: DatabaseConfig{
			SQLite: "wakb.db",
		},
		Milvus: MilvusConfig{
			Address:         "localhost:19530",
			TopicCollection: "kb_topics",
			Index: MilvusIndexConfig{
				Type:           "HNSW",
				Metric:         "COSINE",
				M:              16,
				EfConstruction: 256,
			},
			Search: MilvusSearchConfig{
				Ef: 128,
			},
		},
		Embedding: EmbeddingConfig{
			BaseURL:        "http://127.0.0.1:11434/v1",
			Model:          "qwen3-embedding:8b",
			Dimension:      1024,
			BatchSize:      50,
			TimeoutSeconds: 120,
		},
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			MaxTokens:      2048,
			TimeoutSeconds: 60,
		},
		WhatsApp: WhatsAppConfig{
			Host: "http://localhost:3000",
		},
		Search: SearchConfig{
			SimilarityThreshold: 0.4,
			SemanticCandidates:  15,
			KeywordCandidates:   5,
			MaxKeywords:         5,
			KeywordDistance:     0.3,
			KeywordPenalty:      0.05,
			MaxResults:          10,
		},
		Quality: QualityConfig{
			MinSubjectRunes: 3,
			MinSummaryRunes: 10,
			MinConfidence:   0.3,
			HedgeBelow:      0.7,
			UncertainBelow:  0.5,
		},
		History: HistoryConfig{
			Limit:        400,
			SummaryLimit: 1000,
		},
		Limits: LimitsConfig{
			MaxQuestionRunes: 2000,
			MaxMessageRunes:  4000,
		},
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default() // Start with defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadFromDir looks for wakb.yaml in the given directory or parent directories
func LoadFromDir(dir string) (*Config, error) {
	current := dir
	for {
		path := filepath.Join(current, "wakb.yaml")
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(current)
		if parent == current {
			break // Reached root
		}
		current = parent
	}

	return nil, fmt.Errorf("wakb.yaml not found in %s or parent directories", dir)
}

// LoadOrDefault tries to load from wakb.yaml, falls back to defaults
func LoadOrDefault(dir string) *Config {
	cfg, err := LoadFromDir(dir)
	if err != nil {
		return Default()
	}
	return cfg
}

// Hash returns a SHA256 hash of the configuration for change detection
func (c *Config) Hash() string {
	data, _ := yaml.Marshal(c)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// EmbeddingIdentity returns a string identifying the embedding configuration.
// Use this to detect mismatches between indexed and query embeddings.
func (c *Config) EmbeddingIdentity() string {
	return fmt.Sprintf("%s:%s:%d", c.Embedding.BaseURL, c.Embedding.Model, c.Embedding.Dimension)
}
