package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wakb.yaml")
	content := []byte("search:\n  similarity_threshold: 0.5\n  max_results: 3\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Search.SimilarityThreshold != 0.5 {
		t.Errorf("similarity_threshold = %v, want 0.5", cfg.Search.SimilarityThreshold)
	}
	if cfg.Search.MaxResults != 3 {
		t.Errorf("max_results = %d, want 3", cfg.Search.MaxResults)
	}
	// Untouched values keep defaults
	if cfg.Search.KeywordDistance != 0.3 {
		t.Errorf("keyword_distance = %v, want default 0.3", cfg.Search.KeywordDistance)
	}
	if cfg.Quality.MinConfidence != 0.3 {
		t.Errorf("min_confidence = %v, want default 0.3", cfg.Quality.MinConfidence)
	}
}

func TestDefault_KeywordHitsStayVisible(t *testing.T) {
	cfg := Default()
	merged := cfg.Search.KeywordDistance + cfg.Search.KeywordPenalty
	if merged >= cfg.Search.SimilarityThreshold {
		t.Fatalf("keyword distance %v + penalty %v = %v reaches similarity threshold %v; keyword-only hits would always be filtered out",
			cfg.Search.KeywordDistance, cfg.Search.KeywordPenalty, merged, cfg.Search.SimilarityThreshold)
	}
}

func TestLoadFromDir_WalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "wakb.yaml"), []byte("database:\n  sqlite: up.db\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromDir(nested)
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}
	if cfg.Database.SQLite != "up.db" {
		t.Errorf("sqlite = %q, want up.db", cfg.Database.SQLite)
	}
}

func TestHash_ChangesWithConfig(t *testing.T) {
	a := Default()
	b := Default()
	if a.Hash() != b.Hash() {
		t.Fatal("identical configs should hash equal")
	}
	b.Search.KeywordPenalty = 0.2
	if a.Hash() == b.Hash() {
		t.Fatal("different configs should hash differently")
	}
}
