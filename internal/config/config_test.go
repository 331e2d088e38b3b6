package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_Valid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.4, cfg.Curation.Threshold)
	assert.Equal(t, 30, cfg.Curation.Cap)
	assert.True(t, cfg.LLM.EmployeeCount)
	assert.Equal(t, 1, cfg.Synthesis.Retries)
	assert.Len(t, cfg.Queries, 4)
	assert.Equal(t, ScoringProvider, cfg.Scoring.Strategy)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DOSSIER_CURATION_THRESHOLD", "0.6")
	t.Setenv("DOSSIER_CURATION_CAP", "3")
	t.Setenv("DOSSIER_TIMEOUTS_FETCH", "45s")
	t.Setenv("DOSSIER_SEARCH_API_KEY", "tvly-test")
	t.Setenv("DOSSIER_ELASTICSEARCH_ADDRESSES", "http://es1:9200,http://es2:9200")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 0.6, cfg.Curation.Threshold)
	assert.Equal(t, 3, cfg.Curation.Cap)
	assert.Equal(t, 45*time.Second, cfg.Timeouts.Fetch)
	assert.Equal(t, "tvly-test", cfg.Search.APIKey)
	assert.Equal(t, []string{"http://es1:9200", "http://es2:9200"}, cfg.Elasticsearch.Addresses)

	// untouched values keep their defaults
	assert.Equal(t, Defaults().Synthesis, cfg.Synthesis)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dossier.yaml")
	yaml := `
curation:
  threshold: 0.5
scoring:
  strategy: elasticsearch
queries:
  news:
    - "{{.Company}} press release"
storage:
  enabled: true
  bucket: reports
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Curation.Threshold)
	assert.Equal(t, ScoringElasticsearch, cfg.Scoring.Strategy)
	assert.Equal(t, []string{"{{.Company}} press release"}, cfg.Queries["news"])
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, "reports", cfg.Storage.Bucket)
	assert.Equal(t, "localhost:9000", cfg.Storage.Endpoint)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold above 1", func(c *Config) { c.Curation.Threshold = 1.2 }, "curation.threshold"},
		{"threshold below 0", func(c *Config) { c.Curation.Threshold = -0.1 }, "curation.threshold"},
		{"threshold NaN", func(c *Config) { c.Curation.Threshold = math.NaN() }, "curation.threshold"},
		{"negative cap", func(c *Config) { c.Curation.Cap = -1 }, "curation.cap"},
		{"zero fetch timeout", func(c *Config) { c.Timeouts.Fetch = 0 }, "timeouts.fetch"},
		{"zero synthesis timeout", func(c *Config) { c.Timeouts.Synthesis = 0 }, "timeouts.synthesis"},
		{"negative retries", func(c *Config) { c.Synthesis.Retries = -1 }, "synthesis.retries"},
		{"news score above 1", func(c *Config) { c.News.Score = 1.5 }, "news.score"},
		{"negative scraper score", func(c *Config) { c.Scraper.Score = -0.2 }, "scraper.score"},
		{"unknown category", func(c *Config) { c.Queries["weather"] = []string{"x"} }, "unknown category"},
		{"unknown strategy", func(c *Config) { c.Scoring.Strategy = "magic" }, "scoring.strategy"},
		{"embeddings without endpoint", func(c *Config) { c.Scoring.Strategy = ScoringEmbeddings }, "embeddings.socket_path"},
		{"llm without endpoint", func(c *Config) { c.LLM.Enabled = true }, "llm.socket_path"},
		{"storage without bucket", func(c *Config) {
			c.Storage.Enabled = true
			c.Storage.Bucket = ""
		}, "storage.bucket"},
		{"cache without addr", func(c *Config) {
			c.Cache.Enabled = true
			c.Cache.Addr = ""
		}, "cache.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Curation.Threshold = 2
	cfg.Curation.Cap = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "curation.threshold")
	assert.Contains(t, err.Error(), "curation.cap")
}
