package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-contrib-collector/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("COLLECT_KEYWORDS", "")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "ghp_test", cfg.GitHubToken)
	assert.Equal(t, config.DefaultKeywords, cfg.Keywords)
	assert.Equal(t, 100, cfg.PageSize)
	assert.Equal(t, 1000, cfg.MaxResults)
	assert.Equal(t, 30*time.Second, cfg.CheckpointFlushInterval)
	assert.Equal(t, "csv", cfg.SinkType)
	require.NoError(t, cfg.Validate())
}

func TestLoad_KeywordsFromEnvKeepSpaces(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("COLLECT_KEYWORDS", "machine learning, rust ,machine learning,,go")
	t.Setenv("CHECKPOINT_FLUSH_INTERVAL", "5s")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"machine learning", "rust", "go"}, cfg.Keywords)
	assert.Equal(t, 5*time.Second, cfg.CheckpointFlushInterval)
}

func TestLoad_ConfigFile(t *testing.T) {
	// empty variables count as unset, so the file values apply
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("COLLECT_KEYWORDS", "")
	t.Setenv("COLLECT_PAGE_SIZE", "")
	path := filepath.Join(t.TempDir(), "collector.yaml")
	content := "github_token: from-file\ncollect_keywords:\n  - computer vision\n  - nlp\ncollect_page_size: 50\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.GitHubToken)
	assert.Equal(t, []string{"computer vision", "nlp"}, cfg.Keywords)
	assert.Equal(t, 50, cfg.PageSize)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{
			GitHubToken:             "t",
			Keywords:                []string{"go"},
			PageSize:                100,
			MaxResults:              1000,
			EnrichWorkers:           4,
			MaxAttempts:             3,
			CheckpointPath:          "cp.json",
			CheckpointFlushInterval: time.Second,
			SinkType:                "csv",
			DataDir:                 "data",
		}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		field  string
	}{
		{"missing token", func(c *config.Config) { c.GitHubToken = "" }, "GITHUB_TOKEN"},
		{"page size too large", func(c *config.Config) { c.PageSize = 101 }, "COLLECT_PAGE_SIZE"},
		{"max results below page size", func(c *config.Config) { c.MaxResults = 10 }, "COLLECT_MAX_RESULTS"},
		{"no workers", func(c *config.Config) { c.EnrichWorkers = 0 }, "COLLECT_ENRICH_WORKERS"},
		{"unknown sink", func(c *config.Config) { c.SinkType = "parquet" }, "SINK_TYPE"},
		{"postgres without url", func(c *config.Config) { c.SinkType = "postgres" }, "POSTGRES_URL"},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			var cfgErr *config.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
