package logger_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-contrib-collector/internal/logger"
)

func readEntries(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestNew_WritesJSONAtLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collector.log")
	log, err := logger.New(logger.Config{Level: "warn", OutputPaths: []string{path}})
	require.NoError(t, err)

	log.Info("dropped")
	log.With(logger.String("keyword", "golang")).Warn("kept", logger.Int("page", 3))
	require.NoError(t, log.Sync())

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0]["msg"])
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, "golang", entries[0]["keyword"])
	assert.EqualValues(t, 3, entries[0]["page"])
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collector.log")
	log, err := logger.New(logger.Config{Level: "verbose", OutputPaths: []string{path}})
	require.NoError(t, err)

	log.Debug("dropped")
	log.Info("kept")
	require.NoError(t, log.Sync())

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0]["msg"])
}

func TestNewNop(t *testing.T) {
	log := logger.NewNop()
	assert.NotPanics(t, func() {
		log.Error("ignored", logger.Err(os.ErrNotExist))
		_ = log.Sync()
	})
}
