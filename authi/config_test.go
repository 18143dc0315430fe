package authi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.json"))

	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MinResults)
	assert.Equal(t, 5, cfg.MaxResults)
	assert.Equal(t, 20, cfg.MaxKeywords)
	assert.Equal(t, "Chronic Conditions.csv", cfg.ConditionsPath)
	assert.Equal(t, 512, cfg.Embedder.MaxSeqLen)
	assert.Equal(t, 768, cfg.Embedder.HiddenSize)
}

func TestSaveAndLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")
	cacheDir := filepath.Join(dir, "vectors")
	in := Config{
		MinResults: 2,
		MaxResults: 4,
		Stopwords:  []string{"patient"},
		Columns:    ConditionColumns{Condition: "#1"},
		Embedder: EmbedderConfig{
			ModelPath:      "models/bert.onnx",
			CacheDir:       cacheDir,
			ModelID:        "clinical-bert",
			IntraOpThreads: 2,
		},
	}

	require.NoError(t, SaveConfig(path, in))
	out, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, 2, out.MinResults)
	assert.Equal(t, 4, out.MaxResults)
	assert.Equal(t, []string{"patient"}, out.Stopwords)
	assert.Equal(t, "#1", out.Columns.Condition)
	assert.Equal(t, "clinical-bert", out.Embedder.ModelID)
	assert.Equal(t, 2, out.Embedder.IntraOpThreads)
	assert.DirExists(t, cacheDir)
	assert.NoFileExists(t, path+".tmp")
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err := LoadConfig(bad)
	assert.Error(t, err)

	seqLen := filepath.Join(dir, "seq.json")
	require.NoError(t, os.WriteFile(seqLen, []byte(`{"embedder":{"maxSeqLen":1}}`), 0o644))
	_, err = LoadConfig(seqLen)
	assert.Error(t, err)

	threads := filepath.Join(dir, "threads.json")
	require.NoError(t, os.WriteFile(threads, []byte(`{"embedder":{"intraOpThreads":-1}}`), 0o644))
	_, err = LoadConfig(threads)
	assert.Error(t, err)
}

func TestApplyDefaultsRaisesMaxToMin(t *testing.T) {
	cfg := Config{MinResults: 6, MaxResults: 2}
	cfg.ApplyDefaults()
	assert.Equal(t, 6, cfg.MaxResults)
	assert.NoError(t, cfg.Validate())
}

func TestConfigClone(t *testing.T) {
	cfg := Config{Stopwords: []string{"a"}}
	clone := cfg.Clone()
	clone.Stopwords[0] = "b"
	assert.Equal(t, "a", cfg.Stopwords[0])
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "BP 140/90\tmmHg", NormalizeText("  ＢＰ 140/90\tmmHg\x00 "))
	assert.Equal(t, "line one\nline two", NormalizeText("line one\nline two"))
}
