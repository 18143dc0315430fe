package main

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salulink/authi/authi"
	"salulink/authi/authi/mock"
)

const testConditions = "CHRONIC CONDITIONS,ICD-Code,ICD-Code Description\n" +
	"Asthma,J45.9,Asthma with nocturnal wheezing\n" +
	"Hypertension,I10,Essential (primary) hypertension\n" +
	"Placeholder,Z00,of the\n"

func useMockEncoder(t *testing.T, enc *mock.Encoder) {
	t.Helper()
	prev := newEncoder
	newEncoder = func(authi.EmbedderConfig) (authi.Encoder, error) {
		return enc, nil
	}
	t.Cleanup(func() { newEncoder = prev })
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"authi-cli"}, args...))
	return out.String(), err
}

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAnalyzeCommand(t *testing.T) {
	enc := mock.NewEncoder(8)
	enc.Vectors["wheezing"] = []float32{1, 0, 0, 0, 0, 0, 0, 0}
	useMockEncoder(t, enc)
	dir := t.TempDir()
	conditions := writeTemp(t, dir, "conditions.csv", testConditions)
	input := writeTemp(t, dir, "notes.csv", "id,encounter,note\n"+
		"n1,2024-03-02,Nocturnal wheezing and cough\n"+
		"n2,,the of\n")
	output := filepath.Join(dir, "out", "result.csv")

	stdout, err := runCLI(t,
		"--config", filepath.Join(dir, "config.json"),
		"--conditions", conditions,
		"analyze", "--input", input, "--output", output, "--stdout")

	require.NoError(t, err)
	assert.Contains(t, stdout, "Results written to "+output)
	assert.Contains(t, stdout, "1. #n1 (2024-03-02)")
	assert.Contains(t, stdout, "no matches")

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "encounter", "note", "condition", "icd_code", "icd_description", "score", "keywords"}, rows[0])
	assert.Equal(t, "n1", rows[1][0])
	assert.NotEmpty(t, rows[1][3])
	assert.Contains(t, rows[1][7], "wheezing")
	assert.Equal(t, []string{"n2", "", "the of", "", "", "", "", ""}, rows[2])
}

func TestAnalyzeCommandAppliesOverrides(t *testing.T) {
	useMockEncoder(t, mock.NewEncoder(8))
	dir := t.TempDir()
	conditions := writeTemp(t, dir, "conditions.csv", testConditions)
	input := writeTemp(t, dir, "notes.txt", "Nocturnal wheezing and persistent cough\n")
	output := filepath.Join(dir, "result.csv")

	_, err := runCLI(t,
		"--config", filepath.Join(dir, "config.json"),
		"--conditions", conditions,
		"analyze", "--input", input, "--output", output,
		"--min-results", "1", "--max-results", "1", "--max-keywords", "2", "--stopword", "nocturnal")

	require.NoError(t, err)
	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "wheezing; persistent", rows[1][7])
}

func TestAnalyzeCommandRequiresInput(t *testing.T) {
	_, err := runCLI(t, "analyze")
	assert.Error(t, err)
}

func TestAnalyzeCommandEncoderFailure(t *testing.T) {
	prev := newEncoder
	newEncoder = func(authi.EmbedderConfig) (authi.Encoder, error) {
		return nil, errors.New("onnxruntime library not found")
	}
	t.Cleanup(func() { newEncoder = prev })
	dir := t.TempDir()
	input := writeTemp(t, dir, "notes.txt", "wheezing\n")

	_, err := runCLI(t, "--config", filepath.Join(dir, "config.json"), "analyze", "--input", input)

	assert.ErrorContains(t, err, "init encoder")
}

func TestConditionsCommand(t *testing.T) {
	useMockEncoder(t, mock.NewEncoder(8))
	dir := t.TempDir()
	conditions := writeTemp(t, dir, "conditions.csv", testConditions)

	stdout, err := runCLI(t, "--config", filepath.Join(dir, "config.json"), "--conditions", conditions, "conditions")

	require.NoError(t, err)
	assert.Contains(t, stdout, "Asthma")
	assert.Regexp(t, `Placeholder\s+Z00\s+vector=no`, stdout)
	assert.Contains(t, stdout, "3 conditions, 2 with reference vectors")
}

func TestConfigCommandSavesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	stdout, err := runCLI(t, "--config", path, "--conditions", "data/conditions.csv",
		"config", "--min-results", "2", "--max-results", "4", "--stopword", "patient", "--stopword", "denies", "--save")

	require.NoError(t, err)
	assert.Contains(t, stdout, `"minResults": 2`)
	saved, err := authi.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, saved.MinResults)
	assert.Equal(t, 4, saved.MaxResults)
	assert.Equal(t, []string{"patient", "denies"}, saved.Stopwords)
	assert.Equal(t, "data/conditions.csv", saved.ConditionsPath)
}

func TestConfigCommandWithoutSaveLeavesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	stdout, err := runCLI(t, "--config", path, "config", "--max-keywords", "7")

	require.NoError(t, err)
	assert.Contains(t, stdout, `"maxKeywords": 7`)
	assert.NoFileExists(t, path)
}

func TestConfigCommandRejectsInvalidFile(t *testing.T) {
	path := writeTemp(t, t.TempDir(), "config.json", `{"embedder":{"maxSeqLen":1}}`)

	_, err := runCLI(t, "--config", path, "config", "--save")

	assert.ErrorContains(t, err, "load config")
}

func TestSetupLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := runCLI(t, "--log-level", "verbose", "conditions")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestSummarizeRecord(t *testing.T) {
	assert.Equal(t, "#7 (2024-03-02)", summarizeRecord(authi.InputRecord{ID: "7", Encounter: "2024-03-02", Note: "stable"}))
	assert.Equal(t, "(empty note)", summarizeRecord(authi.InputRecord{}))
	long := string(bytes.Repeat([]byte("a"), 70))
	assert.Equal(t, long[:60]+"…", summarizeRecord(authi.InputRecord{Note: long}))
}
