package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"salulink/authi/authi"
	"salulink/authi/internal/observability"
)

// newEncoder is replaced in tests.
var newEncoder = func(cfg authi.EmbedderConfig) (authi.Encoder, error) {
	return authi.NewOrtEncoder(cfg, authi.WithEncoderLogger(slog.Default()))
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("authi-cli: %v", err)
	}
}

// engineFlags override the matching settings of config.json for one run.
func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "min-results", Usage: "Minimum matches returned per note (overrides minResults)"},
		&cli.IntFlag{Name: "max-results", Usage: "Maximum matches returned per note (overrides maxResults)"},
		&cli.IntFlag{Name: "max-keywords", Usage: "Maximum keywords reported per note (overrides maxKeywords)"},
		&cli.StringSliceFlag{Name: "stopword", Usage: "Stopword replacing the built-in set (repeatable)"},
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "authi-cli",
		Usage: "Match clinical notes to chronic conditions and ICD-10 codes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config.json",
				Value:   "config.json",
			},
			&cli.StringFlag{
				Name:  "conditions",
				Usage: "CSV/TSV file with the chronic conditions table (overrides conditionsPath)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "analyze",
				Usage:  "Analyze every note of an input file and write the top matches to CSV",
				Action: analyzeCommand,
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "input",
						Aliases:  []string{"i"},
						Usage:    "CSV/TSV/text file containing clinical notes",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "CSV file to write results (default uses --output-dir/result_*.csv)",
					},
					&cli.StringFlag{
						Name:  "output-dir",
						Usage: "Directory where result CSVs are written when --output is omitted",
						Value: "csv",
					},
					&cli.StringFlag{Name: "input-id-column", Usage: "Column name or #index for the note identifier"},
					&cli.StringFlag{Name: "input-encounter-column", Usage: "Column name or #index for the encounter (reported, not analysed)"},
					&cli.StringFlag{Name: "input-note-column", Usage: "Column name or #index for the clinical note"},
					&cli.BoolFlag{
						Name:  "stdout",
						Usage: "Print summary results to STDOUT",
					},
				}, engineFlags()...),
			},
			{
				Name:   "conditions",
				Usage:  "List the reference conditions and whether each has a reference vector",
				Action: conditionsCommand,
				Flags:  engineFlags(),
			},
			{
				Name:   "config",
				Usage:  "Print the effective engine configuration; with --save, write it back to --config",
				Action: configCommand,
				Flags: append([]cli.Flag{
					&cli.BoolFlag{Name: "save", Usage: "Persist the configuration after applying overrides"},
				}, engineFlags()...),
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	level, ok := observability.ParseLevel(c.String("log-level"))
	if !ok {
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.String("log-level"))
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

// configuredService loads config.json and applies the command-line overrides
// through the service so they are validated like any other update.
func configuredService(c *cli.Context) (*authi.Service, error) {
	cfg, err := authi.LoadConfig(strings.TrimSpace(c.String("config")))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	service := authi.NewService(cfg, authi.WithLogger(slog.Default()))
	if err := service.UpdateConfig(applyEngineFlags(c, service.Config())); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return service, nil
}

func applyEngineFlags(c *cli.Context, cfg authi.Config) authi.Config {
	if path := strings.TrimSpace(c.String("conditions")); path != "" {
		cfg.ConditionsPath = path
	}
	if c.IsSet("min-results") {
		cfg.MinResults = c.Int("min-results")
	}
	if c.IsSet("max-results") {
		cfg.MaxResults = c.Int("max-results")
	}
	if c.IsSet("max-keywords") {
		cfg.MaxKeywords = c.Int("max-keywords")
	}
	if c.IsSet("stopword") {
		cfg.Stopwords = c.StringSlice("stopword")
	}
	return cfg
}

// loadService builds the engine from the global flags: config, encoder and
// reference table.
func loadService(c *cli.Context) (*authi.Service, func(), error) {
	service, err := configuredService(c)
	if err != nil {
		return nil, nil, err
	}
	cfg := service.Config()

	enc, err := newEncoder(cfg.Embedder)
	if err != nil {
		return nil, nil, fmt.Errorf("init encoder: %w", err)
	}
	service.PublishEncoder(enc)

	var cache *authi.BadgerVectorCache
	cleanup := func() {
		_ = service.Close()
		if cache != nil {
			_ = cache.Close()
		}
	}

	rows, err := authi.ParseConditionFile(cfg.ConditionsPath, cfg.Columns)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("read conditions: %w", err)
	}
	var opts []authi.LoadOption
	if cfg.Embedder.CacheDir != "" {
		cache, err = authi.OpenVectorCache(cfg.Embedder.CacheDir, false, slog.Default())
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts = append(opts, authi.WithVectorCache(cache))
	}
	if err := service.LoadConditions(c.Context, rows, opts...); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load conditions: %w", err)
	}
	return service, cleanup, nil
}

func analyzeCommand(c *cli.Context) error {
	service, cleanup, err := loadService(c)
	if err != nil {
		return err
	}
	defer cleanup()

	records, err := authi.ParseInputRecordsWithOptions(strings.TrimSpace(c.String("input")), authi.InputParseOptions{
		IDColumn:        c.String("input-id-column"),
		EncounterColumn: c.String("input-encounter-column"),
		NoteColumn:      c.String("input-note-column"),
	})
	if err != nil {
		return fmt.Errorf("read input records: %w", err)
	}
	if len(records) == 0 {
		return errors.New("input file does not contain any notes")
	}

	results, err := analyzeAll(c.Context, service, records)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	outputPath, err := resolveOutputPath(strings.TrimSpace(c.String("output")), strings.TrimSpace(c.String("output-dir")))
	if err != nil {
		return err
	}
	if err := writeResultCSV(outputPath, records, results); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Results written to %s\n", outputPath)

	if c.Bool("stdout") {
		printSummary(c.App.Writer, records, results)
	}
	return nil
}

func analyzeAll(ctx context.Context, service *authi.Service, records []authi.InputRecord) ([]authi.AnalysisResult, error) {
	results := make([]authi.AnalysisResult, len(records))
	for i, rec := range records {
		res, err := service.Analyze(ctx, rec.Note)
		if err != nil {
			return nil, fmt.Errorf("note %d: %w", i+1, err)
		}
		results[i] = res
	}
	return results, nil
}

func conditionsCommand(c *cli.Context) error {
	service, cleanup, err := loadService(c)
	if err != nil {
		return err
	}
	defer cleanup()

	table := service.Table()
	for i, rec := range table.Records() {
		vector := "yes"
		if !rec.HasVector() {
			vector = "no"
		}
		fmt.Fprintf(c.App.Writer, "%3d. %-40s %-8s vector=%s\n", i+1, rec.Condition, rec.ICDCode, vector)
	}
	fmt.Fprintf(c.App.Writer, "%d conditions, %d with reference vectors\n", table.Len(), table.Scorable())
	return nil
}

func configCommand(c *cli.Context) error {
	service, err := configuredService(c)
	if err != nil {
		return err
	}
	defer service.Close()
	cfg := service.Config()

	if c.Bool("save") {
		path := strings.TrimSpace(c.String("config"))
		if err := authi.SaveConfig(path, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		slog.Info("configuration saved", "path", path)
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func resolveOutputPath(path, dir string) (string, error) {
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("resolve output path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return "", fmt.Errorf("create output directory: %w", err)
		}
		return absPath, nil
	}
	if dir == "" {
		dir = "csv"
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve output dir: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	filename := fmt.Sprintf("result_%s.csv", time.Now().Format("20060102150405"))
	return filepath.Join(absDir, filename), nil
}

func writeResultCSV(path string, records []authi.InputRecord, results []authi.AnalysisResult) error {
	if len(records) != len(results) {
		return fmt.Errorf("records/results length mismatch: %d vs %d", len(records), len(results))
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	header := []string{"id", "encounter", "note", "condition", "icd_code", "icd_description", "score", "keywords"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, rec := range records {
		var condition, code, description, score string
		if len(results[i].Matches) > 0 {
			top := results[i].Matches[0]
			condition, code, description = top.Condition, top.ICDCode, top.ICDDescription
			score = fmt.Sprintf("%.4f", top.Score)
		}
		row := []string{rec.ID, rec.Encounter, rec.Note, condition, code, description, score, strings.Join(results[i].Keywords, "; ")}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush result: %w", err)
	}
	return nil
}

func printSummary(w io.Writer, records []authi.InputRecord, results []authi.AnalysisResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "==== Results preview ====")
	for i, rec := range records {
		res := results[i]
		fmt.Fprintf(w, "%d. %s\n", i+1, summarizeRecord(rec))
		if len(res.Keywords) > 0 {
			fmt.Fprintf(w, "    keywords: %s\n", strings.Join(res.Keywords, ", "))
		}
		if len(res.Matches) == 0 {
			fmt.Fprintln(w, "    no matches")
			continue
		}
		for _, m := range res.Matches[:min(3, len(res.Matches))] {
			fmt.Fprintf(w, "      - %s [%s] (score=%.4f)\n", m.Condition, m.ICDCode, m.Score)
		}
	}
}

func summarizeRecord(rec authi.InputRecord) string {
	var parts []string
	if id := strings.TrimSpace(rec.ID); id != "" {
		parts = append(parts, "#"+id)
	}
	if encounter := strings.TrimSpace(rec.Encounter); encounter != "" {
		parts = append(parts, "("+encounter+")")
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	text := strings.TrimSpace(rec.Note)
	if text == "" {
		return "(empty note)"
	}
	runeText := []rune(text)
	if len(runeText) > 60 {
		return string(runeText[:60]) + "…"
	}
	return text
}
