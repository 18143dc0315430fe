package authi

import "encoding/json"

// Token is one sub-word unit produced by an Encoder. Text has the WordPiece
// continuation marker removed. Vectors are shared with the encoder's cache and
// must not be modified.
type Token struct {
	Text         string
	Vector       []float32
	Continuation bool
	Boundary     bool
}

// Keyword is a reassembled word with the mean vector of its tokens.
type Keyword struct {
	Text   string
	Vector []float32
}

// ConditionRow is a reference row as read from the conditions file.
type ConditionRow struct {
	Condition      string `json:"condition"`
	ICDCode        string `json:"icdCode"`
	ICDDescription string `json:"icdDescription"`
}

// ConditionRecord is a reference row with its precomputed reference vector.
// A nil Vector means no vector could be derived and the record is never scored.
type ConditionRecord struct {
	Condition      string
	ICDCode        string
	ICDDescription string
	Vector         []float32
}

// HasVector reports whether the record takes part in scoring.
func (r ConditionRecord) HasVector() bool {
	return len(r.Vector) > 0
}

// MatchResult is one ranked condition.
type MatchResult struct {
	Condition      string  `json:"condition"`
	ICDCode        string  `json:"icdCode"`
	ICDDescription string  `json:"icdDescription"`
	Score          float64 `json:"score"`
}

// AnalysisResult is returned by Service.Analyze.
type AnalysisResult struct {
	Keywords []string      `json:"keywords"`
	Matches  []MatchResult `json:"matches"`
}

// Status reports readiness of the service.
type Status struct {
	ModelLoaded      bool `json:"modelLoaded"`
	ConditionsLoaded bool `json:"conditionsLoaded"`
	Conditions       int  `json:"conditions"`
	Scorable         int  `json:"scorable"`
}

// ConditionColumns selects the columns of the conditions file by header name or #N.
type ConditionColumns struct {
	Condition   string `json:"condition,omitempty"`
	ICDCode     string `json:"icdCode,omitempty"`
	Description string `json:"description,omitempty"`
}

// EmbedderConfig wraps the configuration for the ONNX encoder and its caches.
type EmbedderConfig struct {
	OrtDLL           string `json:"ortDll"`
	ModelPath        string `json:"modelPath"`
	TokenizerPath    string `json:"tokenizerPath"`
	MaxSeqLen        int    `json:"maxSeqLen"`
	HiddenSize       int    `json:"hiddenSize"`
	OutputName       string `json:"outputName,omitempty"`
	SkipTokenTypeIDs bool   `json:"skipTokenTypeIds,omitempty"`
	Workers          int    `json:"workers"`
	IntraOpThreads   int    `json:"intraOpThreads,omitempty"`
	CacheSize        int    `json:"cacheSize"`
	CacheDir         string `json:"cacheDir"`
	ModelID          string `json:"modelId"`
}

// Config aggregates engine settings persisted to config.json.
type Config struct {
	MinResults     int              `json:"minResults"`
	MaxResults     int              `json:"maxResults"`
	MaxKeywords    int              `json:"maxKeywords"`
	Stopwords      []string         `json:"stopwords,omitempty"`
	ConditionsPath string           `json:"conditionsPath"`
	Columns        ConditionColumns `json:"columns"`
	Embedder       EmbedderConfig   `json:"embedder"`
}

// Clone creates a deep copy of the configuration so callers can mutate safely.
func (c Config) Clone() Config {
	buf, _ := json.Marshal(c)
	var out Config
	_ = json.Unmarshal(buf, &out)
	return out
}

// ApplyDefaults populates zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.MinResults <= 0 {
		c.MinResults = 3
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 5
	}
	if c.MaxResults < c.MinResults {
		c.MaxResults = c.MinResults
	}
	if c.MaxKeywords <= 0 {
		c.MaxKeywords = 20
	}
	if c.ConditionsPath == "" {
		c.ConditionsPath = "Chronic Conditions.csv"
	}
	if c.Embedder.MaxSeqLen == 0 {
		c.Embedder.MaxSeqLen = 512
	}
	if c.Embedder.HiddenSize == 0 {
		c.Embedder.HiddenSize = 768
	}
	if c.Embedder.Workers <= 0 {
		c.Embedder.Workers = 1
	}
	if c.Embedder.CacheSize <= 0 {
		c.Embedder.CacheSize = 128
	}
}
