// Package emb runs a BERT-family ONNX model over WordPiece tokens and exposes the
// per-token hidden states.
package emb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	defaultMaxSeqLen  = 512
	defaultHiddenSize = 768
	defaultOutputName = "last_hidden_state"
)

// ErrNotInitialized is returned when Run is called before Init or after Close.
var ErrNotInitialized = errors.New("emb: encoder is not initialized")

// Config describes the model, tokenizer and runtime library used by an Encoder.
type Config struct {
	OrtDLL           string
	ModelPath        string
	TokenizerPath    string
	MaxSeqLen        int
	HiddenSize       int
	OutputName       string
	SkipTokenTypeIDs bool
	IntraOpThreads   int
}

// Output is the result of one forward pass. Hidden[i] is the vector of Tokens[i].
type Output struct {
	Tokens  []string
	Special []bool
	Hidden  [][]float32
}

// Encoder owns a tokenizer and an ONNX Runtime session. Run is serialised.
type Encoder struct {
	mu      sync.Mutex
	cfg     Config
	tk      *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
	ownsEnv bool
}

// Init loads the tokenizer and creates the inference session.
func (e *Encoder) Init(cfg Config) error {
	if cfg.ModelPath == "" {
		return errors.New("emb: model path is required")
	}
	if cfg.TokenizerPath == "" {
		return errors.New("emb: tokenizer path is required")
	}
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = defaultMaxSeqLen
	}
	if cfg.HiddenSize <= 0 {
		cfg.HiddenSize = defaultHiddenSize
	}
	if cfg.OutputName == "" {
		cfg.OutputName = defaultOutputName
	}

	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return fmt.Errorf("emb: load tokenizer: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !ort.IsInitialized() {
		if cfg.OrtDLL != "" {
			ort.SetSharedLibraryPath(cfg.OrtDLL)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("emb: init onnxruntime: %w", err)
		}
		e.ownsEnv = true
	}

	var opts *ort.SessionOptions
	if cfg.IntraOpThreads > 0 {
		opts, err = ort.NewSessionOptions()
		if err != nil {
			e.releaseEnv()
			return fmt.Errorf("emb: session options: %w", err)
		}
		defer opts.Destroy()
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			e.releaseEnv()
			return fmt.Errorf("emb: set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames(cfg), []string{cfg.OutputName}, opts)
	if err != nil {
		e.releaseEnv()
		return fmt.Errorf("emb: create session: %w", err)
	}

	e.cfg = cfg
	e.tk = tk
	e.session = session
	return nil
}

// Close destroys the session and, when Init created it, the runtime environment.
func (e *Encoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		_ = e.session.Destroy()
		e.session = nil
	}
	e.tk = nil
	e.releaseEnv()
}

// Run tokenizes text, truncates it to MaxSeqLen and returns the hidden state of every token.
func (e *Encoder) Run(text string) (*Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.tk == nil {
		return nil, ErrNotInitialized
	}

	encoding, err := e.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("emb: tokenize: %w", err)
	}
	seq := sequenceFromEncoding(encoding).truncate(e.cfg.MaxSeqLen)
	n := len(seq.ids)
	if n == 0 {
		return &Output{}, nil
	}

	shape := ort.NewShape(1, int64(n))
	idsTensor, err := ort.NewTensor(shape, seq.ids)
	if err != nil {
		return nil, fmt.Errorf("emb: input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, seq.mask)
	if err != nil {
		return nil, fmt.Errorf("emb: attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	inputs := []ort.Value{idsTensor, maskTensor}
	if !e.cfg.SkipTokenTypeIDs {
		typeTensor, err := ort.NewTensor(shape, seq.typeIDs)
		if err != nil {
			return nil, fmt.Errorf("emb: token_type_ids tensor: %w", err)
		}
		defer typeTensor.Destroy()
		inputs = append(inputs, typeTensor)
	}

	hiddenSize := e.cfg.HiddenSize
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(n), int64(hiddenSize)))
	if err != nil {
		return nil, fmt.Errorf("emb: output tensor: %w", err)
	}
	defer output.Destroy()

	if err := e.session.Run(inputs, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("emb: run session: %w", err)
	}
	return &Output{
		Tokens:  seq.tokens,
		Special: seq.special,
		Hidden:  splitRows(output.GetData(), n, hiddenSize),
	}, nil
}

func (e *Encoder) releaseEnv() {
	if e.ownsEnv {
		_ = ort.DestroyEnvironment()
		e.ownsEnv = false
	}
}

func inputNames(cfg Config) []string {
	names := []string{"input_ids", "attention_mask"}
	if !cfg.SkipTokenTypeIDs {
		names = append(names, "token_type_ids")
	}
	return names
}

func splitRows(data []float32, rows, width int) [][]float32 {
	out := make([][]float32, rows)
	for i := 0; i < rows; i++ {
		row := make([]float32, width)
		copy(row, data[i*width:(i+1)*width])
		out[i] = row
	}
	return out
}
