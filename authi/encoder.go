package authi

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/singleflight"

	"salulink/authi/emb"
)

const continuationPrefix = "##"

// specialTokens are treated as word boundaries even when the tokenizer does not
// flag them, so an unknown-token placeholder never becomes part of a keyword.
var specialTokens = map[string]struct{}{
	"[CLS]": {}, "[SEP]": {}, "[PAD]": {}, "[MASK]": {}, "[UNK]": {},
}

// Encoder turns text into contextual token vectors and a whole-text vector.
// Implementations must be deterministic for identical input.
type Encoder interface {
	EncodeTokens(ctx context.Context, text string) ([]Token, error)
	EncodeSentence(ctx context.Context, text string) ([]float32, error)
	ModelID() string
	Close() error
}

type runner interface {
	Run(text string) (*emb.Output, error)
}

// OrtEncoder runs an emb.Encoder on a bounded worker pool. Outputs are kept in
// an LRU keyed by model and normalized text, and concurrent requests for the
// same text share one inference.
type OrtEncoder struct {
	runner  runner
	release func()
	modelID string
	pool    *ants.Pool
	cache   *lru.Cache[string, *emb.Output]
	group   singleflight.Group
	logger  *slog.Logger
	closed  atomic.Bool
}

// EncoderOption configures an OrtEncoder.
type EncoderOption func(*OrtEncoder)

// WithEncoderLogger sets the encoder logger.
func WithEncoderLogger(logger *slog.Logger) EncoderOption {
	return func(o *OrtEncoder) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrtEncoder loads the ONNX model and tokenizer described by cfg.
func NewOrtEncoder(cfg EmbedderConfig, opts ...EncoderOption) (*OrtEncoder, error) {
	encoder := &emb.Encoder{}
	if err := encoder.Init(emb.Config{
		OrtDLL:           cfg.OrtDLL,
		ModelPath:        cfg.ModelPath,
		TokenizerPath:    cfg.TokenizerPath,
		MaxSeqLen:        cfg.MaxSeqLen,
		HiddenSize:       cfg.HiddenSize,
		OutputName:       cfg.OutputName,
		SkipTokenTypeIDs: cfg.SkipTokenTypeIDs,
		IntraOpThreads:   cfg.IntraOpThreads,
	}); err != nil {
		return nil, err
	}
	id, err := encoderIdentity(cfg)
	if err != nil {
		encoder.Close()
		return nil, err
	}
	cfg.ModelID = id
	o, err := newOrtEncoder(encoder, cfg, opts...)
	if err != nil {
		encoder.Close()
		return nil, err
	}
	o.release = encoder.Close
	o.logger.Info("encoder ready", "model_id", o.modelID, "workers", o.pool.Cap())
	return o, nil
}

// encoderIdentity names the model together with the settings that shape its
// output. Without an explicit modelId the model is named by its file name and a
// digest of its contents. The tokenizer digest is always included.
func encoderIdentity(cfg EmbedderConfig) (string, error) {
	name := cfg.ModelID
	if name == "" {
		digest, err := fileDigest(cfg.ModelPath)
		if err != nil {
			return "", fmt.Errorf("fingerprint model: %w", err)
		}
		name = filepath.Base(cfg.ModelPath) + "@" + digest
	}
	tk, err := fileDigest(cfg.TokenizerPath)
	if err != nil {
		return "", fmt.Errorf("fingerprint tokenizer: %w", err)
	}
	return fmt.Sprintf("%s;tok=%s;seq=%d;out=%s;tt=%t",
		name, tk, cfg.MaxSeqLen, cfg.OutputName, !cfg.SkipTokenTypeIDs), nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

func newOrtEncoder(r runner, cfg EmbedderConfig, opts ...EncoderOption) (*OrtEncoder, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 128
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create encoder pool: %w", err)
	}
	cache, err := lru.New[string, *emb.Output](cacheSize)
	if err != nil {
		pool.Release()
		return nil, fmt.Errorf("create encoder cache: %w", err)
	}
	o := &OrtEncoder{
		runner:  r,
		modelID: cfg.ModelID,
		pool:    pool,
		cache:   cache,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ModelID returns the identifier used for cache keys.
func (o *OrtEncoder) ModelID() string {
	return o.modelID
}

// Close releases the worker pool and ORT resources.
func (o *OrtEncoder) Close() error {
	if o == nil || !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	o.pool.Release()
	o.cache.Purge()
	if o.release != nil {
		o.release()
	}
	return nil
}

// EncodeTokens returns every token of text, special tokens flagged as boundaries.
func (o *OrtEncoder) EncodeTokens(ctx context.Context, text string) ([]Token, error) {
	out, err := o.output(ctx, text)
	if err != nil {
		return nil, err
	}
	return tokensFromOutput(out), nil
}

// EncodeSentence returns the vector of the leading [CLS] token.
func (o *OrtEncoder) EncodeSentence(ctx context.Context, text string) ([]float32, error) {
	out, err := o.output(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(out.Hidden) == 0 {
		return nil, errors.New("encode: model returned no tokens")
	}
	return cloneVector(out.Hidden[0]), nil
}

func (o *OrtEncoder) output(ctx context.Context, text string) (*emb.Output, error) {
	if o == nil || o.closed.Load() {
		return nil, emb.ErrNotInitialized
	}
	normalized := NormalizeText(text)
	key := normalized
	if out, ok := o.cache.Get(key); ok {
		return out, nil
	}
	ch := o.group.DoChan(key, func() (any, error) {
		out, err := o.runInPool(normalized)
		if err != nil {
			return nil, err
		}
		o.cache.Add(key, out)
		return out, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("encode: %w", res.Err)
		}
		return res.Val.(*emb.Output), nil
	}
}

func (o *OrtEncoder) runInPool(text string) (*emb.Output, error) {
	type result struct {
		out *emb.Output
		err error
	}
	done := make(chan result, 1)
	if err := o.pool.Submit(func() {
		out, err := o.runner.Run(text)
		done <- result{out: out, err: err}
	}); err != nil {
		return nil, fmt.Errorf("submit to encoder pool: %w", err)
	}
	res := <-done
	return res.out, res.err
}

func tokensFromOutput(out *emb.Output) []Token {
	tokens := make([]Token, len(out.Tokens))
	for i, raw := range out.Tokens {
		tok := Token{Text: raw}
		if i < len(out.Hidden) {
			tok.Vector = out.Hidden[i]
		}
		_, special := specialTokens[raw]
		if special || (i < len(out.Special) && out.Special[i]) {
			tok.Boundary = true
		} else if strings.HasPrefix(raw, continuationPrefix) {
			tok.Continuation = true
			tok.Text = strings.TrimPrefix(raw, continuationPrefix)
		}
		tokens[i] = tok
	}
	return tokens
}
