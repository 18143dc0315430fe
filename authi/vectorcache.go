package authi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const vectorKeyPrefix = "refvec/"

// BadgerVectorCache stores reference vectors in a BadgerDB directory.
type BadgerVectorCache struct {
	db *badger.DB
}

var _ VectorCache = (*BadgerVectorCache)(nil)

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenVectorCache opens (creating if needed) a vector cache at dir. With
// inMemory set, dir is ignored and nothing touches the disk.
func OpenVectorCache(dir string, inMemory bool, logger *slog.Logger) (*BadgerVectorCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if dir == "" {
			return nil, errors.New("vector cache directory is required")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open vector cache: %w", err)
	}
	return &BadgerVectorCache{db: db}, nil
}

// Close closes the underlying database.
func (c *BadgerVectorCache) Close() error {
	return c.db.Close()
}

// Get returns the cached vector for key.
func (c *BadgerVectorCache) Get(key string) ([]float32, bool, error) {
	var vec []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(vectorKeyPrefix + key))
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		vec, err = decodeVector(data)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached vector: %w", err)
	}
	return vec, true, nil
}

// Put stores vec under key. A nil vec records that no vector exists.
func (c *BadgerVectorCache) Put(key string, vec []float32) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(vectorKeyPrefix+key), encodeVector(vec))
	})
	if err != nil {
		return fmt.Errorf("write cached vector: %w", err)
	}
	return nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4+len(vec)*4)
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(vec)))
	off := 4
	for _, v := range vec {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
		off += 4
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, errors.New("cached vector too small")
	}
	length := int(binary.LittleEndian.Uint32(data[:4]))
	data = data[4:]
	if len(data) != length*4 {
		return nil, fmt.Errorf("cached vector length mismatch: want %d floats, have %d bytes", length, len(data))
	}
	if length == 0 {
		return nil, nil
	}
	vec := make([]float32, length)
	for i := 0; i < length; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : (i+1)*4]))
	}
	return vec, nil
}
