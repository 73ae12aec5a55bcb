// Package statcache persists per-graph degree statistics in BadgerDB.
//
// Computing degree summaries means sorting every degree array of the graph.
// The cache stores them under the BLAKE2b-256 hash of the graph file's
// contents, so a renamed or copied file still hits and an edited one misses.
package statcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/kernelswitch/pkg/graph"
)

// Errors returned by the cache.
var (
	ErrNotFound = errors.New("statcache: not found")
	ErrClosed   = errors.New("statcache: closed")
)

const prefixStats = byte(0x01) // stats:hash -> JSON(Stats)

// Key identifies a graph by content.
type Key [blake2b.Size256]byte

// Stats are the cached statistics of one graph.
type Stats struct {
	VertexCount int                      `json:"vertex_count"`
	EdgeCount   int                      `json:"edge_count"`
	Degrees     map[string]graph.Summary `json:"degrees"`
}

// Compute derives Stats from g.
func Compute(g *graph.Graph) *Stats {
	s := &Stats{
		VertexCount: g.VertexCount,
		EdgeCount:   g.EdgeCount,
		Degrees:     make(map[string]graph.Summary, len(graph.DegreeKinds)),
	}
	for _, kind := range graph.DegreeKinds {
		s.Degrees[kind.String()] = g.DegreeStatistics(kind)
	}
	return s
}

// Options configures a Cache.
type Options struct {
	// Dir is the BadgerDB directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps the cache in memory only.
	InMemory bool
}

// Cache is a BadgerDB-backed statistics cache, safe for concurrent use.
type Cache struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the cache in dir.
func Open(dir string) (*Cache, error) {
	return OpenWithOptions(Options{Dir: dir})
}

// OpenInMemory opens a cache that is discarded on Close.
func OpenInMemory() (*Cache, error) {
	return OpenWithOptions(Options{InMemory: true})
}

// OpenWithOptions opens a cache with custom options.
func OpenWithOptions(opts Options) (*Cache, error) {
	badgerOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	// Entries are small JSON documents; keep badger's footprint small too.
	badgerOpts = badgerOpts.
		WithLogger(nil).
		WithMemTableSize(8 << 20).
		WithValueLogFileSize(16 << 20).
		WithNumMemtables(2).
		WithBlockCacheSize(4 << 20).
		WithIndexCacheSize(2 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open stat cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// FileKey hashes the contents of the file at path.
func FileKey(path string) (Key, error) {
	var key Key

	f, err := os.Open(path)
	if err != nil {
		return key, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return key, err
	}
	if _, err := io.Copy(h, f); err != nil {
		return key, fmt.Errorf("hashing %s: %w", path, err)
	}
	copy(key[:], h.Sum(nil))
	return key, nil
}

func statsKey(k Key) []byte {
	return append([]byte{prefixStats}, k[:]...)
}

// Get returns the statistics stored under k.
func (c *Cache) Get(k Key) (*Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}

	var s *Stats
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(statsKey(k))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			s = new(Stats)
			return json.Unmarshal(val, s)
		})
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Put stores s under k, replacing any previous entry.
func (c *Cache) Put(k Key, s *Stats) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(statsKey(k), data)
	})
}

// Lookup returns the cached statistics for the graph read from path,
// computing and storing them on a miss.
func (c *Cache) Lookup(path string, g *graph.Graph) (*Stats, bool, error) {
	key, err := FileKey(path)
	if err != nil {
		return nil, false, err
	}

	s, err := c.Get(key)
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	s = Compute(g)
	if err := c.Put(key, s); err != nil {
		return nil, false, err
	}
	return s, false, nil
}

// Close closes the underlying database. Closing twice is a no-op.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}
