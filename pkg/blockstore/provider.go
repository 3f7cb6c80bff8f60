// Package blockstore implements the append-only, commit/flush key-value
// store the SPANN writer and its reconciler use to persist posting lists,
// the version map, and per-head lengths. It is the reference
// implementation of the blockfile provider contract described by the
// writer's external interfaces: every committed blockfile is addressed
// by a UUID, and a writer's mutations are invisible to readers until
// Commit (and, for callers that care about durability, Flush) completes.
//
// A single blockfile (identified by its WriterOptions.Name, e.g. "pl",
// "versions", "maxhead", "graph") can hold several independent key
// namespaces ("prefixes" in the spec's vocabulary) — the versions
// blockfile is the motivating example, storing PointID->Version under
// the empty prefix and HeadID->Length under the "head" prefix, with both
// visible to readers atomically once the single commit that wrote them
// both succeeds.
package blockstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Sentinel errors returned by the provider. Higher layers (pkg/spann)
// wrap these into the writer's own named error surface.
var (
	ErrNotFound     = errors.New("blockstore: key not found")
	ErrNoSuchName   = errors.New("blockstore: no committed generation for this name")
	ErrWriterClosed = errors.New("blockstore: writer already committed")
	ErrForkNotFound = errors.New("blockstore: fork_from_id generation not found")
)

// metaBucket holds, per blockfile name, the bucket name of its current
// committed generation. It is the provider's single source of truth for
// "what does OpenReader(name) resolve to".
var metaBucket = []byte("__meta__")

// WriterOptions configures a new writer, mirroring the blockfile provider
// contract: a logical name (here standing in for `prefix_path`: which
// blockfile this is, e.g. "pl"/"versions"/"maxhead"/"graph"), an optional
// block size hint (unused by the bbolt backend but preserved for
// interface fidelity), whether mutations may be applied out of order, an
// optional generation to fork from, and an optional CMEK envelope.
type WriterOptions struct {
	Name               string
	MaxBlockSizeBytes  *int
	UnorderedMutations bool
	ForkFromID         string
	Cmek               *CmekConfig
}

// Provider is the top-level handle to the backing store, created once per
// process and shared by every Writer/Reader the SPANN writer opens.
type Provider struct {
	mu sync.Mutex
	db *bolt.DB
}

// Open opens (or creates) the backing bbolt database at path.
func Open(path string) (*Provider, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("blockstore: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("blockstore: init meta bucket: %w", err)
	}
	return &Provider{db: db}, nil
}

// Close closes the backing database.
func (p *Provider) Close() error {
	return p.db.Close()
}

// currentGeneration returns the bucket name of the current committed
// generation for name, or "" if none has ever been committed.
func (p *Provider) currentGeneration(name string) (string, error) {
	var gen string
	err := p.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		v := b.Get([]byte(name))
		if v != nil {
			gen = string(v)
		}
		return nil
	})
	return gen, err
}

// compositeKey joins a prefix and key the way callers address entries
// within a single blockfile's several namespaces.
func compositeKey(prefix string, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+1+len(key))
	out = append(out, []byte(prefix)...)
	out = append(out, 0) // NUL separator: prefixes never contain it
	out = append(out, key...)
	return out
}

// CreateWriter opens a new writer for the given options. If ForkFromID is
// set, the new generation is seeded with a copy of that generation's
// contents before any Set/Delete calls are applied, mirroring the
// `fork_from_id` contract.
func (p *Provider) CreateWriter(ctx context.Context, opts WriterOptions) (*Writer, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("blockstore: WriterOptions.Name is required")
	}
	genID := uuid.New().String()
	w := &Writer{
		provider: p,
		name:     opts.Name,
		genID:    genID,
		cmek:     opts.Cmek,
		pending:  make(map[string][]byte),
		deleted:  make(map[string]struct{}),
	}

	if opts.ForkFromID != "" {
		bucketName := generationBucket(opts.Name, opts.ForkFromID)
		err := p.db.View(func(tx *bolt.Tx) error {
			src := tx.Bucket(bucketName)
			if src == nil {
				return ErrForkNotFound
			}
			return src.ForEach(func(k, v []byte) error {
				cp := make([]byte, len(v))
				copy(cp, v)
				w.pending[string(k)] = cp
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}
	return w, nil
}

// OpenReader opens a reader bound to the current committed generation of
// name, or to a specific generation if genID is non-empty (used by
// reconciliation against a known snapshot).
func (p *Provider) OpenReader(name string, genID string) (*Reader, error) {
	if genID == "" {
		g, err := p.currentGeneration(name)
		if err != nil {
			return nil, err
		}
		if g == "" {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchName, name)
		}
		genID = g
	}
	return &Reader{
		provider: p,
		bucket:   generationBucket(name, genID),
		genID:    genID,
	}, nil
}

func generationBucket(name, genID string) []byte {
	return []byte(name + "/" + genID)
}

// Writer accumulates Set/Delete calls in memory (across however many
// prefixes the caller addresses) and applies them as a single bbolt
// transaction on Commit, matching the source's "mutations are invisible
// until commit" contract and giving same-commit prefixes (like the
// versions blockfile's "" and "head") atomic visibility together.
type Writer struct {
	provider *Provider
	name     string
	genID    string
	cmek     *CmekConfig
	pending  map[string][]byte
	deleted  map[string]struct{}
	done     bool
}

// Set stages a key/value mutation under prefix. The value is encrypted
// first if the writer was configured with a CmekConfig.
func (w *Writer) Set(prefix string, key, value []byte) error {
	if w.done {
		return ErrWriterClosed
	}
	v := value
	if w.cmek != nil {
		enc, err := w.cmek.Encrypt(value)
		if err != nil {
			return fmt.Errorf("blockstore: cmek encrypt: %w", err)
		}
		v = enc
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	k := string(compositeKey(prefix, key))
	delete(w.deleted, k)
	w.pending[k] = cp
	return nil
}

// Delete stages a key deletion under prefix.
func (w *Writer) Delete(prefix string, key []byte) error {
	if w.done {
		return ErrWriterClosed
	}
	k := string(compositeKey(prefix, key))
	delete(w.pending, k)
	w.deleted[k] = struct{}{}
	return nil
}

// Commit applies every staged mutation as a single bbolt transaction and
// returns a Flusher. After Commit the writer must not be reused.
func (w *Writer) Commit(ctx context.Context) (*Flusher, error) {
	if w.done {
		return nil, ErrWriterClosed
	}
	w.done = true

	bucketName := generationBucket(w.name, w.genID)
	err := w.provider.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		for k := range w.deleted {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		keys := make([]string, 0, len(w.pending))
		for k := range w.pending {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := b.Put([]byte(k), w.pending[k]); err != nil {
				return err
			}
		}
		meta := tx.Bucket(metaBucket)
		return meta.Put([]byte(w.name), []byte(w.genID))
	})
	if err != nil {
		return nil, fmt.Errorf("blockstore: commit %s: %w", w.name, err)
	}
	return &Flusher{name: w.name, genID: w.genID}, nil
}

// Flusher is returned by Commit and exposes the UUID addressing the
// committed blockfile, matching `flush() -> map<category, list<uuid>>`.
type Flusher struct {
	name  string
	genID string
}

// Flush returns the category -> []uuid map for the single blockfile this
// Flusher was created for. A multi-file flush (posting lists + versions +
// max-head) is composed by the caller merging several Flushers' results;
// see pkg/spann/commit.go.
func (f *Flusher) Flush(ctx context.Context) (map[string][]string, error) {
	return map[string][]string{f.name: {f.genID}}, nil
}

// GenerationID returns the UUID of the generation this flusher committed.
func (f *Flusher) GenerationID() string {
	return f.genID
}

// Reader provides point lookups and range scans against a fixed
// generation of a blockfile.
type Reader struct {
	provider *Provider
	bucket   []byte
	genID    string
	cmek     *CmekConfig
}

// WithCmek attaches decryption to a reader opened against an
// encrypted blockfile.
func (r *Reader) WithCmek(c *CmekConfig) *Reader {
	r.cmek = c
	return r
}

// Get looks up a single key under prefix.
func (r *Reader) Get(prefix string, key []byte) ([]byte, bool, error) {
	var out []byte
	var found bool
	ck := compositeKey(prefix, key)
	err := r.provider.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket)
		if b == nil {
			return nil
		}
		v := b.Get(ck)
		if v == nil {
			return nil
		}
		found = true
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if r.cmek != nil {
		dec, err := r.cmek.Decrypt(out)
		if err != nil {
			return nil, false, fmt.Errorf("blockstore: cmek decrypt: %w", err)
		}
		return dec, true, nil
	}
	return out, true, nil
}

// KV is a single key/value pair returned by GetRange, with the prefix
// stripped back off the composite key.
type KV struct {
	Key   []byte
	Value []byte
}

// GetRange returns every entry in prefix with key in [startKey, endKey).
// A nil endKey means "to the end of the prefix".
func (r *Reader) GetRange(prefix string, startKey, endKey []byte) ([]KV, error) {
	var out []KV
	lo := compositeKey(prefix, startKey)
	var hi []byte
	if endKey != nil {
		hi = compositeKey(prefix, endKey)
	}
	prefixBytes := append([]byte(prefix), 0)
	err := r.provider.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(lo); k != nil; k, v = c.Next() {
			if !bytes.HasPrefix(k, prefixBytes) {
				break
			}
			if hi != nil && bytes.Compare(k, hi) >= 0 {
				break
			}
			kk := make([]byte, len(k)-len(prefixBytes))
			copy(kk, k[len(prefixBytes):])
			vv := make([]byte, len(v))
			copy(vv, v)
			if r.cmek != nil {
				dec, err := r.cmek.Decrypt(vv)
				if err != nil {
					return fmt.Errorf("blockstore: cmek decrypt: %w", err)
				}
				vv = dec
			}
			out = append(out, KV{Key: kk, Value: vv})
		}
		return nil
	})
	return out, err
}

// GenerationID returns the UUID this reader is bound to.
func (r *Reader) GenerationID() string {
	return r.genID
}

