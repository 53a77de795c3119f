package chain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pebblenet/pebble-chain/internal/storage"
	"github.com/pebblenet/pebble-chain/pkg/block"
)

// Key prefixes and state keys for the block store.
var (
	prefixBlock = []byte("b/") // b/<hash> -> block JSON
	prefixID    = []byte("i/") // i/<id(8,BE)> -> hash
	prefixPrev  = []byte("p/") // p/<prev_hash> -> hash
	keyTip      = []byte("s/tip")
)

// Store persists blocks to a storage.DB. Alongside the block records it
// maintains an id index and a prev_hash index; the latter enforces one
// successor per parent, so no forks are ever retained.
type Store struct {
	db storage.DB
}

// NewStore creates a block store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// Insert appends a block. It fails with ErrDuplicate when the block's hash,
// id, or prev_hash is already present, and advances the tip when the block's
// id exceeds the current tip's.
func (s *Store) Insert(b *block.Block) error {
	checks := []struct {
		key  []byte
		what string
	}{
		{blockKey(b.Hash), "hash"},
		{idKey(b.ID), "id"},
		{prevKey(b.PrevHash), "prev_hash"},
	}
	for _, c := range checks {
		ok, err := s.db.Has(c.key)
		if err != nil {
			return fmt.Errorf("%s index: %w", c.what, err)
		}
		if ok {
			return fmt.Errorf("insert %s (%s taken): %w", b.Hash, c.what, ErrDuplicate)
		}
	}

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("block marshal: %w", err)
	}
	if err := s.db.Put(blockKey(b.Hash), data); err != nil {
		return fmt.Errorf("block put: %w", err)
	}
	if err := s.db.Put(idKey(b.ID), []byte(b.Hash)); err != nil {
		return fmt.Errorf("id index put: %w", err)
	}
	if err := s.db.Put(prevKey(b.PrevHash), []byte(b.Hash)); err != nil {
		return fmt.Errorf("prev index put: %w", err)
	}

	tip, err := s.Latest()
	if err != nil || b.ID >= tip.ID {
		if err := s.db.Put(keyTip, []byte(b.Hash)); err != nil {
			return fmt.Errorf("tip put: %w", err)
		}
	}
	return nil
}

// GetByHash retrieves a block by its hash.
func (s *Store) GetByHash(hash string) (*block.Block, error) {
	ok, err := s.db.Has(blockKey(hash))
	if err != nil {
		return nil, fmt.Errorf("block has: %w", err)
	}
	if !ok {
		return nil, &BlockNotFoundError{Hash: hash}
	}
	data, err := s.db.Get(blockKey(hash))
	if err != nil {
		return nil, fmt.Errorf("block get: %w", err)
	}
	var b block.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("block unmarshal: %w", err)
	}
	return &b, nil
}

// GetByID retrieves a block by its id via the id index.
func (s *Store) GetByID(id int64) (*block.Block, error) {
	ok, err := s.db.Has(idKey(id))
	if err != nil {
		return nil, fmt.Errorf("id index has: %w", err)
	}
	if !ok {
		return nil, &BlockNotFoundError{Hash: fmt.Sprintf("id=%d", id)}
	}
	hash, err := s.db.Get(idKey(id))
	if err != nil {
		return nil, fmt.Errorf("id index get: %w", err)
	}
	return s.GetByHash(string(hash))
}

// Latest returns the block with the highest id. The id ordering is
// authoritative here: wall-clock timestamps can complete out of order across
// nodes, so they are never used to pick the tip.
func (s *Store) Latest() (*block.Block, error) {
	hash, err := s.db.Get(keyTip)
	if err != nil {
		return nil, &BlockNotFoundError{Hash: "tip"}
	}
	return s.GetByHash(string(hash))
}

// Ordered returns every stored block sorted by id ascending.
func (s *Store) Ordered() ([]block.Block, error) {
	var blocks []block.Block
	err := s.db.ForEach(prefixBlock, func(_, value []byte) error {
		var b block.Block
		if err := json.Unmarshal(value, &b); err != nil {
			return fmt.Errorf("block unmarshal: %w", err)
		}
		blocks = append(blocks, b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("block scan: %w", err)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].ID < blocks[j].ID })
	return blocks, nil
}

// Count returns the number of stored blocks.
func (s *Store) Count() (int64, error) {
	var n int64
	err := s.db.ForEach(prefixID, func(_, _ []byte) error {
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("id scan: %w", err)
	}
	return n, nil
}

// ReplaceAll deletes every stored block and inserts the given blocks in id
// order. The store keeps only the active best chain, so replacement is
// deliberately destructive; callers validate the incoming chain first (see
// Chain.Adopt).
func (s *Store) ReplaceAll(blocks []block.Block) error {
	if err := s.deleteAll(); err != nil {
		return err
	}
	sorted := make([]block.Block, len(blocks))
	copy(sorted, blocks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for i := range sorted {
		if err := s.Insert(&sorted[i]); err != nil {
			return fmt.Errorf("replace insert id %d: %w", sorted[i].ID, err)
		}
	}
	return nil
}

// deleteAll removes every key written by the store. Keys are collected
// before deleting to avoid mutating under iteration.
func (s *Store) deleteAll() error {
	var keys [][]byte
	for _, prefix := range [][]byte{prefixBlock, prefixID, prefixPrev} {
		err := s.db.ForEach(prefix, func(key, _ []byte) error {
			k := make([]byte, len(key))
			copy(k, key)
			keys = append(keys, k)
			return nil
		})
		if err != nil {
			return fmt.Errorf("delete scan: %w", err)
		}
	}
	keys = append(keys, keyTip)
	for _, key := range keys {
		if err := s.db.Delete(key); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
	}
	return nil
}

func blockKey(hash string) []byte {
	key := make([]byte, len(prefixBlock)+len(hash))
	copy(key, prefixBlock)
	copy(key[len(prefixBlock):], hash)
	return key
}

func idKey(id int64) []byte {
	key := make([]byte, len(prefixID)+8)
	copy(key, prefixID)
	binary.BigEndian.PutUint64(key[len(prefixID):], uint64(id))
	return key
}

func prevKey(prevHash string) []byte {
	key := make([]byte, len(prefixPrev)+len(prevHash))
	copy(key, prefixPrev)
	copy(key[len(prefixPrev):], prevHash)
	return key
}
