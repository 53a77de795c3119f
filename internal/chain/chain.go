// Package chain implements the persisted block chain: the store, the
// validation walks, and the in-memory cursor the node controller owns.
package chain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pebblenet/pebble-chain/internal/storage"
	"github.com/pebblenet/pebble-chain/pkg/block"
)

// Chain is the cursor over the persisted block sequence. It caches only the
// latest block as a value copy; every other read goes through the store.
type Chain struct {
	store  *Store
	latest block.Block
}

// Init loads the chain tip from the store, or inserts the genesis block into
// an empty store and starts a fresh chain.
func Init(store *Store) (*Chain, error) {
	latest, err := store.Latest()
	if err == nil {
		return &Chain{store: store, latest: *latest}, nil
	}

	gen := block.Genesis()
	if err := store.Insert(&gen); err != nil {
		return nil, fmt.Errorf("insert genesis: %w", err)
	}
	return &Chain{store: store, latest: gen}, nil
}

// Store returns the underlying block store.
func (c *Chain) Store() *Store {
	return c.store
}

// Latest returns a copy of the cached tip block.
func (c *Chain) Latest() block.Block {
	return c.latest
}

// AddBlock validates and inserts a block, then advances the cursor. Used for
// both locally mined blocks and blocks received from peers.
func (c *Chain) AddBlock(b *block.Block) error {
	if err := ValidateBlock(c.store, b); err != nil {
		return err
	}
	if err := c.store.Insert(b); err != nil {
		return err
	}
	c.latest = *b
	return nil
}

// Validate runs the whole-chain validation walk from the cursor.
func (c *Chain) Validate() error {
	return ValidateChain(c.store, &c.latest)
}

// Adopt replaces the local chain with the given one. The incoming sequence
// is validated on a scratch store and its tip must be strictly longer than
// the local tip before anything is deleted; a peer can therefore not
// overwrite local state with a bogus or shorter chain.
func (c *Chain) Adopt(blocks []block.Block) error {
	if len(blocks) == 0 {
		return &ChainInvalidError{Cause: errors.New("empty chain")}
	}

	sorted := make([]block.Block, len(blocks))
	copy(sorted, blocks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	tip := sorted[len(sorted)-1]

	if tip.ID <= c.latest.ID {
		return fmt.Errorf("refusing chain with tip id %d: not longer than local tip %d", tip.ID, c.latest.ID)
	}

	scratch := NewStore(storage.NewMemory())
	for i := range sorted {
		if err := scratch.Insert(&sorted[i]); err != nil {
			return &ChainInvalidError{Cause: err}
		}
	}
	if err := ValidateChain(scratch, &tip); err != nil {
		return err
	}

	if err := c.store.ReplaceAll(sorted); err != nil {
		return err
	}
	c.latest = tip
	return nil
}
