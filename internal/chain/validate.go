package chain

import (
	"errors"
	"fmt"

	"github.com/pebblenet/pebble-chain/pkg/block"
	"github.com/pebblenet/pebble-chain/pkg/crypto"
)

// ValidateBlock checks a single block against the store: the parent must
// exist with id one below, and the block's digest must recompute from its
// own fields. The genesis block is valid by identity.
func ValidateBlock(s *Store, b *block.Block) error {
	if b.IsGenesis() {
		return nil
	}

	prev, err := s.GetByHash(b.PrevHash)
	if err != nil {
		return err
	}
	if prev.ID != b.ID-1 {
		return &BlockInvalidError{Hash: b.Hash}
	}
	if crypto.Sum(b.PrevHash, b.Data, b.Timestamp, b.Nonce) != b.Hash {
		return &BlockInvalidError{Hash: b.Hash}
	}
	return nil
}

// ValidateChain walks backward from latest via prev_hash, validating every
// block. The walk must visit exactly count blocks and terminate at the
// genesis block.
func ValidateChain(s *Store, latest *block.Block) error {
	count, err := s.Count()
	if err != nil {
		return &ChainInvalidError{Cause: err}
	}
	if count != latest.ID+1 {
		return &ChainInvalidError{Cause: fmt.Errorf("store holds %d blocks but latest id is %d", count, latest.ID)}
	}

	hash := latest.Hash
	visited := int64(0)
	for {
		cur, err := s.GetByHash(hash)
		if err != nil {
			return &ChainInvalidError{Cause: err}
		}
		if err := ValidateBlock(s, cur); err != nil {
			return &ChainInvalidError{Cause: err}
		}
		visited++

		if cur.ID == 0 {
			if visited != count {
				return &ChainInvalidError{Cause: fmt.Errorf("walk visited %d blocks, store holds %d", visited, count)}
			}
			if cur.Hash != block.GenesisHash {
				return &ChainInvalidError{Cause: errors.New("genesis hash invalid")}
			}
			return nil
		}
		hash = cur.PrevHash
	}
}
