package chain

import (
	"errors"
	"strings"
)

// ErrDuplicate marks an insert that violates one of the store's uniqueness
// constraints (hash, id, or prev_hash: one successor per parent).
var ErrDuplicate = errors.New("block violates a uniqueness constraint")

// BlockNotFoundError reports a lookup miss, including a missing parent
// during validation.
type BlockNotFoundError struct {
	Hash string
}

func (e *BlockNotFoundError) Error() string {
	return "block not found: " + e.Hash
}

// BlockInvalidError reports a block whose linkage or recomputed digest does
// not check out.
type BlockInvalidError struct {
	Hash string
}

func (e *BlockInvalidError) Error() string {
	return "block invalid: " + e.Hash
}

// ChainInvalidError wraps the reason a whole-chain validation walk failed.
type ChainInvalidError struct {
	Cause error
}

func (e *ChainInvalidError) Error() string {
	return "blockchain invalid."
}

func (e *ChainInvalidError) Unwrap() error {
	return e.Cause
}

// CauseChain renders err in the operator-facing format: the top-level
// message followed by one "Caused by:" line per wrapped source.
func CauseChain(err error) string {
	var b strings.Builder
	b.WriteString(err.Error())
	for err = errors.Unwrap(err); err != nil; err = errors.Unwrap(err) {
		b.WriteString("\nCaused by: ")
		b.WriteString(err.Error())
	}
	return b.String()
}
