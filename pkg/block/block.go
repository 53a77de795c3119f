// Package block defines the chain's block entity and the genesis constants.
package block

// Genesis constants. Identical on every node; a node whose constants differ
// can never sync with the network.
//
// The genesis hash is a trust anchor, not a proof-of-work output. It is never
// recomputed from the genesis block's contents.
const (
	GenesisHash      = "0A31F6A1DB36EEDF9AA5C56AB90DCC76A3ABD90C77B1198336FD1AE512193F"
	GenesisID        = 0
	GenesisTimestamp = 0
	GenesisPrevHash  = "null"
	GenesisData      = "some random newspaper headline from today"
)

// Block is one element of the hash-linked chain. Data is an opaque
// operator-supplied payload; the node does not interpret it.
type Block struct {
	Hash      string `json:"hash"`
	ID        int64  `json:"id"`
	PrevHash  string `json:"prev_hash"`
	Timestamp int64  `json:"timestamp"`
	Nonce     int64  `json:"nonce"`
	Data      string `json:"data"`
}

// Genesis returns the fixed genesis block.
func Genesis() Block {
	return Block{
		Hash:      GenesisHash,
		ID:        GenesisID,
		PrevHash:  GenesisPrevHash,
		Timestamp: GenesisTimestamp,
		Nonce:     0,
		Data:      GenesisData,
	}
}

// IsGenesis reports whether b is the genesis block.
func (b *Block) IsGenesis() bool {
	return b.ID == GenesisID && b.Hash == GenesisHash
}
