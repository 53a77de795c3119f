package chain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pebblenet/pebble-chain/internal/consensus"
	"github.com/pebblenet/pebble-chain/internal/storage"
	"github.com/pebblenet/pebble-chain/pkg/block"
	"github.com/pebblenet/pebble-chain/pkg/crypto"
)

// testDifficulty keeps mining in tests near-instant. With the unpadded
// encoding a leading "0" comes only from a zero first byte, about 1 in 256
// nonces.
const testDifficulty = "0"

// newTestChain initializes a fresh chain over an in-memory store.
func newTestChain(t *testing.T) (*Chain, storage.DB) {
	t.Helper()
	db := storage.NewMemory()
	ch, err := Init(NewStore(db))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return ch, db
}

// mineNext builds and appends the next block carrying data.
func mineNext(t *testing.T, ch *Chain, data string) block.Block {
	t.Helper()
	prev := ch.Latest()
	ts := prev.Timestamp + 1
	hash, nonce := consensus.FindHashSync(prev.Hash, data, ts, testDifficulty)
	b := block.Block{
		Hash:      hash,
		ID:        prev.ID + 1,
		PrevHash:  prev.Hash,
		Timestamp: ts,
		Nonce:     nonce,
		Data:      data,
	}
	if err := ch.AddBlock(&b); err != nil {
		t.Fatalf("AddBlock(%q): %v", data, err)
	}
	return b
}

func TestInit_GenesisOnly(t *testing.T) {
	ch, _ := newTestChain(t)

	count, err := ch.Store().Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("fresh store holds %d blocks, want 1", count)
	}

	latest := ch.Latest()
	if latest.Hash != block.GenesisHash {
		t.Errorf("latest hash = %q, want genesis hash", latest.Hash)
	}
	if latest.ID != 0 {
		t.Errorf("latest id = %d, want 0", latest.ID)
	}

	if err := ch.Validate(); err != nil {
		t.Errorf("Validate on fresh chain: %v", err)
	}
}

func TestInit_ResumesFromStore(t *testing.T) {
	db := storage.NewMemory()
	ch, err := Init(NewStore(db))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	mined := mineNext(t, ch, "persisted")

	// Re-open over the same database: the tip must be recovered, not
	// re-created from genesis.
	ch2, err := Init(NewStore(db))
	if err != nil {
		t.Fatalf("re-Init: %v", err)
	}
	if got := ch2.Latest(); got.Hash != mined.Hash {
		t.Errorf("resumed tip = %q, want %q", got.Hash, mined.Hash)
	}
}

func TestMineThree(t *testing.T) {
	ch, _ := newTestChain(t)

	b1 := mineNext(t, ch, "new block 1")
	b2 := mineNext(t, ch, "new block 2")
	b3 := mineNext(t, ch, "new block 3")

	latest := ch.Latest()
	if latest.ID != 3 {
		t.Errorf("latest id = %d, want 3", latest.ID)
	}
	if latest.Data != "new block 3" {
		t.Errorf("latest data = %q, want %q", latest.Data, "new block 3")
	}

	if b1.PrevHash != block.GenesisHash {
		t.Errorf("block 1 prev = %q, want genesis hash", b1.PrevHash)
	}
	if b2.PrevHash != b1.Hash || b3.PrevHash != b2.Hash {
		t.Error("successive blocks are not linked by prev_hash")
	}

	if err := ch.Validate(); err != nil {
		t.Errorf("Validate after mining: %v", err)
	}
}

func TestValidateChain_TamperedBlock(t *testing.T) {
	ch, db := newTestChain(t)
	mineNext(t, ch, "new block 1")
	b2 := mineNext(t, ch, "new block 2")
	mineNext(t, ch, "new block 3")

	// Overwrite the stored data of block id 2 behind the store's back.
	tampered := b2
	tampered.Data = "invalid data"
	raw, err := json.Marshal(&tampered)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Put(blockKey(b2.Hash), raw); err != nil {
		t.Fatal(err)
	}

	err = ch.Validate()
	var chainErr *ChainInvalidError
	if !errors.As(err, &chainErr) {
		t.Fatalf("Validate = %v, want ChainInvalidError", err)
	}
	var blockErr *BlockInvalidError
	if !errors.As(err, &blockErr) {
		t.Fatalf("cause = %v, want BlockInvalidError", chainErr.Cause)
	}
}

func TestValidateBlock_Forged(t *testing.T) {
	ch, _ := newTestChain(t)
	b1 := mineNext(t, ch, "new block 1")
	b2 := mineNext(t, ch, "new block 2")

	forged := block.Block{
		ID:        1,
		Data:      "x",
		Timestamp: 12345,
		Nonce:     123,
		PrevHash:  b1.Hash,
		Hash:      b2.Hash,
	}

	err := ValidateBlock(ch.Store(), &forged)
	var blockErr *BlockInvalidError
	if !errors.As(err, &blockErr) {
		t.Fatalf("ValidateBlock = %v, want BlockInvalidError", err)
	}
	if blockErr.Hash != b2.Hash {
		t.Errorf("error names hash %q, want %q", blockErr.Hash, b2.Hash)
	}
}

func TestAddBlock_MissingParent(t *testing.T) {
	ch, _ := newTestChain(t)

	orphan := block.Block{
		Hash:      crypto.Sum("unknown", "orphan", 1, 1),
		ID:        5,
		PrevHash:  "unknown",
		Timestamp: 1,
		Nonce:     1,
		Data:      "orphan",
	}

	err := ch.AddBlock(&orphan)
	var notFound *BlockNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("AddBlock(orphan) = %v, want BlockNotFoundError", err)
	}
	if notFound.Hash != "unknown" {
		t.Errorf("error names %q, want the missing parent", notFound.Hash)
	}
	if got := ch.Latest(); got.ID != 0 {
		t.Errorf("cursor moved to id %d after rejected block", got.ID)
	}
}

func TestGetByID(t *testing.T) {
	ch, _ := newTestChain(t)
	mineNext(t, ch, "new block 1")
	b2 := mineNext(t, ch, "new block 2")

	got, err := ch.Store().GetByID(2)
	if err != nil {
		t.Fatalf("GetByID(2): %v", err)
	}
	if got.Hash != b2.Hash || got.Data != "new block 2" {
		t.Errorf("GetByID(2) = %+v, want block %q", got, b2.Hash)
	}

	_, err = ch.Store().GetByID(99)
	var notFound *BlockNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("GetByID(99) = %v, want BlockNotFoundError", err)
	}
}

func TestInsert_UniquenessViolations(t *testing.T) {
	ch, _ := newTestChain(t)
	b1 := mineNext(t, ch, "new block 1")

	// Same block again: hash collision.
	if err := ch.Store().Insert(&b1); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate hash insert = %v, want ErrDuplicate", err)
	}

	// Second child of the same parent: prev_hash collision.
	prev := block.Genesis()
	hash, nonce := consensus.FindHashSync(prev.Hash, "sibling", 99, testDifficulty)
	sibling := block.Block{
		Hash: hash, ID: 2, PrevHash: prev.Hash, Timestamp: 99, Nonce: nonce, Data: "sibling",
	}
	if err := ch.Store().Insert(&sibling); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second successor insert = %v, want ErrDuplicate", err)
	}

	// Distinct hash and parent but an already-taken id.
	hash2, nonce2 := consensus.FindHashSync(b1.Hash, "same id", 100, testDifficulty)
	sameID := block.Block{
		Hash: hash2, ID: 1, PrevHash: b1.Hash, Timestamp: 100, Nonce: nonce2, Data: "same id",
	}
	if err := ch.Store().Insert(&sameID); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate id insert = %v, want ErrDuplicate", err)
	}
}

func TestReplaceAll_Ordered(t *testing.T) {
	ch, _ := newTestChain(t)
	mineNext(t, ch, "a")
	mineNext(t, ch, "b")
	ordered, err := ch.Store().Ordered()
	if err != nil {
		t.Fatalf("Ordered: %v", err)
	}

	// Feed the chain back shuffled; ReplaceAll must restore id order.
	shuffled := []block.Block{ordered[2], ordered[0], ordered[1]}
	fresh := NewStore(storage.NewMemory())
	if err := fresh.ReplaceAll(shuffled); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	got, err := fresh.Ordered()
	if err != nil {
		t.Fatalf("Ordered: %v", err)
	}
	if len(got) != len(ordered) {
		t.Fatalf("got %d blocks, want %d", len(got), len(ordered))
	}
	for i := range got {
		if got[i] != ordered[i] {
			t.Errorf("block %d = %+v, want %+v", i, got[i], ordered[i])
		}
	}
}

func TestAdopt_LongerChain(t *testing.T) {
	remote, _ := newTestChain(t)
	mineNext(t, remote, "r1")
	mineNext(t, remote, "r2")
	mineNext(t, remote, "r3")
	remoteChain, err := remote.Store().Ordered()
	if err != nil {
		t.Fatalf("Ordered: %v", err)
	}

	local, _ := newTestChain(t)
	if err := local.Adopt(remoteChain); err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if got := local.Latest(); got.Hash != remote.Latest().Hash {
		t.Errorf("adopted tip = %q, want %q", got.Hash, remote.Latest().Hash)
	}
	if err := local.Validate(); err != nil {
		t.Errorf("Validate after adopt: %v", err)
	}
}

func TestAdopt_RefusesShorterOrEqual(t *testing.T) {
	local, _ := newTestChain(t)
	mineNext(t, local, "l1")
	localChain, _ := local.Store().Ordered()

	// Equal length.
	other, _ := newTestChain(t)
	mineNext(t, other, "o1")
	otherChain, _ := other.Store().Ordered()
	if err := local.Adopt(otherChain); err == nil {
		t.Error("Adopt accepted an equal-length chain")
	}

	// Shorter.
	genesisOnly := []block.Block{block.Genesis()}
	if err := local.Adopt(genesisOnly); err == nil {
		t.Error("Adopt accepted a shorter chain")
	}

	// Local state untouched.
	if got := local.Latest(); got.Hash != localChain[len(localChain)-1].Hash {
		t.Errorf("local tip changed to %q after refused adoptions", got.Hash)
	}
}

func TestAdopt_RefusesInvalidChain(t *testing.T) {
	remote, _ := newTestChain(t)
	mineNext(t, remote, "r1")
	mineNext(t, remote, "r2")
	remoteChain, _ := remote.Store().Ordered()
	remoteChain[1].Data = "tampered"

	local, _ := newTestChain(t)
	err := local.Adopt(remoteChain)
	var chainErr *ChainInvalidError
	if !errors.As(err, &chainErr) {
		t.Fatalf("Adopt(tampered) = %v, want ChainInvalidError", err)
	}

	// Nothing was deleted or written.
	count, _ := local.Store().Count()
	if count != 1 {
		t.Errorf("local store holds %d blocks after refused adopt, want 1", count)
	}
}

func TestCauseChain_Format(t *testing.T) {
	err := &ChainInvalidError{Cause: &BlockInvalidError{Hash: "ABCD"}}
	got := CauseChain(err)
	want := "blockchain invalid.\nCaused by: block invalid: ABCD"
	if got != want {
		t.Errorf("CauseChain = %q, want %q", got, want)
	}
	if strings.Contains(got, "goroutine") {
		t.Error("cause chain must not contain stack traces")
	}
}
