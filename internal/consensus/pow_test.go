package consensus

import (
	"context"
	"fmt"
	"runtime"
	"testing"

	"github.com/pebblenet/pebble-chain/pkg/crypto"
)

const (
	testPrevHash  = "deadbeef"
	testData      = "block data"
	testTimestamp = 1700000000
)

func TestFindHash_WorkerCounts(t *testing.T) {
	// The returned pair must satisfy the contract for every worker count;
	// the nonce itself may differ between runs.
	for _, workers := range []int{1, 2, runtime.NumCPU()} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			hash, nonce, err := FindHash(context.Background(), testPrevHash, testData, testTimestamp, "0", workers)
			if err != nil {
				t.Fatalf("FindHash: %v", err)
			}
			if !crypto.HasPrefix(hash, "0") {
				t.Errorf("hash %q does not start with difficulty prefix", hash)
			}
			if got := crypto.Sum(testPrevHash, testData, testTimestamp, nonce); got != hash {
				t.Errorf("digest of returned nonce = %q, want %q", got, hash)
			}
		})
	}
}

func TestFindHash_NoWorkers(t *testing.T) {
	_, _, err := FindHash(context.Background(), testPrevHash, testData, testTimestamp, "0", 0)
	if err != ErrNoWorkers {
		t.Fatalf("FindHash(workers=0) err = %v, want ErrNoWorkers", err)
	}
}

func TestFindHash_EmptyDifficulty(t *testing.T) {
	// An empty prefix matches every digest, so the very first nonce hashed
	// wins. Nonce 0 is a legal solution here.
	hash, nonce, err := FindHash(context.Background(), testPrevHash, testData, testTimestamp, "", 1)
	if err != nil {
		t.Fatalf("FindHash: %v", err)
	}
	if nonce != 0 {
		t.Errorf("nonce = %d, want 0 with a single worker and empty difficulty", nonce)
	}
	if got := crypto.Sum(testPrevHash, testData, testTimestamp, nonce); got != hash {
		t.Errorf("digest of returned nonce = %q, want %q", got, hash)
	}
}

func TestFindHash_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// "ZZ" can never prefix a hex digest, so only cancellation ends the search.
	_, _, err := FindHash(ctx, testPrevHash, testData, testTimestamp, "ZZ", 2)
	if err != context.Canceled {
		t.Fatalf("FindHash(cancelled) err = %v, want context.Canceled", err)
	}
}

func TestFindHashSync_Oracle(t *testing.T) {
	// First satisfying nonce for these fixed inputs at difficulty "0",
	// computed once and pinned. The synchronous search must always return
	// the smallest satisfying nonce.
	hash, nonce := FindHashSync(testPrevHash, testData, testTimestamp, "0")
	if nonce != 440 {
		t.Fatalf("FindHashSync nonce = %d, want 440", nonce)
	}
	const want = "0DA9C6E3B36DDF8D98F53718D0D09B3CEC1A6F57397BB36FCE5D9C7B28AA"
	if hash != want {
		t.Fatalf("FindHashSync hash = %q, want %q", hash, want)
	}
}

func TestFindHash_AgreesWithOracle(t *testing.T) {
	// Parallel search may return any satisfying nonce, but the digest it
	// reports must verify exactly like the oracle's.
	hash, nonce, err := FindHash(context.Background(), testPrevHash, testData, testTimestamp, "0", 4)
	if err != nil {
		t.Fatalf("FindHash: %v", err)
	}
	if got := crypto.Sum(testPrevHash, testData, testTimestamp, nonce); got != hash {
		t.Fatalf("parallel result does not verify: %q vs %q", got, hash)
	}
}

func BenchmarkFindHashSync(b *testing.B) {
	for i := 0; i < b.N; i++ {
		FindHashSync(testPrevHash, testData, testTimestamp, "0")
	}
}

func BenchmarkFindHash(b *testing.B) {
	for _, workers := range []int{1, 2, 4, runtime.NumCPU()} {
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, _, err := FindHash(context.Background(), testPrevHash, testData, testTimestamp, "0", workers); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
