// Package consensus implements the proof-of-work nonce search.
package consensus

import (
	"context"
	"errors"
	"sync"

	"github.com/pebblenet/pebble-chain/pkg/crypto"
)

// nonceBatch is how many nonces a worker claims per counter access. Claiming
// in batches amortizes the mutex acquisition against the hashing work; see
// the benchmarks in pow_test.go before changing it.
const nonceBatch = 100

// ErrNoWorkers is returned when FindHash is called with worker count < 1.
var ErrNoWorkers = errors.New("worker count must be at least 1")

// FindHash searches for a nonce whose digest over (prevHash, data, timestamp)
// starts with the difficulty prefix, running the given number of parallel
// workers. It returns the winning digest and nonce.
//
// Workers share a monotone counter and claim contiguous batches of nonces
// from it. The first worker to find a satisfying nonce publishes it under the
// shared mutex; the found flag is separate from the nonce value, so nonce 0
// is a publishable solution. Remaining workers finish their current batch and
// exit. The returned nonce is whichever won the race, not necessarily the
// smallest satisfying one.
//
// Cancellation is cooperative: the context is checked between batches, and a
// cancelled search returns ctx.Err(). All workers are joined before FindHash
// returns.
func FindHash(ctx context.Context, prevHash, data string, timestamp int64, difficulty string, workers int) (string, int64, error) {
	if workers < 1 {
		return "", 0, ErrNoWorkers
	}

	var (
		mu    sync.Mutex
		next  int64
		found bool
		hash  string
		nonce int64
	)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				if found {
					mu.Unlock()
					return
				}
				start := next
				next += nonceBatch
				mu.Unlock()

				if ctx.Err() != nil {
					return
				}

				for n := start; n < start+nonceBatch; n++ {
					h := crypto.Sum(prevHash, data, timestamp, n)
					if !crypto.HasPrefix(h, difficulty) {
						continue
					}
					mu.Lock()
					if !found { // first writer wins
						found = true
						hash = h
						nonce = n
					}
					mu.Unlock()
					break
				}
			}
		}()
	}
	wg.Wait()

	if found {
		return hash, nonce, nil
	}
	return "", 0, ctx.Err()
}

// FindHashSync enumerates nonces 0, 1, 2, ... in the calling goroutine and
// returns the first hit. It serves as the single-threaded baseline for the
// benchmarks and as an oracle in tests; the node always mines via FindHash.
func FindHashSync(prevHash, data string, timestamp int64, difficulty string) (string, int64) {
	for n := int64(0); ; n++ {
		h := crypto.Sum(prevHash, data, timestamp, n)
		if crypto.HasPrefix(h, difficulty) {
			return h, n
		}
	}
}
