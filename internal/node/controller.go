// Package node implements the controller: the single event loop that owns
// the chain cursor and the store handle, mediating between operator input,
// the gossip overlay, and the mining engine.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pebblenet/pebble-chain/internal/chain"
	"github.com/pebblenet/pebble-chain/internal/consensus"
	plog "github.com/pebblenet/pebble-chain/internal/log"
	"github.com/pebblenet/pebble-chain/internal/p2p"
	"github.com/pebblenet/pebble-chain/pkg/block"
	"github.com/rs/zerolog"
)

// Transport is the slice of the gossip overlay the controller drives.
// *p2p.Node implements it; tests substitute a scripted fake.
type Transport interface {
	Ready() <-chan struct{}
	Events() <-chan p2p.Event
	Send(data []byte)
	SelfID() string
	DiscoveredPeers() []string
	SubscribedPeers() []string
}

// Config holds the controller's mining parameters. Difficulty must agree
// across all nodes of a network.
type Config struct {
	Difficulty string
	Workers    int
}

type mineResult struct {
	blk block.Block
	err error
}

// Controller multiplexes operator commands, peer events, and mining
// completions. It is the only writer to the chain store; every state
// transition happens on its single goroutine.
type Controller struct {
	cfg    Config
	chain  *chain.Chain
	net    Transport
	out    io.Writer
	logger zerolog.Logger

	mineDone   chan mineResult
	mining     bool
	mineCancel context.CancelFunc
	probed     bool
}

// New creates a controller over an initialized chain and transport. Output
// for the operator goes to out.
func New(cfg Config, ch *chain.Chain, net Transport, out io.Writer) *Controller {
	return &Controller{
		cfg:      cfg,
		chain:    ch,
		net:      net,
		out:      out,
		logger:   plog.WithComponent("node"),
		mineDone: make(chan mineResult, 1),
	}
}

// Run drives the event loop until the operator exits, the line source
// closes, or the context is cancelled. It blocks until the transport
// signals readiness before accepting any command.
func (c *Controller) Run(ctx context.Context, lines <-chan string) error {
	select {
	case <-c.net.Ready():
	case <-ctx.Done():
		return nil
	}
	c.logger.Info().Str("peer_id", c.net.SelfID()).Msg("Transport ready, accepting commands")

	for {
		select {
		case <-ctx.Done():
			c.abortMining()
			return nil
		case line, ok := <-lines:
			if !ok {
				c.abortMining()
				return nil
			}
			if c.handleCommand(strings.TrimRight(line, "\r")) {
				c.abortMining()
				return nil
			}
		case ev := <-c.net.Events():
			c.handleEvent(ev)
		case res := <-c.mineDone:
			c.finishMine(res)
		}
	}
}

// handleCommand dispatches one operator line. Returns true on exit.
func (c *Controller) handleCommand(line string) bool {
	switch {
	case line == "exit":
		return true

	case line == "chain validate":
		if err := c.chain.Validate(); err != nil {
			fmt.Fprintln(c.out, chain.CauseChain(err))
		} else {
			fmt.Fprintln(c.out, "chain valid.")
		}

	case line == "block latest":
		c.printBlock(c.chain.Latest())

	case strings.HasPrefix(line, "block mine "):
		c.startMine(strings.TrimPrefix(line, "block mine "))

	case strings.HasPrefix(line, "block get "):
		hash := strings.TrimPrefix(line, "block get ")
		b, err := c.chain.Store().GetByHash(hash)
		if err != nil {
			fmt.Fprintln(c.out, chain.CauseChain(err))
		} else {
			c.printBlock(*b)
		}

	case strings.HasPrefix(line, "block validate "):
		hash := strings.TrimPrefix(line, "block validate ")
		b, err := c.chain.Store().GetByHash(hash)
		if err != nil {
			fmt.Fprintln(c.out, chain.CauseChain(err))
		} else if err := chain.ValidateBlock(c.chain.Store(), b); err != nil {
			fmt.Fprintln(c.out, chain.CauseChain(err))
		} else {
			fmt.Fprintf(c.out, "Valid block hash. ID of block: %d\n", b.ID)
		}

	case line == "ls p":
		fmt.Fprintf(c.out, "discovered nodes (mdns): %v\n", c.net.DiscoveredPeers())
		fmt.Fprintf(c.out, "connected peers (gossipsub): %v\n", c.net.SubscribedPeers())

	case strings.HasPrefix(line, "send message "):
		c.net.Send([]byte(strings.TrimPrefix(line, "send message ")))

	case line == "":
		// Blank input, nothing to do.

	default:
		fmt.Fprintln(c.out, "error: unkown command.")
	}
	return false
}

// startMine offloads the nonce search to a worker pool so the event loop
// stays responsive while mining. One mine at a time.
func (c *Controller) startMine(data string) {
	if c.mining {
		fmt.Fprintln(c.out, "error: already mining a block.")
		return
	}

	latest := c.chain.Latest()
	prevHash := latest.Hash
	id := latest.ID + 1
	timestamp := time.Now().Unix()
	difficulty := c.cfg.Difficulty
	workers := c.cfg.Workers

	mctx, cancel := context.WithCancel(context.Background())
	c.mining = true
	c.mineCancel = cancel

	fmt.Fprintln(c.out, "Mining...")
	c.logger.Info().Int64("id", id).Int("workers", workers).Msg("Mining block...")

	go func() {
		hash, nonce, err := consensus.FindHash(mctx, prevHash, data, timestamp, difficulty, workers)
		if err != nil {
			c.mineDone <- mineResult{err: err}
			return
		}
		c.mineDone <- mineResult{blk: block.Block{
			Hash:      hash,
			ID:        id,
			PrevHash:  prevHash,
			Timestamp: timestamp,
			Nonce:     nonce,
			Data:      data,
		}}
	}()
}

// finishMine lands a mining completion: insert, print, broadcast. Cancelled
// searches are logged and dropped.
func (c *Controller) finishMine(res mineResult) {
	c.mining = false
	if c.mineCancel != nil {
		c.mineCancel()
		c.mineCancel = nil
	}

	if res.err != nil {
		c.logger.Info().Err(res.err).Msg("Mining aborted")
		return
	}

	b := res.blk
	if err := c.chain.AddBlock(&b); err != nil {
		fmt.Fprintln(c.out, chain.CauseChain(err))
		c.logger.Warn().Err(err).Str("hash", short(b.Hash)).Msg("Mined block rejected")
		return
	}

	fmt.Fprintln(c.out, "added new block")
	c.printBlock(b)
	c.send(&p2p.ReceivedNewBlock{Block: b})
	c.logger.Info().Int64("id", b.ID).Str("hash", short(b.Hash)).Msg("Block mined and broadcast")
}

// abortMining cancels any in-flight nonce search. The result lands in the
// buffered mineDone channel, so the worker goroutine never leaks.
func (c *Controller) abortMining() {
	if c.mining && c.mineCancel != nil {
		c.mineCancel()
	}
}

func (c *Controller) handleEvent(ev p2p.Event) {
	switch ev.Kind {
	case p2p.EventPeerJoined:
		c.logger.Info().Str("peer", ev.From).Msg("Peer subscribed")
		// Probe the first peer for a longer chain.
		if !c.probed {
			c.probed = true
			c.send(&p2p.LatestBlockRequest{Receiver: ev.From, Random: false})
		}
	case p2p.EventPeerLeft:
		c.logger.Info().Str("peer", ev.From).Msg("Peer unsubscribed")
	case p2p.EventMessage:
		c.handleMessage(ev.From, ev.Data)
	}
}

// handleMessage decodes and acts on one gossip payload. Malformed payloads
// and directed shapes addressed to someone else are silently dropped.
func (c *Controller) handleMessage(from string, data []byte) {
	msg, ok := p2p.Decode(data)
	if !ok {
		c.logger.Debug().Str("peer", from).Msg("Dropping undecodable message")
		return
	}
	self := c.net.SelfID()

	switch m := msg.(type) {
	case *p2p.LatestBlockRequest:
		if m.Receiver != self {
			return
		}
		c.send(&p2p.ReceivedLatestBlock{Receiver: from, Block: c.chain.Latest()})

	case *p2p.ReceivedLatestBlock:
		if m.Receiver != self {
			return
		}
		if m.Block.ID <= c.chain.Latest().ID {
			return
		}
		// The peer is ahead. Any in-flight mine is building on a stale tip;
		// cancel it and fetch the longer chain instead.
		if c.mining && c.mineCancel != nil {
			c.mineCancel()
		}
		c.send(&p2p.ChainRequest{Receiver: from})

	case *p2p.ChainRequest:
		if m.Receiver != self {
			return
		}
		ordered, err := c.chain.Store().Ordered()
		if err != nil {
			c.logger.Error().Err(err).Msg("Reading chain for peer failed")
			return
		}
		c.send(&p2p.ReceivedChain{Receiver: from, Chain: ordered})

	case *p2p.ReceivedChain:
		if m.Receiver != self {
			return
		}
		if err := c.chain.Adopt(m.Chain); err != nil {
			c.logger.Warn().Err(err).Str("peer", from).Msg("Rejected replacement chain")
			return
		}
		c.logger.Info().
			Int64("id", c.chain.Latest().ID).
			Str("hash", short(c.chain.Latest().Hash)).
			Msg("Adopted longer chain")

	case *p2p.ReceivedNewBlock:
		b := m.Block
		if err := c.chain.AddBlock(&b); err != nil {
			// Includes out-of-order arrivals: the parent is missing, the
			// block is dropped, and the chain catches up via a later sync.
			c.logger.Warn().Err(err).Str("hash", short(b.Hash)).Msg("Dropping invalid received block")
			return
		}
		c.logger.Info().Int64("id", b.ID).Str("hash", short(b.Hash)).Msg("Received block applied")
	}
}

func (c *Controller) send(m p2p.Message) {
	data, err := p2p.Encode(m)
	if err != nil {
		c.logger.Error().Err(err).Msg("Encode failed")
		return
	}
	c.net.Send(data)
}

func (c *Controller) printBlock(b block.Block) {
	pretty, err := json.MarshalIndent(&b, "", "  ")
	if err != nil {
		fmt.Fprintf(c.out, "%+v\n", b)
		return
	}
	fmt.Fprintln(c.out, string(pretty))
}

func short(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}
