// Pebble full node daemon.
//
// Usage:
//
//	pebbled [options] <database>   Run a node against the named block store
//	pebbled --help                 Show help
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pebblenet/pebble-chain/config"
	"github.com/pebblenet/pebble-chain/internal/chain"
	plog "github.com/pebblenet/pebble-chain/internal/log"
	"github.com/pebblenet/pebble-chain/internal/node"
	"github.com/pebblenet/pebble-chain/internal/p2p"
	"github.com/pebblenet/pebble-chain/internal/storage"
	"golang.org/x/term"
)

func main() {
	// ── 1. Load config (defaults → file → flags → positional db name) ──
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ──────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = cfg.LogsDir() + "/pebble.log"
	}
	if err := plog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := plog.WithComponent("main")

	logger.Info().
		Str("database", cfg.Database).
		Str("difficulty", cfg.Difficulty).
		Int("workers", cfg.Mining.Workers).
		Msg("Starting Pebble Chain Node")

	// ── 3. Open storage ─────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.DatabaseDir())
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DatabaseDir()).Msg("Failed to open database")
	}
	defer db.Close()
	logger.Info().Str("path", cfg.DatabaseDir()).Msg("Database opened")

	// ── 4. Chain (loads the tip or inserts genesis) ─────────────────
	ch, err := chain.Init(chain.NewStore(db))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize chain")
	}
	logger.Info().
		Int64("id", ch.Latest().ID).
		Str("tip", short(ch.Latest().Hash)).
		Msg("Chain ready")

	// ── 5. Start transport ──────────────────────────────────────────
	p2pNode := p2p.New(p2p.Config{
		ListenAddr: cfg.P2P.ListenAddr,
		Port:       cfg.P2P.Port,
		Seeds:      cfg.P2P.Seeds,
		MaxPeers:   cfg.P2P.MaxPeers,
		NoDiscover: cfg.P2P.NoDiscover,
		DHTServer:  cfg.P2P.DHTServer,
		DataDir:    cfg.DataDir,
	})
	if err := p2pNode.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start P2P")
	}
	defer p2pNode.Stop()
	logger.Info().
		Str("id", p2pNode.SelfID()).
		Strs("addrs", p2pNode.Addrs()).
		Msg("P2P node started")

	// ── 6. Controller + REPL ────────────────────────────────────────
	ctrl := node.New(node.Config{
		Difficulty: cfg.Difficulty,
		Workers:    cfg.Mining.Workers,
	}, ch, p2pNode, os.Stdout)

	printBanner()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	if err := ctrl.Run(ctx, readLines(ctx)); err != nil {
		logger.Fatal().Err(err).Msg("Controller failed")
	}
	logger.Info().Msg("Goodbye!")
}

// readLines pumps operator input into a channel, prompting when stdin is a
// terminal. The channel closes on EOF.
func readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for {
			if interactive {
				fmt.Print("> ")
			}
			if !scanner.Scan() {
				return
			}
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func printBanner() {
	fmt.Println("---------------------------")
	fmt.Println("Commands available:")
	fmt.Println("block mine BLOCK_DATA")
	fmt.Println("block get BLOCK_HASH")
	fmt.Println("block latest")
	fmt.Println("block validate BLOCK_HASH")
	fmt.Println("chain validate")
	fmt.Println("ls p")
	fmt.Println("send message TEXT")
	fmt.Println("exit")
	fmt.Println("---------------------------")
}

func short(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}
