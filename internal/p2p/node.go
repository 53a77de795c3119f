// Package p2p binds the node controller to the gossip overlay: a libp2p
// host with gossipsub on the single "blockchain" topic, plus mDNS and DHT
// peer discovery.
package p2p

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	plog "github.com/pebblenet/pebble-chain/internal/log"
)

const (
	// Topic is the single gossip topic every node subscribes to. All five
	// wire shapes flow on it.
	Topic = "blockchain"

	// rendezvous is the mDNS/DHT discovery namespace.
	rendezvous = "pebble-chain"

	// dhtDiscoveryInterval is how often DHT FindPeers runs.
	dhtDiscoveryInterval = 30 * time.Second

	// peerConnectTimeout bounds each dial to a discovered peer.
	peerConnectTimeout = 5 * time.Second

	// outboundBuffer bounds the controller→transport queue. A full queue
	// drops the message with a log line rather than stalling the controller.
	outboundBuffer = 64
)

// EventKind discriminates inbound transport events.
type EventKind int

const (
	// EventMessage is a gossip payload from another node.
	EventMessage EventKind = iota
	// EventPeerJoined reports a peer subscribing to the topic.
	EventPeerJoined
	// EventPeerLeft reports a peer unsubscribing or disconnecting.
	EventPeerLeft
)

// Event is an inbound transport event delivered to the controller.
type Event struct {
	Kind EventKind
	From string // peer identifier of the source
	Data []byte // gossip payload (EventMessage only)
}

// Config holds P2P node configuration.
type Config struct {
	ListenAddr string
	Port       int
	Seeds      []string
	MaxPeers   int
	NoDiscover bool
	DHTServer  bool   // Run DHT in server mode (for seed nodes)
	DataDir    string // Directory for the persisted node identity
}

// Node is the gossip transport adapter built on libp2p.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	config Config
	ctx    context.Context
	cancel context.CancelFunc

	events   chan Event
	outbound chan []byte
	ready    chan struct{}

	mu         sync.RWMutex
	peers      map[peer.ID]time.Time // connected peers → connect time
	discovered map[peer.ID]time.Time // peers seen via mDNS/DHT

	dht *dht.IpfsDHT // nil if NoDiscover
}

// New creates a new P2P node with the given config.
func New(cfg Config) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		config:     cfg,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan Event, 256),
		outbound:   make(chan []byte, outboundBuffer),
		ready:      make(chan struct{}),
		peers:      make(map[peer.ID]time.Time),
		discovered: make(map[peer.ID]time.Time),
	}
}

// messageID content-addresses gossip messages: the payload bytes are hashed
// and rendered as a decimal string. The scheme must stay stable, since peers
// deduplicate on it.
func messageID(m *pb.Message) string {
	h := fnv.New64a()
	h.Write(m.Data)
	return strconv.FormatUint(h.Sum64(), 10)
}

// Start brings up the host, pubsub, and discovery, then closes the ready
// channel. The controller must not accept operator commands before Ready()
// fires.
func (n *Node) Start() error {
	addr := fmt.Sprintf("/ip4/%s/tcp/%d", n.config.ListenAddr, n.config.Port)

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(addr),
	}

	// Load or generate persistent identity so the peer ID survives restarts.
	if n.config.DataDir != "" {
		privKey, err := loadOrCreateIdentity(n.config.DataDir)
		if err != nil {
			return fmt.Errorf("load p2p identity: %w", err)
		}
		opts = append(opts, libp2p.Identity(privKey))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	n.host = h

	// Track connection lifecycle for the peer set.
	h.Network().Notify(&connNotifier{node: n})

	// Init DHT before gossipsub so it can serve as a peer source.
	if !n.config.NoDiscover {
		if err := n.initDHT(); err != nil {
			h.Close()
			return fmt.Errorf("init dht: %w", err)
		}
	}

	ps, err := pubsub.NewGossipSub(n.ctx, h,
		pubsub.WithMessageIdFn(messageID),
	)
	if err != nil {
		n.closeDHT()
		h.Close()
		return fmt.Errorf("create pubsub: %w", err)
	}
	n.pubsub = ps

	n.topic, err = ps.Join(Topic)
	if err != nil {
		n.closeDHT()
		h.Close()
		return fmt.Errorf("join topic: %w", err)
	}
	n.sub, err = n.topic.Subscribe()
	if err != nil {
		n.closeDHT()
		h.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	go n.readLoop()
	go n.topicEventLoop()
	go n.publishLoop()

	// Connect to seed peers (first attempt blocking, retries in background).
	if len(n.config.Seeds) > 0 {
		l := plog.WithComponent("p2p")
		l.Info().Int("seeds", len(n.config.Seeds)).Msg("Connecting to seeds...")
	}
	n.connectSeedsOnce()
	go n.connectSeedsLoop()

	if !n.config.NoDiscover {
		n.startMDNS()
		go n.runDHTDiscovery()
	}

	close(n.ready)
	return nil
}

// Stop shuts down the P2P node.
func (n *Node) Stop() error {
	n.cancel()
	if n.sub != nil {
		n.sub.Cancel()
	}
	if n.topic != nil {
		n.topic.Close()
	}
	n.closeDHT()
	if n.host != nil {
		return n.host.Close()
	}
	return nil
}

// Ready is closed once the transport is initialized and listening.
func (n *Node) Ready() <-chan struct{} {
	return n.ready
}

// Events delivers inbound transport events to the controller.
func (n *Node) Events() <-chan Event {
	return n.events
}

// Send enqueues a payload for publication on the gossip topic. It never
// blocks; when the outbound queue is full the payload is dropped with a log
// line.
func (n *Node) Send(data []byte) {
	select {
	case n.outbound <- data:
	default:
		l := plog.WithComponent("p2p")
		l.Warn().Int("bytes", len(data)).Msg("Outbound queue full, dropping message")
	}
}

// SelfID returns this node's peer identifier.
func (n *Node) SelfID() string {
	if n.host == nil {
		return ""
	}
	return n.host.ID().String()
}

// Addrs returns the full multiaddrs of this node.
func (n *Node) Addrs() []string {
	if n.host == nil {
		return nil
	}
	var addrs []string
	for _, a := range n.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return addrs
}

// DiscoveredPeers returns peers seen via mDNS or the DHT.
func (n *Node) DiscoveredPeers() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.discovered))
	for id := range n.discovered {
		out = append(out, id.String())
	}
	return out
}

// SubscribedPeers returns peers currently subscribed to the gossip topic.
func (n *Node) SubscribedPeers() []string {
	if n.topic == nil {
		return nil
	}
	ids := n.topic.ListPeers()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

func (n *Node) addPeer(id peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.peers[id]; !exists {
		n.peers[id] = time.Now()
	}
}

func (n *Node) removePeer(id peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, id)
}

func (n *Node) markDiscovered(id peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.discovered[id] = time.Now()
}

// deliver forwards an event to the controller, giving up on shutdown.
func (n *Node) deliver(ev Event) {
	select {
	case n.events <- ev:
	case <-n.ctx.Done():
	}
}

// readLoop pumps gossip messages into the inbound event channel, skipping
// anything this node published itself.
func (n *Node) readLoop() {
	for {
		msg, err := n.sub.Next(n.ctx)
		if err != nil {
			return // Context cancelled.
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		n.deliver(Event{Kind: EventMessage, From: msg.GetFrom().String(), Data: msg.Data})
	}
}

// topicEventLoop surfaces topic subscribe/unsubscribe notifications.
func (n *Node) topicEventLoop() {
	handler, err := n.topic.EventHandler()
	if err != nil {
		l := plog.WithComponent("p2p")
		l.Warn().Err(err).Msg("Topic event handler unavailable")
		return
	}
	defer handler.Cancel()

	for {
		ev, err := handler.NextPeerEvent(n.ctx)
		if err != nil {
			return // Context cancelled.
		}
		switch ev.Type {
		case pubsub.PeerJoin:
			n.deliver(Event{Kind: EventPeerJoined, From: ev.Peer.String()})
		case pubsub.PeerLeave:
			n.deliver(Event{Kind: EventPeerLeft, From: ev.Peer.String()})
		}
	}
}

// publishLoop drains the outbound queue onto the gossip topic.
func (n *Node) publishLoop() {
	logger := plog.WithComponent("p2p")
	for {
		select {
		case <-n.ctx.Done():
			return
		case data := <-n.outbound:
			if err := n.topic.Publish(n.ctx, data); err != nil {
				logger.Warn().Err(err).Msg("Publish failed")
			}
		}
	}
}

func (n *Node) startMDNS() {
	svc := mdns.NewMdnsService(n.host, rendezvous, &discoveryNotifee{node: n})
	// mDNS failure is non-fatal.
	_ = svc.Start()
}

// connectSeedsOnce tries to connect to each seed peer once (blocking).
func (n *Node) connectSeedsOnce() {
	logger := plog.WithComponent("p2p")
	for _, addr := range n.config.Seeds {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			logger.Warn().Str("addr", addr).Err(err).Msg("Bad seed address")
			continue
		}
		ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
		err = n.host.Connect(ctx, *info)
		cancel()
		if err != nil {
			logger.Warn().Str("peer", shortID(info.ID)).Err(err).Msg("Seed connect failed")
		} else {
			n.addPeer(info.ID)
			logger.Info().Str("peer", shortID(info.ID)).Msg("Seed connected")
		}
	}
}

// connectSeedsLoop retries seed connections every 10s while peerless.
func (n *Node) connectSeedsLoop() {
	if len(n.config.Seeds) == 0 {
		return
	}
	logger := plog.WithComponent("p2p")

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(10 * time.Second):
			if n.PeerCount() == 0 {
				logger.Info().Int("seeds", len(n.config.Seeds)).Msg("No peers, retrying seeds...")
				n.connectSeedsOnce()
			}
		}
	}
}

func shortID(id peer.ID) string {
	s := id.String()
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
