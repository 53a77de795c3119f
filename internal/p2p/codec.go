package p2p

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/pebblenet/pebble-chain/pkg/block"
)

// The five wire shapes. All of them travel on the single gossip topic;
// strict field checking keeps the shapes mutually exclusive, so a receiver
// decodes by trying each one in protocol order and acting on the first that
// fits. Directed shapes carry the intended recipient's peer identifier in
// Receiver and are ignored by everyone else.

// LatestBlockRequest asks the named peer to respond with its latest block.
// Random is carried for wire compatibility; no node branches on it.
type LatestBlockRequest struct {
	Receiver string `json:"receiver"`
	Random   bool   `json:"random"`
}

// ReceivedLatestBlock carries a peer's latest block, as a response to
// LatestBlockRequest or unsolicited.
type ReceivedLatestBlock struct {
	Receiver string      `json:"receiver"`
	Block    block.Block `json:"block"`
}

// ChainRequest asks the named peer to respond with its full ordered chain.
type ChainRequest struct {
	Receiver string `json:"receiver"`
}

// ReceivedChain carries a peer's full chain, ordered by id.
type ReceivedChain struct {
	Receiver string        `json:"receiver"`
	Chain    []block.Block `json:"chain"`
}

// ReceivedNewBlock announces a freshly mined block to everyone.
type ReceivedNewBlock struct {
	Block block.Block `json:"block"`
}

// Message is implemented by the five wire shapes.
type Message interface {
	isMessage()
}

func (*LatestBlockRequest) isMessage()  {}
func (*ReceivedLatestBlock) isMessage() {}
func (*ChainRequest) isMessage()        {}
func (*ReceivedChain) isMessage()       {}
func (*ReceivedNewBlock) isMessage()    {}

// Encode serializes a wire message for publishing.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a gossip payload into one of the five wire shapes, trying
// them in protocol order. Unknown fields, missing fields, and trailing data
// all disqualify a shape. Returns false when nothing fits; such payloads are
// silently dropped by the caller.
func Decode(data []byte) (Message, bool) {
	{
		var w struct {
			Receiver *string `json:"receiver"`
			Random   *bool   `json:"random"`
		}
		if strictUnmarshal(data, &w) == nil && w.Receiver != nil && w.Random != nil {
			return &LatestBlockRequest{Receiver: *w.Receiver, Random: *w.Random}, true
		}
	}
	{
		var w struct {
			Receiver *string      `json:"receiver"`
			Block    *block.Block `json:"block"`
		}
		if strictUnmarshal(data, &w) == nil && w.Receiver != nil && w.Block != nil {
			return &ReceivedLatestBlock{Receiver: *w.Receiver, Block: *w.Block}, true
		}
	}
	{
		var w struct {
			Receiver *string `json:"receiver"`
		}
		if strictUnmarshal(data, &w) == nil && w.Receiver != nil {
			return &ChainRequest{Receiver: *w.Receiver}, true
		}
	}
	{
		var w struct {
			Receiver *string        `json:"receiver"`
			Chain    *[]block.Block `json:"chain"`
		}
		if strictUnmarshal(data, &w) == nil && w.Receiver != nil && w.Chain != nil {
			return &ReceivedChain{Receiver: *w.Receiver, Chain: *w.Chain}, true
		}
	}
	{
		var w struct {
			Block *block.Block `json:"block"`
		}
		if strictUnmarshal(data, &w) == nil && w.Block != nil {
			return &ReceivedNewBlock{Block: *w.Block}, true
		}
	}
	return nil, false
}

// strictUnmarshal decodes JSON rejecting unknown fields and trailing data.
func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after message")
	}
	return nil
}
