package p2p

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
)

// identityFile holds the node's hex-encoded Ed25519 key inside the data
// directory. A stable key keeps the peer ID stable across restarts, which
// the directed wire shapes (receiver fields) depend on.
const identityFile = "identity.key"

// loadOrCreateIdentity returns the node's persistent identity key, creating
// and saving a fresh one on first start.
func loadOrCreateIdentity(dataDir string) (libp2pcrypto.PrivKey, error) {
	keyPath := filepath.Join(dataDir, identityFile)

	if data, err := os.ReadFile(keyPath); err == nil {
		priv, err := parseIdentity(string(data))
		if err != nil {
			return nil, fmt.Errorf("identity file %s: %w", keyPath, err)
		}
		return priv, nil
	}

	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	raw, err := priv.Raw()
	if err != nil {
		return nil, fmt.Errorf("marshal identity: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(raw)), 0600); err != nil {
		return nil, fmt.Errorf("save identity: %w", err)
	}
	return priv, nil
}

// parseIdentity decodes a persisted key, tolerating surrounding whitespace
// from hand-edited files. The key must be a full Ed25519 private key.
func parseIdentity(s string) (libp2pcrypto.PrivKey, error) {
	keyBytes, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key is %d bytes, want %d", len(keyBytes), ed25519.PrivateKeySize)
	}
	return libp2pcrypto.UnmarshalEd25519PrivateKey(keyBytes)
}
