package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/creachadair/atomicfile"

	"github.com/wot-technology/wellspring/crypto"
	"github.com/wot-technology/wellspring/crypto/ed25519"
)

// NodeKey is the persistent signing identity of a node: the keypair plus
// the digest of the identity record it signs as.
type NodeKey struct {
	ID      crypto.Digest   `json:"id"`
	PrivKey ed25519.PrivKey `json:"priv_key"`
}

// PubKey returns the node's public key.
func (nk NodeKey) PubKey() crypto.PubKey {
	return nk.PrivKey.PubKey()
}

// GenNodeKey generates a fresh keypair and the matching self-signed
// identity record.
func GenNodeKey(name string, createdAt int64) (NodeKey, Record, error) {
	priv := ed25519.GenPrivKey()
	identity, err := NewIdentityRecord(name, priv, createdAt)
	if err != nil {
		return NodeKey{}, Record{}, err
	}
	return NodeKey{ID: identity.ID, PrivKey: priv}, identity, nil
}

// LoadNodeKey reads a node key from its JSON file.
func LoadNodeKey(path string) (NodeKey, error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return NodeKey{}, err
	}
	var nk NodeKey
	if err := json.Unmarshal(bz, &nk); err != nil {
		return NodeKey{}, fmt.Errorf("malformed node key file %s: %w", path, err)
	}
	if len(nk.PrivKey) != ed25519.PrivateKeySize {
		return NodeKey{}, fmt.Errorf("node key file %s: bad private key length", path)
	}
	return nk, nil
}

// SaveAs writes the node key atomically with owner-only permissions.
func (nk NodeKey) SaveAs(path string) error {
	bz, err := json.MarshalIndent(nk, "", "  ")
	if err != nil {
		return err
	}
	_, err = atomicfile.WriteAll(path, bytes.NewReader(bz), 0600)
	return err
}
