// Package crypto backs the §6 capability contract — hash, sign, verify —
// that the rest of csnode treats as an injected collaborator rather than
// specifying the primitive itself (spec.md §1 Non-goals). Grounded on the
// teacher's wallet/publickey.go, which wraps golang.org/x/crypto/ed25519
// the same way.
package crypto

import (
	"crypto/rand"
	"errors"
	"os"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/ed25519"
)

// ErrInvalidKeySize is returned when a key buffer isn't the expected width.
var ErrInvalidKeySize = errors.New("crypto: invalid key size")

// Hash returns the collision-resistant 256-bit digest of b.
func Hash(b []byte) [32]byte {
	return blake2b.Sum256(b)
}

// HashBytes is a convenience wrapper returning Hash as a slice, for callers
// that need to pass a digest through an interface expecting []byte.
func HashBytes(b []byte) []byte {
	h := Hash(b)
	return h[:]
}

// spoiledHashDomain domain-separates the hash-reply exchange (SPEC_FULL.md
// §E.2) from ordinary block/mask hashing, so a block digest can never be
// mistaken for a hash-reply digest or vice versa.
const spoiledHashDomain = "csnode-hashreply-v1"

// SpoiledHash mixes a node's last-block hash with the sender's key under a
// domain-separation tag, pinning the Open Question in spec.md §9 about the
// hash-reply exchange (SPEC_FULL.md §E.2).
func SpoiledHash(lastBlockHash, senderKey []byte) []byte {
	buf := make([]byte, 0, len(lastBlockHash)+len(senderKey)+len(spoiledHashDomain))
	buf = append(buf, lastBlockHash...)
	buf = append(buf, senderKey...)
	buf = append(buf, []byte(spoiledHashDomain)...)
	return HashBytes(buf)
}

// KeyPair is a node's ed25519 signing identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a new random identity, for tests and bootstrap.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// Sign produces a 64-byte signature over msg.
func (k *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}

// LoadOrCreateKeyPair reads an ed25519 private key (the raw 64-byte
// seed||public ed25519.PrivateKey encoding) from path, generating and
// persisting a fresh one if path doesn't exist yet — a node's identity
// survives restarts the way the teacher's own wallet key file does.
func LoadOrCreateKeyPair(path string) (*KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		if len(raw) != ed25519.PrivateKeySize {
			return nil, ErrInvalidKeySize
		}
		priv := ed25519.PrivateKey(raw)
		return &KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, kp.Private, 0o600); err != nil {
		return nil, err
	}
	return kp, nil
}

// Verify checks a signature produced by Sign, or by any other holder of
// the 32-byte public key pub.
func Verify(pub, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}
