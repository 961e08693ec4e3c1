// Package identity defines the node identity type used throughout csnode:
// a 32-byte public key, its ordering, and its base58 display address.
// Adapted from the teacher's wallet/publickey.go (PubKey.PublicAddress,
// KeyToAddress), swapping the DUSK address prefix for this network's own.
package identity

import (
	"bytes"
	"errors"
	"math/big"
	"sort"

	"github.com/decred/base58"

	"github.com/cleancoindev2/csnode/pkg/crypto"
)

// Size is the width in bytes of a node identity (spec.md §3).
const Size = 32

// AddressPrefix is the big-endian integer prepended before base58 encoding
// so that csnode addresses are visually distinct from other networks'.
// Chosen arbitrarily for this node, the way the teacher's PubKeyPrefix
// was chosen to read "DUSKpub".
var AddressPrefix = big.NewInt(0x435350554200) // reads "CSPUB" in the encoded prefix bytes

// ErrInvalidSize is returned when a key buffer is not exactly Size bytes.
var ErrInvalidSize = errors.New("identity: public key must be 32 bytes")

// ID is a node's public key. Equality and ordering are by byte sequence,
// per spec.md §3.
type ID [Size]byte

// NewID copies b into an ID, failing if b isn't exactly Size bytes.
func NewID(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return id, ErrInvalidSize
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns the identity as a byte slice.
func (id ID) Bytes() []byte { return id[:] }

// Less implements the byte-sequence ordering spec.md §3 requires for
// trusted-index assignment and deterministic tie-breaks.
func (id ID) Less(other ID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// Equal reports byte-sequence equality.
func (id ID) Equal(other ID) bool {
	return id == other
}

// String renders the identity as its base58 display address.
func (id ID) String() string {
	addr, err := Address(id[:])
	if err != nil {
		return "invalid-identity"
	}
	return addr
}

// Address returns the base58 display form of a raw 32-byte public key,
// adapted from the teacher's KeyToAddress.
func Address(pub []byte) (string, error) {
	if len(pub) != Size {
		return "", ErrInvalidSize
	}

	buf := new(bytes.Buffer)
	buf.Write(AddressPrefix.Bytes())
	buf.Write(make([]byte, 2)) // padding, matching the teacher's 2-byte pad

	buf.Write(pub)
	buf.Write(checksum(pub))

	return base58.Encode(buf.Bytes()), nil
}

// checksum is the leading 4 bytes of the hash of pub, the conventional
// base58-check trailer.
func checksum(pub []byte) []byte {
	sum := crypto.HashBytes(pub)
	return sum[:4]
}

// SortIDs returns a new slice of ids sorted by the ordering Less defines.
// Used to derive a deterministic trusted-index assignment from an
// unordered confidant set (spec.md §3, "trusted index... position in the
// round table's confidant list").
func SortIDs(ids []ID) []ID {
	out := make([]ID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
