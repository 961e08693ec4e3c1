package block

import (
	"bytes"
	"errors"
	"io"

	"github.com/cleancoindev2/csnode/pkg/crypto"
	"github.com/cleancoindev2/csnode/pkg/identity"
	"github.com/cleancoindev2/csnode/pkg/wire/encoding"
)

// ErrNonContiguous is returned by a chain appender when a block's
// sequence does not immediately follow the current tip (spec.md §6).
var ErrNonContiguous = errors.New("block: sequence is not contiguous with chain tip")

// ErrInvalidSignatures is returned when a block does not carry enough
// distinct valid confidant signatures (spec.md §3, P2).
var ErrInvalidSignatures = errors.New("block: insufficient valid confidant signatures")

// ErrDuplicateSequence is returned when a block at an already-occupied
// sequence is appended.
var ErrDuplicateSequence = errors.New("block: sequence already present")

// Signature pairs a confidant's public key with its signature over the
// block digest, per the block binary format in spec.md §6.
type Signature struct {
	Signer identity.ID
	Sig    []byte
}

// Block is the unit the network agrees on each round (spec.md §3).
type Block struct {
	Sequence       uint64
	PrevHash       []byte
	WriterKey      identity.ID
	RoundTimestamp uint64
	Transactions   []Transaction
	Signatures     []Signature
}

// digestBytes is the canonical encoding the block hash and confidant
// signatures are computed over — every field except the signature list.
func (b Block) digestBytes() []byte {
	buf := new(bytes.Buffer)
	_ = encoding.WriteUint64LE(buf, b.Sequence)
	_ = encoding.WriteHash(buf, pad32(b.PrevHash))
	_ = encoding.WriteHash(buf, b.WriterKey.Bytes())
	_ = encoding.WriteUint64LE(buf, b.RoundTimestamp)
	_ = encoding.WriteUint32LE(buf, uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		_ = tx.Encode(buf)
	}
	return buf.Bytes()
}

func pad32(h []byte) []byte {
	if len(h) == encoding.HashSize {
		return h
	}
	out := make([]byte, encoding.HashSize)
	copy(out, h)
	return out
}

// Hash returns the block's digest, the payload confidants sign.
func (b Block) Hash() []byte {
	return crypto.HashBytes(b.digestBytes())
}

// Encode writes the full persisted block format from spec.md §6.
func (b Block) Encode(w io.Writer) error {
	if _, err := w.Write(b.digestBytes()); err != nil {
		return err
	}
	if err := encoding.WriteUint8(w, uint8(len(b.Signatures))); err != nil {
		return err
	}
	for _, sig := range b.Signatures {
		if err := encoding.WriteHash(w, sig.Signer.Bytes()); err != nil {
			return err
		}
		if err := encoding.WriteSignature(w, sig.Sig); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads a block back from its persisted format. Since Encode
// writes the digest fields inline rather than length-prefixed, Decode
// must know how many transactions to expect ahead of time: it reads the
// tx_count field directly, matching the wire layout.
func (b *Block) Decode(r io.Reader) error {
	var err error
	if b.Sequence, err = encoding.ReadUint64LE(r); err != nil {
		return err
	}
	if b.PrevHash, err = encoding.ReadHash(r); err != nil {
		return err
	}
	writerBytes, err := encoding.ReadHash(r)
	if err != nil {
		return err
	}
	if b.WriterKey, err = identity.NewID(writerBytes); err != nil {
		return encoding.ErrMalformed
	}
	if b.RoundTimestamp, err = encoding.ReadUint64LE(r); err != nil {
		return err
	}
	txCount, err := encoding.ReadUint32LE(r)
	if err != nil {
		return err
	}
	b.Transactions = make([]Transaction, txCount)
	for i := range b.Transactions {
		if err := b.Transactions[i].Decode(r); err != nil {
			return err
		}
	}
	sigCount, err := encoding.ReadUint8(r)
	if err != nil {
		return err
	}
	b.Signatures = make([]Signature, sigCount)
	for i := range b.Signatures {
		signerBytes, err := encoding.ReadHash(r)
		if err != nil {
			return err
		}
		if b.Signatures[i].Signer, err = identity.NewID(signerBytes); err != nil {
			return encoding.ErrMalformed
		}
		if b.Signatures[i].Sig, err = encoding.ReadSignature(r); err != nil {
			return err
		}
	}
	return nil
}

// DistinctValidSignatureCount counts signatures from distinct confidants
// in confidants that verify over the block's digest (P2).
func (b Block) DistinctValidSignatureCount(confidants []identity.ID) int {
	allowed := make(map[identity.ID]bool, len(confidants))
	for _, c := range confidants {
		allowed[c] = true
	}

	seen := make(map[identity.ID]bool, len(b.Signatures))
	digest := b.Hash()
	count := 0
	for _, sig := range b.Signatures {
		if !allowed[sig.Signer] || seen[sig.Signer] {
			continue
		}
		if !crypto.Verify(sig.Signer.Bytes(), digest, sig.Sig) {
			continue
		}
		seen[sig.Signer] = true
		count++
	}
	return count
}

// QuorumSize returns ⌊N/2⌋+1 for a confidant set of size n, the
// threshold used throughout spec.md (P2, stage quorum, writer election).
func QuorumSize(n int) int {
	return n/2 + 1
}
