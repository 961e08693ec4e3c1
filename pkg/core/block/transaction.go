// Package block holds the ledger's persisted data model: transactions,
// transaction packets, blocks, round tables, and their stable binary
// encodings (spec.md §3, §6). Grounded on the teacher's
// pkg/core/block/certificate.go Encode/Decode/EncodeHashable idiom.
package block

import (
	"bytes"
	"io"

	"github.com/cleancoindev2/csnode/pkg/core/wallet"
	"github.com/cleancoindev2/csnode/pkg/crypto"
	"github.com/cleancoindev2/csnode/pkg/identity"
	"github.com/cleancoindev2/csnode/pkg/wire/encoding"
)

// Kind distinguishes a transfer from the smart-contract lifecycle
// transactions the Transaction Validator treats specially (§4.3 items
// 3, 6, 7).
type Kind uint8

const (
	KindTransfer Kind = iota
	KindSmartDeploy
	KindSmartNewState
)

// Transaction is the unit the Transaction Validator (C3) checks and the
// unit a Transaction Packet bags together. Field set grounded on
// _examples/original_source/api/src/APIHandler.cpp and
// api/include/tokens.hpp (SPEC_FULL.md §D.3).
type Transaction struct {
	// Source is either a 32-byte public key or a shorter wallet-id,
	// resolved through wallet.Snapshot.ResolveSource (§4.3 item 1).
	Source []byte
	Target identity.ID

	Amount     wallet.Amount
	MaxFee     wallet.Amount
	CountedFee wallet.Amount

	InnerID uint64
	Kind    Kind

	// Payload carries the deploy bytecode (KindSmartDeploy) or the
	// new-state mutation (KindSmartNewState).
	Payload []byte

	// RefSequence is, for KindSmartNewState, the chain sequence of the
	// contract's init transaction (§4.3 item 6).
	RefSequence uint64
	// NewStateFee is the new_state_fee_field referenced in the same
	// check.
	NewStateFee wallet.Amount

	Signature []byte
}

// SigningBytes returns the canonical encoding over which Signature is
// produced and verified — every field except the signature itself.
func (t Transaction) SigningBytes() []byte {
	buf := new(bytes.Buffer)
	_ = t.encode(buf, false)
	return buf.Bytes()
}

// Hash returns this transaction's digest, used to detect duplicates
// within a batch (§4.3 item 4, and S4/L1).
func (t Transaction) Hash() []byte {
	return crypto.HashBytes(t.SigningBytes())
}

// Encode writes the full transaction, including its signature, to w.
func (t Transaction) Encode(w io.Writer) error {
	return t.encode(w, true)
}

func (t Transaction) encode(w io.Writer, withSig bool) error {
	if err := encoding.WriteVarBytes(w, t.Source); err != nil {
		return err
	}
	if err := encoding.WriteHash(w, t.Target.Bytes()); err != nil {
		return err
	}
	if err := writeAmount(w, t.Amount); err != nil {
		return err
	}
	if err := writeAmount(w, t.MaxFee); err != nil {
		return err
	}
	if err := writeAmount(w, t.CountedFee); err != nil {
		return err
	}
	if err := encoding.WriteUint64LE(w, t.InnerID); err != nil {
		return err
	}
	if err := encoding.WriteUint8(w, uint8(t.Kind)); err != nil {
		return err
	}
	if err := encoding.WriteVarBytes(w, t.Payload); err != nil {
		return err
	}
	if err := encoding.WriteUint64LE(w, t.RefSequence); err != nil {
		return err
	}
	if err := writeAmount(w, t.NewStateFee); err != nil {
		return err
	}
	if withSig {
		if err := encoding.WriteVarBytes(w, t.Signature); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads a transaction (with signature) from r.
func (t *Transaction) Decode(r io.Reader) error {
	var err error
	if t.Source, err = encoding.ReadVarBytes(r, identity.Size); err != nil {
		return err
	}
	targetBytes, err := encoding.ReadHash(r)
	if err != nil {
		return err
	}
	if t.Target, err = identity.NewID(targetBytes); err != nil {
		return encoding.ErrMalformed
	}
	if t.Amount, err = readAmount(r); err != nil {
		return err
	}
	if t.MaxFee, err = readAmount(r); err != nil {
		return err
	}
	if t.CountedFee, err = readAmount(r); err != nil {
		return err
	}
	if t.InnerID, err = encoding.ReadUint64LE(r); err != nil {
		return err
	}
	kind, err := encoding.ReadUint8(r)
	if err != nil {
		return err
	}
	t.Kind = Kind(kind)
	if t.Payload, err = encoding.ReadVarBytes(r, 1<<16); err != nil {
		return err
	}
	if t.RefSequence, err = encoding.ReadUint64LE(r); err != nil {
		return err
	}
	if t.NewStateFee, err = readAmount(r); err != nil {
		return err
	}
	if t.Signature, err = encoding.ReadVarBytes(r, 128); err != nil {
		return err
	}
	return nil
}

func writeAmount(w io.Writer, a wallet.Amount) error {
	if err := encoding.WriteUint64LE(w, uint64(a.Integral)); err != nil {
		return err
	}
	return encoding.WriteUint64LE(w, uint64(a.Fraction))
}

func readAmount(r io.Reader) (wallet.Amount, error) {
	integral, err := encoding.ReadUint64LE(r)
	if err != nil {
		return wallet.Amount{}, err
	}
	fraction, err := encoding.ReadUint64LE(r)
	if err != nil {
		return wallet.Amount{}, err
	}
	return wallet.Amount{Integral: int64(integral), Fraction: int64(fraction)}, nil
}

// DeriveContractAddress computes the deterministic address a deploy
// transaction's target must equal, per spec.md §4.3 item 7.
func DeriveContractAddress(deployer identity.ID, innerID uint64, payload []byte) identity.ID {
	buf := new(bytes.Buffer)
	buf.Write(deployer.Bytes())
	_ = encoding.WriteUint64LE(buf, innerID)
	buf.Write(payload)

	digest := crypto.HashBytes(buf.Bytes())
	var id identity.ID
	copy(id[:], digest)
	return id
}

// Packet is an unordered bag of transactions sharing a single hash over
// their canonical encoding (spec.md §3).
type Packet struct {
	Transactions []Transaction
}

// Hash returns the packet's identifying digest. An empty packet hashes
// to crypto.HashBytes of nothing, matching the general hash(bytes)
// capability — the round-specific "H(empty) == H(round_number)" rule
// for Stage-1 mask hashing lives in pkg/consensus/round, not here, since
// it is a property of the mask, not of the packet.
func (p Packet) Hash() []byte {
	buf := new(bytes.Buffer)
	for _, tx := range p.Transactions {
		buf.Write(tx.Hash())
	}
	return crypto.HashBytes(buf.Bytes())
}
