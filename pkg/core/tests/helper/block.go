// Package helper builds block/transaction/round-table fixtures for
// tests across pkg/core and pkg/consensus, the way the teacher's own
// pkg/core/tests/helper/block.go builds RandomBlock/RandomHeader for
// its own consensus tests.
package helper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cleancoindev2/csnode/pkg/core/block"
	"github.com/cleancoindev2/csnode/pkg/core/wallet"
	"github.com/cleancoindev2/csnode/pkg/crypto"
	"github.com/cleancoindev2/csnode/pkg/identity"
)

// RandomIdentity returns a fresh ed25519-backed identity for testing,
// along with the key pair needed to sign on its behalf.
func RandomIdentity(t *testing.T) (identity.ID, *crypto.KeyPair) {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	id, err := identity.NewID(kp.Public)
	require.NoError(t, err)
	return id, kp
}

// RandomConfidants returns n freshly generated confidant identities and
// their key pairs, in the stable order a round table would list them.
func RandomConfidants(t *testing.T, n int) ([]identity.ID, []*crypto.KeyPair) {
	t.Helper()
	ids := make([]identity.ID, n)
	keys := make([]*crypto.KeyPair, n)
	for i := 0; i < n; i++ {
		ids[i], keys[i] = RandomIdentity(t)
	}
	return ids, keys
}

// SignedTransaction returns a transfer transaction from source to
// target, signed over its own SigningBytes.
func SignedTransaction(source *crypto.KeyPair, target identity.ID, amount wallet.Amount) block.Transaction {
	tx := block.Transaction{
		Source: source.Public,
		Target: target,
		Amount: amount,
		MaxFee: wallet.Amount{Integral: 1},
		Kind:   block.KindTransfer,
	}
	tx.Signature = source.Sign(tx.SigningBytes())
	return tx
}

// RandomPacket bags n signed transfer transactions from freshly
// generated sources into a packet, for Stage-1 production fixtures.
func RandomPacket(t *testing.T, n int) block.Packet {
	t.Helper()
	target, _ := RandomIdentity(t)
	txs := make([]block.Transaction, n)
	for i := range txs {
		_, source := RandomIdentity(t)
		txs[i] = SignedTransaction(source, target, wallet.Amount{Integral: int64(i + 1)})
	}
	return block.Packet{Transactions: txs}
}

// GenesisBlock returns the chain's first block: sequence 0, no previous
// hash, no signatures.
func GenesisBlock() block.Block {
	return block.Block{Sequence: 0, RoundTimestamp: uint64(time.Now().Unix())}
}

// ChildBlock returns a block extending parent by one sequence with the
// correct PrevHash linkage, unsigned.
func ChildBlock(parent block.Block) block.Block {
	return block.Block{
		Sequence:       parent.Sequence + 1,
		PrevHash:       parent.Hash(),
		RoundTimestamp: parent.RoundTimestamp + 1,
	}
}

// SignedChildBlock is ChildBlock with confidant signatures attached,
// for tests that exercise quorum-checking appenders.
func SignedChildBlock(parent block.Block, writer identity.ID, confidants []identity.ID, keys []*crypto.KeyPair) block.Block {
	b := ChildBlock(parent)
	b.WriterKey = writer
	hash := b.Hash()
	sigs := make([]block.Signature, len(confidants))
	for i, c := range confidants {
		sigs[i] = block.Signature{Signer: c, Sig: keys[i].Sign(hash)}
	}
	b.Signatures = sigs
	return b
}

// RoundTable returns a round table for round naming confidants, with a
// deterministic timestamp so tests don't depend on wall-clock time.
func RoundTable(round uint64, confidants []identity.ID) block.RoundTable {
	return block.RoundTable{
		Round:             round,
		StartingTimestamp: round,
		Confidants:        confidants,
	}
}
