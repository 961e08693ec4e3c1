package txvalidator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleancoindev2/csnode/pkg/core/block"
	"github.com/cleancoindev2/csnode/pkg/core/txvalidator"
	"github.com/cleancoindev2/csnode/pkg/core/wallet"
	"github.com/cleancoindev2/csnode/pkg/crypto"
	"github.com/cleancoindev2/csnode/pkg/identity"
)

// fakeSnapshot is a minimal wallet.Snapshot for tests; it never treats
// any source as a wallet-id or a contract unless configured to.
type fakeSnapshot struct {
	contracts map[identity.ID]wallet.ContractInfo
	disabled  map[uint64]bool
}

func newFakeSnapshot() *fakeSnapshot {
	return &fakeSnapshot{
		contracts: make(map[identity.ID]wallet.ContractInfo),
		disabled:  make(map[uint64]bool),
	}
}

func (f *fakeSnapshot) ResolveSource(source []byte) (identity.ID, bool) {
	id, err := identity.NewID(source)
	return id, err == nil
}

func (f *fakeSnapshot) Contract(addr identity.ID) (wallet.ContractInfo, bool) {
	info, ok := f.contracts[addr]
	return info, ok
}

func (f *fakeSnapshot) IsInnerIDDisabled(source identity.ID, innerID uint64) bool {
	return f.disabled[innerID]
}

func signedTx(t *testing.T, kp *crypto.KeyPair, target identity.ID, innerID uint64) block.Transaction {
	t.Helper()
	tx := block.Transaction{
		Source:     kp.Public,
		Target:     target,
		Amount:     wallet.Amount{Integral: 1},
		MaxFee:     wallet.Amount{Integral: 1},
		CountedFee: wallet.Amount{Fraction: 1},
		InnerID:    innerID,
		Kind:       block.KindTransfer,
	}
	tx.Signature = kp.Sign(tx.SigningBytes())
	return tx
}

func mustID(b byte) identity.ID {
	raw := make([]byte, identity.Size)
	raw[0] = b
	id, _ := identity.NewID(raw)
	return id
}

func TestValidateAllValid(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	txs := []block.Transaction{
		signedTx(t, kp, mustID(0x02), 1),
		signedTx(t, kp, mustID(0x03), 2),
		signedTx(t, kp, mustID(0x04), 3),
	}

	res := txvalidator.Validate(txs, newFakeSnapshot())
	assert.Equal(t, []byte{1, 1, 1}, res.Mask)
	assert.Empty(t, res.Rejections)
}

// S4 — duplicate transaction: a packet containing [t1, t2, t1] rejects
// the repeated t1 with DuplicatedInnerID.
func TestValidateDuplicateInnerID(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	t1 := signedTx(t, kp, mustID(0x02), 1)
	t2 := signedTx(t, kp, mustID(0x03), 2)
	txs := []block.Transaction{t1, t2, t1}

	res := txvalidator.Validate(txs, newFakeSnapshot())
	require.Len(t, res.Mask, 3)
	assert.Equal(t, byte(1), res.Mask[0])
	assert.Equal(t, byte(1), res.Mask[1])
	assert.Equal(t, byte(0), res.Mask[2])

	require.Len(t, res.Rejections, 1)
	assert.Equal(t, 2, res.Rejections[0].Index)
	assert.Equal(t, txvalidator.ReasonDuplicatedInnerID, res.Rejections[0].Reason)
}

// S5 — rejected smart-emit cascade: when any transaction from a
// contract address is rejected, every transaction from that address in
// the batch is force-rejected.
func TestValidateEmittedCascade(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	contractID, err := identity.NewID(kp.Public)
	require.NoError(t, err)

	snap := newFakeSnapshot()
	snap.contracts[contractID] = wallet.ContractInfo{}
	snap.disabled[99] = true // e1 rejected by a disabled inner-id

	e1 := signedTx(t, kp, mustID(0x10), 99)
	e2 := signedTx(t, kp, mustID(0x11), 2)
	e3 := signedTx(t, kp, mustID(0x12), 3)

	res := txvalidator.Validate([]block.Transaction{e1, e2, e3}, snap)
	assert.Equal(t, []byte{0, 0, 0}, res.Mask)

	reasonByIndex := map[int]txvalidator.Reason{}
	for _, r := range res.Rejections {
		reasonByIndex[r.Index] = r.Reason
	}
	assert.Equal(t, txvalidator.ReasonDisabledInnerID, reasonByIndex[0])
	assert.Equal(t, txvalidator.ReasonEmittedOutOfFee, reasonByIndex[1])
	assert.Equal(t, txvalidator.ReasonEmittedOutOfFee, reasonByIndex[2])
}

// L1 — mask idempotence: running the validator twice on the same
// inputs yields identical masks.
func TestValidateIsIdempotent(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	txs := []block.Transaction{
		signedTx(t, kp, mustID(0x02), 1),
		signedTx(t, kp, mustID(0x03), 2),
	}

	snap := newFakeSnapshot()
	res1 := txvalidator.Validate(txs, snap)
	res2 := txvalidator.Validate(txs, snap)
	assert.Equal(t, res1.Mask, res2.Mask)
}

func TestValidateWrongSignatureRejected(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	tx := signedTx(t, kp, mustID(0x02), 1)
	tx.Signature[0] ^= 0xFF // corrupt

	res := txvalidator.Validate([]block.Transaction{tx}, newFakeSnapshot())
	assert.Equal(t, byte(0), res.Mask[0])
	assert.Equal(t, txvalidator.ReasonWrongSignature, res.Rejections[0].Reason)
}

// Graph pass (§4.3): once a source's earlier transaction in the packet
// is rejected, its later transactions are rejected too, even though
// each one individually passes every per-transaction check.
func TestValidateDoubleSpendRejectsLaterSameSourceTransactions(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	t1 := signedTx(t, kp, mustID(0x02), 1)
	t1.Signature[0] ^= 0xFF // corrupt: t1 fails on signature
	t2 := signedTx(t, kp, mustID(0x03), 2)
	t3 := signedTx(t, kp, mustID(0x04), 3)

	res := txvalidator.Validate([]block.Transaction{t1, t2, t3}, newFakeSnapshot())
	assert.Equal(t, []byte{0, 0, 0}, res.Mask)

	reasonByIndex := map[int]txvalidator.Reason{}
	for _, r := range res.Rejections {
		reasonByIndex[r.Index] = r.Reason
	}
	assert.Equal(t, txvalidator.ReasonWrongSignature, reasonByIndex[0])
	assert.Equal(t, txvalidator.ReasonDoubleSpend, reasonByIndex[1])
	assert.Equal(t, txvalidator.ReasonDoubleSpend, reasonByIndex[2])
}

// A source's transaction preceding another source's failure is
// unaffected: double-spend rejection never reaches backward.
func TestValidateDoubleSpendDoesNotRejectEarlierTransactions(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	t1 := signedTx(t, kp, mustID(0x02), 1)
	t2 := signedTx(t, kp, mustID(0x03), 2)
	t2.Signature[0] ^= 0xFF // corrupt: t2 fails on signature

	res := txvalidator.Validate([]block.Transaction{t1, t2}, newFakeSnapshot())
	assert.Equal(t, byte(1), res.Mask[0])
	assert.Equal(t, byte(0), res.Mask[1])
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, txvalidator.ReasonWrongSignature, res.Rejections[0].Reason)
}

func TestValidateInsufficientMaxFee(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	tx := block.Transaction{
		Source:     kp.Public,
		Target:     mustID(0x02),
		MaxFee:     wallet.Amount{Fraction: 1},
		CountedFee: wallet.Amount{Integral: 1},
		InnerID:    1,
	}
	tx.Signature = kp.Sign(tx.SigningBytes())

	res := txvalidator.Validate([]block.Transaction{tx}, newFakeSnapshot())
	assert.Equal(t, byte(0), res.Mask[0])
	assert.Equal(t, txvalidator.ReasonInsufficientMaxFee, res.Rejections[0].Reason)
}
