// Package txvalidator implements C3: a pure function validating a
// transaction batch against a wallet snapshot and producing a
// characteristic mask. Grounded on
// _examples/original_source/api/src/APIHandler.cpp (per-transaction
// checks) and api/include/tokens.hpp (wallet-id resolution), per
// SPEC_FULL.md §D.3 and §C.
package txvalidator

import (
	"github.com/cleancoindev2/csnode/pkg/core/block"
	"github.com/cleancoindev2/csnode/pkg/core/wallet"
	"github.com/cleancoindev2/csnode/pkg/crypto"
	"github.com/cleancoindev2/csnode/pkg/identity"
)

// Reason enumerates the rejection taxonomy from spec.md §7.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonWrongSignature        Reason = "WrongSignature"
	ReasonInsufficientMaxFee    Reason = "InsufficientMaxFee"
	ReasonSourceIsTarget        Reason = "SourceIsTarget"
	ReasonDisabledInnerID       Reason = "DisabledInnerID"
	ReasonDuplicatedInnerID     Reason = "DuplicatedInnerID"
	ReasonContractClosed        Reason = "ContractClosed"
	ReasonMalformedContractAddr Reason = "MalformedContractAddress"
	ReasonNewStateOutOfFee      Reason = "NewStateOutOfFee"
	ReasonEmittedOutOfFee       Reason = "EmittedOutOfFee"
	ReasonMalformedTransaction  Reason = "MalformedTransaction"
	ReasonDoubleSpend           Reason = "DoubleSpend"
)

// Rejection pairs a rejected transaction's index with why it was
// rejected.
type Rejection struct {
	Index  int
	Reason Reason
}

// Result is the output of Validate: a mask parallel to the input list
// (1 == included, 0 == rejected) and the rejection reasons for every
// zeroed entry. Observable invariant P3/§4.3: len(Mask) == len(input).
type Result struct {
	Mask       []byte
	Rejections []Rejection
}

// verifier is the subset of the §6 capability contract Validate needs;
// kept as an unexported interface so tests can substitute a fake
// without dragging in the concrete crypto package.
type verifier interface {
	Verify(pub, msg, sig []byte) bool
}

type defaultVerifier struct{}

func (defaultVerifier) Verify(pub, msg, sig []byte) bool { return crypto.Verify(pub, msg, sig) }

// Validate runs the per-transaction checks of spec.md §4.3 in order,
// short-circuiting on first failure, then the smart-contract rejection
// cascade, then the graph pass for same-source double spend.
// L1 (mask idempotence): Validate is deterministic in (txs, snapshot).
func Validate(txs []block.Transaction, snapshot wallet.Snapshot) Result {
	return validate(txs, snapshot, defaultVerifier{})
}

func validate(txs []block.Transaction, snapshot wallet.Snapshot, v verifier) Result {
	mask := make([]byte, len(txs))
	rejections := make([]Rejection, 0)
	reject := func(i int, reason Reason) {
		mask[i] = 0
		rejections = append(rejections, Rejection{Index: i, Reason: reason})
	}

	seenInnerID := make(map[seenKey]bool)
	sourceOf := make([]identity.ID, len(txs))
	sourceResolved := make([]bool, len(txs))

	for i, tx := range txs {
		mask[i] = 1

		source, ok := resolveSource(tx.Source, snapshot)
		if !ok {
			reject(i, ReasonMalformedTransaction)
			continue
		}
		sourceOf[i] = source
		sourceResolved[i] = true

		// 1. Signature verifies under the resolved source key.
		if !v.Verify(source.Bytes(), tx.SigningBytes(), tx.Signature) {
			reject(i, ReasonWrongSignature)
			continue
		}

		// 2. max_fee >= counted_fee.
		if !tx.MaxFee.GreaterOrEqual(tx.CountedFee) {
			reject(i, ReasonInsufficientMaxFee)
			continue
		}

		// 3. Source != target unless this is a smart-contract new-state.
		if tx.Kind != block.KindSmartNewState && source == tx.Target {
			reject(i, ReasonSourceIsTarget)
			continue
		}

		// 4. Inner-id is not disabled and not duplicated for this
		// source within this packet.
		if snapshot.IsInnerIDDisabled(source, tx.InnerID) {
			reject(i, ReasonDisabledInnerID)
			continue
		}
		key := seenKey{source: source, innerID: tx.InnerID}
		if seenInnerID[key] {
			reject(i, ReasonDuplicatedInnerID)
			continue
		}
		seenInnerID[key] = true

		// 5. Source is a known, non-closed smart contract (if it is one
		// at all).
		if info, isContract := snapshot.Contract(source); isContract && info.Closed {
			reject(i, ReasonContractClosed)
			continue
		}

		// 6. Smart-contract new-state: the init transaction must exist
		// at the referenced sequence, with enough remaining fee budget.
		if tx.Kind == block.KindSmartNewState {
			info, isContract := snapshot.Contract(source)
			if !isContract {
				reject(i, ReasonMalformedTransaction)
				continue
			}
			if info.InitSequence != tx.RefSequence {
				reject(i, ReasonMalformedTransaction)
				continue
			}
			remaining := info.InitMaxFee.Sub(info.InitCountedFee)
			required := tx.CountedFee.Add(tx.NewStateFee)
			if !remaining.GreaterOrEqual(required) {
				reject(i, ReasonNewStateOutOfFee)
				continue
			}
		}

		// 7. Smart-contract deploy: target must equal the derived
		// contract address.
		if tx.Kind == block.KindSmartDeploy {
			derived := block.DeriveContractAddress(source, tx.InnerID, tx.Payload)
			if derived != tx.Target {
				reject(i, ReasonMalformedContractAddr)
				continue
			}
		}
	}

	cascadeContractRejections(txs, mask, rejections, sourceOf, sourceResolved, snapshot, func(i int, reason Reason) {
		reject(i, reason)
	})

	rejectDoubleSpends(txs, mask, sourceOf, sourceResolved, reject)

	return Result{Mask: mask, Rejections: rejections}
}

type seenKey struct {
	source  identity.ID
	innerID uint64
}

// resolveSource follows SPEC_FULL.md §D.3: a source field shorter than a
// full public key is a wallet-id, resolved through the snapshot;
// otherwise it is already a 32-byte public key.
func resolveSource(source []byte, snapshot wallet.Snapshot) (identity.ID, bool) {
	if len(source) == identity.Size {
		id, err := identity.NewID(source)
		return id, err == nil
	}
	return snapshot.ResolveSource(source)
}

// cascadeContractRejections implements spec.md §4.5's "smart-contract
// rejection cascade": if any transaction emitted by a smart-contract
// address is rejected, every transaction from that same source in the
// batch is force-rejected before the mask is finalized (S5).
func cascadeContractRejections(
	txs []block.Transaction,
	mask []byte,
	rejections []Rejection,
	sourceOf []identity.ID,
	sourceResolved []bool,
	snapshot wallet.Snapshot,
	reject func(int, Reason),
) {
	rejectedSources := make(map[identity.ID]bool)
	for _, r := range rejections {
		if !sourceResolved[r.Index] {
			continue
		}
		if _, isContract := snapshot.Contract(sourceOf[r.Index]); isContract {
			rejectedSources[sourceOf[r.Index]] = true
		}
	}

	for i := range txs {
		if !sourceResolved[i] || mask[i] == 0 {
			continue
		}
		if rejectedSources[sourceOf[i]] {
			reject(i, ReasonEmittedOutOfFee)
		}
	}
}

// rejectDoubleSpends is the graph pass of §4.3: a transaction whose
// source already has an earlier (lower-index) rejected transaction in
// this same packet is rejected too, with ReasonDoubleSpend. Unlike
// cascadeContractRejections — which force-rejects every transaction
// from a smart-contract address once any of its emits fails, in either
// direction — this pass is directional: only transactions that come
// *after* the first rejection for their source are affected, since a
// transaction ahead of a later failure never depended on it. This
// models double-spend the way a batch without an explicit running
// balance can: a source's later transactions are presumed to build on
// its earlier ones succeeding, so once an earlier one is rejected,
// everything the source submitted afterward in the same packet is
// rejected along with it rather than applied against a state that
// never actually existed.
func rejectDoubleSpends(
	txs []block.Transaction,
	mask []byte,
	sourceOf []identity.ID,
	sourceResolved []bool,
	reject func(int, Reason),
) {
	rejectedSoFar := make(map[identity.ID]bool)
	for i := range txs {
		if !sourceResolved[i] {
			continue
		}
		if mask[i] == 0 {
			rejectedSoFar[sourceOf[i]] = true
			continue
		}
		if rejectedSoFar[sourceOf[i]] {
			reject(i, ReasonDoubleSpend)
		}
	}
}
