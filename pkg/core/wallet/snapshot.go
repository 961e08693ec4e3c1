package wallet

import "github.com/cleancoindev2/csnode/pkg/identity"

// ContractInfo is what the Transaction Validator needs to know about a
// smart-contract address, per spec.md §4.3 items 5-7.
type ContractInfo struct {
	Closed         bool
	Deployer       identity.ID
	InitSequence   uint64
	InitMaxFee     Amount
	InitCountedFee Amount
}

// Snapshot is the read-only view of wallet state the Transaction
// Validator checks transactions against — §6's `wallets.snapshot()`.
// csnode never mutates a Snapshot; it is produced and owned by the
// out-of-scope wallet cache collaborator.
type Snapshot interface {
	// ResolveSource returns the public key a transaction's source field
	// refers to. Per SPEC_FULL.md §D.3, a source shorter than
	// identity.Size bytes is a wallet-id and is looked up here;
	// otherwise it is already a public key.
	ResolveSource(source []byte) (identity.ID, bool)

	// Contract returns the smart-contract info for addr, if addr names
	// a known smart contract.
	Contract(addr identity.ID) (ContractInfo, bool)

	// IsInnerIDDisabled reports whether innerID is blocked from replay
	// for source (§4.3 item 4).
	IsInnerIDDisabled(source identity.ID, innerID uint64) bool
}
