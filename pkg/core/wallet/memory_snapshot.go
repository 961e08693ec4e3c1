package wallet

import "github.com/cleancoindev2/csnode/pkg/identity"

// MemorySnapshot is the in-memory default Snapshot implementation.
// wallets.snapshot() is an out-of-scope collaborator (spec.md §6); this
// default treats every source as an already-resolved public key; an
// address is a contract only once RegisterContract installs it, and an
// inner-id is replay-disabled only once DisableInnerID marks it. It plays the same
// "adequate for tests and single-process operation" role
// pkg/core/chain's MemoryLoader plays for the chain capability.
type MemorySnapshot struct {
	contracts map[identity.ID]ContractInfo
	disabled  map[identity.ID]map[uint64]bool
}

// NewMemorySnapshot returns an empty MemorySnapshot.
func NewMemorySnapshot() *MemorySnapshot {
	return &MemorySnapshot{
		contracts: make(map[identity.ID]ContractInfo),
		disabled:  make(map[identity.ID]map[uint64]bool),
	}
}

// ResolveSource treats source as an already-resolved public key.
func (m *MemorySnapshot) ResolveSource(source []byte) (identity.ID, bool) {
	id, err := identity.NewID(source)
	if err != nil {
		return identity.ID{}, false
	}
	return id, true
}

// Contract returns info for a previously registered contract address.
func (m *MemorySnapshot) Contract(addr identity.ID) (ContractInfo, bool) {
	info, ok := m.contracts[addr]
	return info, ok
}

// RegisterContract installs (or updates) contract info for addr, for
// tests and bootstrap wiring that need a non-empty snapshot.
func (m *MemorySnapshot) RegisterContract(addr identity.ID, info ContractInfo) {
	m.contracts[addr] = info
}

// IsInnerIDDisabled reports whether innerID has been marked replayed
// for source.
func (m *MemorySnapshot) IsInnerIDDisabled(source identity.ID, innerID uint64) bool {
	ids, ok := m.disabled[source]
	if !ok {
		return false
	}
	return ids[innerID]
}

// DisableInnerID marks innerID as replayed for source.
func (m *MemorySnapshot) DisableInnerID(source identity.ID, innerID uint64) {
	ids, ok := m.disabled[source]
	if !ok {
		ids = make(map[uint64]bool)
		m.disabled[source] = ids
	}
	ids[innerID] = true
}
