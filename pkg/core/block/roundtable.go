package block

import (
	"io"

	"github.com/cleancoindev2/csnode/pkg/identity"
	"github.com/cleancoindev2/csnode/pkg/wire/encoding"
)

// RoundTable is produced by the writer of round R-1 and consumed by all
// participants of round R (spec.md §3).
type RoundTable struct {
	Round             uint64
	StartingTimestamp uint64
	Confidants        []identity.ID
	PacketHashes      [][]byte
}

// TrustedIndex returns id's position in the confidant list, which is its
// trusted index for this round (spec.md §3), or -1 if id is not a
// confidant.
func (rt RoundTable) TrustedIndex(id identity.ID) int {
	for i, c := range rt.Confidants {
		if c == id {
			return i
		}
	}
	return -1
}

// IsConfidant reports whether id participates as a confidant this round.
func (rt RoundTable) IsConfidant(id identity.ID) bool {
	return rt.TrustedIndex(id) >= 0
}

// Encode writes the round table to w.
func (rt RoundTable) Encode(w io.Writer) error {
	if err := encoding.WriteUint64LE(w, rt.Round); err != nil {
		return err
	}
	if err := encoding.WriteUint64LE(w, rt.StartingTimestamp); err != nil {
		return err
	}
	if err := encoding.WriteUint8(w, uint8(len(rt.Confidants))); err != nil {
		return err
	}
	for _, c := range rt.Confidants {
		if err := encoding.WriteHash(w, c.Bytes()); err != nil {
			return err
		}
	}
	if err := encoding.WriteUint8(w, uint8(len(rt.PacketHashes))); err != nil {
		return err
	}
	for _, h := range rt.PacketHashes {
		if err := encoding.WriteHash(w, h); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads a round table from r.
func (rt *RoundTable) Decode(r io.Reader) error {
	var err error
	if rt.Round, err = encoding.ReadUint64LE(r); err != nil {
		return err
	}
	if rt.StartingTimestamp, err = encoding.ReadUint64LE(r); err != nil {
		return err
	}
	nConfidants, err := encoding.ReadUint8(r)
	if err != nil {
		return err
	}
	rt.Confidants = make([]identity.ID, nConfidants)
	for i := range rt.Confidants {
		b, err := encoding.ReadHash(r)
		if err != nil {
			return err
		}
		if rt.Confidants[i], err = identity.NewID(b); err != nil {
			return encoding.ErrMalformed
		}
	}
	nHashes, err := encoding.ReadUint8(r)
	if err != nil {
		return err
	}
	rt.PacketHashes = make([][]byte, nHashes)
	for i := range rt.PacketHashes {
		if rt.PacketHashes[i], err = encoding.ReadHash(r); err != nil {
			return err
		}
	}
	return nil
}
