// Package encoding provides the length-prefixed binary primitives used by
// pkg/wire/message to implement the wire formats of spec.md §6. The shapes
// mirror the WriteUint64LE/WriteVarInt/WriteVarBytes/Write256 helpers the
// teacher's pkg/core/block/certificate.go calls, rebuilt here from their
// call-site contracts since the teacher's own encoding package was not part
// of the retrieved file set.
package encoding

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrMalformed is returned whenever a declared length does not match the
// remaining buffer, per spec.md §4.1.
var ErrMalformed = errors.New("encoding: malformed message")

// HashSize is the width in bytes of a collision-resistant digest.
const HashSize = 32

// SignatureSize is the width in bytes of a node signature.
const SignatureSize = 64

func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func ReadUint8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrMalformed
	}
	return b[0], nil
}

func WriteUint16LE(w io.Writer, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func ReadUint16LE(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrMalformed
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func WriteUint32LE(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func ReadUint32LE(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrMalformed
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func WriteUint64LE(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func ReadUint64LE(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrMalformed
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// WriteVarBytes writes a length-prefixed (u32 LE) byte slice.
func WriteVarBytes(w io.Writer, b []byte) error {
	if err := WriteUint32LE(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadVarBytes reads a length-prefixed (u32 LE) byte slice, capped at max
// to bound allocation from a hostile peer (maximum payload is 64KB per
// spec.md §6).
func ReadVarBytes(r io.Reader, max uint32) ([]byte, error) {
	n, err := ReadUint32LE(r)
	if err != nil {
		return nil, err
	}
	if n > max {
		return nil, ErrMalformed
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, ErrMalformed
	}
	return buf, nil
}

// WriteHash writes a fixed 32-byte digest.
func WriteHash(w io.Writer, h []byte) error {
	if len(h) != HashSize {
		return ErrMalformed
	}
	_, err := w.Write(h)
	return err
}

// ReadHash reads a fixed 32-byte digest.
func ReadHash(r io.Reader) ([]byte, error) {
	buf := make([]byte, HashSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, ErrMalformed
	}
	return buf, nil
}

// WriteSignature writes a fixed 64-byte signature.
func WriteSignature(w io.Writer, sig []byte) error {
	if len(sig) != SignatureSize {
		return ErrMalformed
	}
	_, err := w.Write(sig)
	return err
}

// ReadSignature reads a fixed 64-byte signature.
func ReadSignature(r io.Reader) ([]byte, error) {
	buf := make([]byte, SignatureSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, ErrMalformed
	}
	return buf, nil
}
