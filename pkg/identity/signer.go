package identity

import "github.com/cleancoindev2/csnode/pkg/crypto"

// Signer adapts a crypto.KeyPair to the §6 Signer capability contract
// (pkg/consensus/round.Signer): production code's one way to turn a
// loaded key pair into something that can also name its own identity.
type Signer struct {
	kp *crypto.KeyPair
	id ID
}

// NewSigner wraps kp, deriving its identity once rather than on every
// Sign/Public call.
func NewSigner(kp *crypto.KeyPair) (Signer, error) {
	id, err := NewID(kp.Public)
	if err != nil {
		return Signer{}, err
	}
	return Signer{kp: kp, id: id}, nil
}

// Sign produces a signature under the wrapped key pair.
func (s Signer) Sign(msg []byte) []byte { return s.kp.Sign(msg) }

// Public returns the signer's own identity.
func (s Signer) Public() ID { return s.id }
