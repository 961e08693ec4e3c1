package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleancoindev2/csnode/pkg/identity"
)

func mustID(t *testing.T, b byte) identity.ID {
	t.Helper()
	raw := make([]byte, identity.Size)
	raw[0] = b
	id, err := identity.NewID(raw)
	require.NoError(t, err)
	return id
}

func TestOrderingIsBytewise(t *testing.T) {
	a := mustID(t, 0x01)
	b := mustID(t, 0x02)

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, a.Equal(a))
}

func TestSortIDsDeterministic(t *testing.T) {
	a := mustID(t, 0x03)
	b := mustID(t, 0x01)
	c := mustID(t, 0x02)

	sorted := identity.SortIDs([]identity.ID{a, b, c})
	assert.Equal(t, []identity.ID{b, c, a}, sorted)
}

func TestAddressRejectsWrongSize(t *testing.T) {
	_, err := identity.Address([]byte{1, 2, 3})
	assert.ErrorIs(t, err, identity.ErrInvalidSize)
}

func TestAddressIsStable(t *testing.T) {
	id := mustID(t, 0x7f)
	assert.Equal(t, id.String(), id.String())
}
