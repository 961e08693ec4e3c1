package neighbors_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleancoindev2/csnode/pkg/identity"
	"github.com/cleancoindev2/csnode/pkg/net/neighbors"
	"github.com/cleancoindev2/csnode/pkg/wire/message"
)

type fakeTransport struct {
	mu  sync.Mutex
	out []sentMessage
}

type sentMessage struct {
	peer identity.ID
	body message.Body
}

func (f *fakeTransport) Send(peer identity.ID, body message.Body) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sentMessage{peer: peer, body: body})
}

func (f *fakeTransport) last() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out[len(f.out)-1]
}

func mustID(b byte) identity.ID {
	raw := make([]byte, identity.Size)
	raw[0] = b
	id, _ := identity.NewID(raw)
	return id
}

func TestOnDiscoveredSendsRegistration(t *testing.T) {
	tr := &fakeTransport{}
	reg := neighbors.New(tr, 1, 99)

	reg.OnDiscovered(mustID(0x01), 5, 7)

	require.Len(t, tr.out, 1)
	sent, ok := tr.last().body.(*message.Registration)
	require.True(t, ok)
	assert.Equal(t, uint64(5), sent.LastSeq)
	assert.Equal(t, 1, reg.Len())
}

func TestOnRegistrationRequestConfirms(t *testing.T) {
	tr := &fakeTransport{}
	reg := neighbors.New(tr, 1, 99)

	reg.OnRegistrationRequest(mustID(0x02), &message.Registration{Version: 1, ChainUUID: 99, LastSeq: 3})

	_, ok := tr.last().body.(*message.RegistrationConfirmed)
	assert.True(t, ok)
	snap := reg.Snapshot()
	info, ok := snap[mustID(0x02)]
	require.True(t, ok)
	assert.True(t, info.Established)
}

func TestOnRegistrationRequestRefusesVersionMismatch(t *testing.T) {
	tr := &fakeTransport{}
	reg := neighbors.New(tr, 2, 99)

	reg.OnRegistrationRequest(mustID(0x03), &message.Registration{Version: 1, ChainUUID: 99})

	refusal, ok := tr.last().body.(*message.RegistrationRefused)
	require.True(t, ok)
	assert.Equal(t, message.ReasonBadClientVersion, refusal.Reason)
	assert.Equal(t, 0, reg.Len())
}

func TestSweepEvictsStalePeer(t *testing.T) {
	tr := &fakeTransport{}
	reg := neighbors.NewWithTimeout(tr, 1, 99, 10*time.Millisecond)
	reg.OnRegistrationRequest(mustID(0x04), &message.Registration{Version: 1, ChainUUID: 99})

	time.Sleep(20 * time.Millisecond)
	evicted := reg.Sweep(10)

	assert.Equal(t, []identity.ID{mustID(0x04)}, evicted)
	assert.Equal(t, 0, reg.Len())
}

func TestSweepPingsSurvivingPeers(t *testing.T) {
	tr := &fakeTransport{}
	reg := neighbors.NewWithTimeout(tr, 1, 99, time.Hour)
	reg.OnRegistrationRequest(mustID(0x05), &message.Registration{Version: 1, ChainUUID: 99})

	evicted := reg.Sweep(17)
	assert.Empty(t, evicted)

	ping, ok := tr.last().body.(*message.Ping)
	require.True(t, ok)
	assert.Equal(t, uint64(17), ping.LastSeq)
}

func TestPeersExcludesUnestablishedSlots(t *testing.T) {
	tr := &fakeTransport{}
	reg := neighbors.New(tr, 1, 99)

	reg.OnDiscovered(mustID(0x06), 0, 0) // unestablished: pending handshake
	reg.OnRegistrationRequest(mustID(0x07), &message.Registration{Version: 1, ChainUUID: 99})

	assert.Equal(t, []identity.ID{mustID(0x07)}, reg.Peers())
}
