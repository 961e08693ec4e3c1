package transport_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleancoindev2/csnode/pkg/identity"
	"github.com/cleancoindev2/csnode/pkg/net/transport"
	"github.com/cleancoindev2/csnode/pkg/wire/message"
)

func mkID(b byte) identity.ID {
	raw := make([]byte, identity.Size)
	raw[0] = b
	id, _ := identity.NewID(raw)
	return id
}

type recorder struct {
	mu   sync.Mutex
	envs []*message.Envelope
	from []identity.ID
}

func (r *recorder) deliver(from identity.ID, env *message.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.from = append(r.from, from)
	r.envs = append(r.envs, env)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

func (r *recorder) last() (*message.Envelope, identity.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.envs[len(r.envs)-1], r.from[len(r.from)-1]
}

// TestConnectSendToDeliversAcrossARealTCPSocket wires two Managers over
// loopback TCP and checks that a SendTo on one side is decoded and
// delivered on the other with the expected sender identity and round.
func TestConnectSendToDeliversAcrossARealTCPSocket(t *testing.T) {
	serverID := mkID(0x01)
	clientID := mkID(0x02)

	serverRec := &recorder{}
	server := transport.New(serverRec.deliver, func() uint64 { return 7 })

	ln, err := server.Listen("127.0.0.1:0", func(net.Conn) (identity.ID, error) {
		return clientID, nil
	})
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr()

	clientRec := &recorder{}
	client := transport.New(clientRec.deliver, func() uint64 { return 3 })
	require.NoError(t, client.Connect(serverID, addr))

	require.Eventually(t, func() bool {
		return len(server.Peers()) == 1
	}, time.Second, time.Millisecond, "server should have accepted the client session")

	client.SendTo(serverID, &message.Ping{LastSeq: 42})

	require.Eventually(t, func() bool {
		return serverRec.count() == 1
	}, time.Second, time.Millisecond, "server should have decoded the client's Ping")

	env, from := serverRec.last()
	assert.Equal(t, clientID, from)
	assert.Equal(t, uint64(3), env.Round)
	ping, ok := env.Body.(*message.Ping)
	require.True(t, ok)
	assert.Equal(t, uint64(42), ping.LastSeq)
}

func TestBroadcastReachesEverySession(t *testing.T) {
	peerA, peerB := mkID(0x0a), mkID(0x0b)

	var mu sync.Mutex
	nextID := peerA
	server := transport.New(func(identity.ID, *message.Envelope) {}, func() uint64 { return 1 })

	ln, err := server.Listen("127.0.0.1:0", func(conn net.Conn) (identity.ID, error) {
		mu.Lock()
		defer mu.Unlock()
		id := nextID
		nextID = peerB
		return id, nil
	})
	require.NoError(t, err)
	defer ln.Close()
	addr := ln.Addr()

	recA, recB := &recorder{}, &recorder{}
	clientA := transport.New(recA.deliver, func() uint64 { return 0 })
	require.NoError(t, clientA.Connect(mkID(0xa1), addr))
	require.Eventually(t, func() bool { return len(server.Peers()) == 1 }, time.Second, time.Millisecond)

	clientB := transport.New(recB.deliver, func() uint64 { return 0 })
	require.NoError(t, clientB.Connect(mkID(0xb1), addr))
	require.Eventually(t, func() bool { return len(server.Peers()) == 2 }, time.Second, time.Millisecond)

	server.Broadcast(&message.Ping{LastSeq: 99})

	require.Eventually(t, func() bool {
		return recA.count() == 1 && recB.count() == 1
	}, time.Second, time.Millisecond, "both clients should have received the broadcast Ping")

	envA, _ := recA.last()
	pingA, ok := envA.Body.(*message.Ping)
	require.True(t, ok)
	assert.Equal(t, uint64(99), pingA.LastSeq)
}

// TestConnectAsIdentifyByPreambleResolvesDialerIdentity exercises the
// production handshake pair used by cmd/csnode: the dialer announces
// itself with ConnectAs and the listener recovers that identity with
// IdentifyByPreamble, with no out-of-band knowledge of who's calling.
func TestConnectAsIdentifyByPreambleResolvesDialerIdentity(t *testing.T) {
	serverID := mkID(0x10)
	clientID := mkID(0x20)

	serverRec := &recorder{}
	server := transport.New(serverRec.deliver, func() uint64 { return 9 })

	ln, err := server.Listen("127.0.0.1:0", transport.IdentifyByPreamble)
	require.NoError(t, err)
	defer ln.Close()

	client := transport.New(func(identity.ID, *message.Envelope) {}, func() uint64 { return 0 })
	require.NoError(t, client.ConnectAs(clientID, serverID, ln.Addr()))

	require.Eventually(t, func() bool {
		return len(server.Peers()) == 1
	}, time.Second, time.Millisecond, "server should have resolved the dialer's identity")
	assert.Equal(t, clientID, server.Peers()[0])
}
