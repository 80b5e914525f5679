package torrent

import (
	"net"
	"testing"

	"github.com/davidgiffin/ttorrent/peer_wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//msgs sent to a peer leave in send order
func TestExchangeFIFO(t *testing.T) {
	tr := dummyTorrent(128, 1<<14)
	p, _, remote := boundPeer(t, tr)
	x := p.exchange
	for i := uint32(0); i < 100; i++ {
		x.send(&peer_wire.Msg{Kind: peer_wire.Have, Index: i})
	}
	for i := uint32(0); i < 100; i++ {
		msg := readMsg(t, remote)
		require.Equal(t, peer_wire.Have, msg.Kind)
		require.Equal(t, i, msg.Index)
	}
}

//close flushes what was already enqueued, terminate drops it
func TestExchangeCloseDrains(t *testing.T) {
	tr := dummyTorrent(128, 1<<14)
	p, _, remote := boundPeer(t, tr)
	x := p.exchange
	for i := uint32(0); i < 10; i++ {
		x.send(&peer_wire.Msg{Kind: peer_wire.Have, Index: i})
	}
	x.close()
	//send after close is a silent no-op
	x.send(&peer_wire.Msg{Kind: peer_wire.Have, Index: 99})
	msgs := readUntilClosed(t, remote)
	require.Len(t, msgs, 10)
	for i, msg := range msgs {
		assert.EqualValues(t, i, msg.Index)
	}
	assert.False(t, x.isConnected())
}

func TestExchangeTerminateIdempotent(t *testing.T) {
	tr := dummyTorrent(4, 1<<14)
	p, _, _ := boundPeer(t, tr)
	x := p.exchange
	x.terminate()
	x.terminate()
	x.close()
	x.send(&peer_wire.Msg{Kind: peer_wire.KeepAlive})
	assert.False(t, x.isConnected())
}

//a reader error surfaces as IOError and the peer unbinds itself
func TestExchangeReadErrorUnbinds(t *testing.T) {
	tr := dummyTorrent(4, 1<<14)
	p, l, remote := boundPeer(t, tr)
	remote.Close()
	l.waitFor(t, "ioerror")
	l.waitFor(t, "disconnected")
	assert.False(t, p.IsBound())
}

//garbage on the wire is a decode error, same fate
func TestExchangeDecodeErrorUnbinds(t *testing.T) {
	tr := dummyTorrent(4, 1<<14)
	p, l, remote := boundPeer(t, tr)
	//unknown type byte 0x2a
	remote.Write([]byte{0, 0, 0, 1, 0x2a})
	l.waitFor(t, "ioerror")
	l.waitFor(t, "disconnected")
	assert.False(t, p.IsBound())
}

//a semantically impossible msg dies at the reader before the state
//machine ever sees it
func TestExchangeSemanticInvalidUnbinds(t *testing.T) {
	tr := dummyTorrent(4, 1<<14)
	p, l, remote := boundPeer(t, tr)
	(&peer_wire.Msg{Kind: peer_wire.Have, Index: 4}).Write(remote)
	l.waitFor(t, "ioerror")
	l.waitFor(t, "disconnected")
	assert.False(t, p.IsBound())
	assert.False(t, p.HasPiece(4))
}

//msgs arriving over the wire drive the state machine end to end
func TestExchangeDeliversToPeer(t *testing.T) {
	tr := dummyTorrent(8, 1<<14)
	p, l, remote := boundPeer(t, tr)
	bf := peer_wire.NewBitField(8)
	bf.SetPiece(1)
	bf.SetPiece(6)
	require.NoError(t, (&peer_wire.Msg{Kind: peer_wire.Bitfield, Bf: bf}).Write(remote))
	require.NoError(t, (&peer_wire.Msg{Kind: peer_wire.Unchoke}).Write(remote))
	l.waitFor(t, "bitfield:2")
	l.waitFor(t, "ready")
	assert.True(t, p.HasPiece(1))
	assert.True(t, p.HasPiece(6))
	assert.False(t, p.IsChoked())
}

func TestExchangeStateTransitions(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()
	tr := dummyTorrent(4, 1<<14)
	p := NewSharingPeer(Peer{ID: testPeerID(7)}, tr, discardLogger())
	x := newPeerExchange(p, tr, local, discardLogger())
	assert.Equal(t, exchangeNew, x.state)
	assert.False(t, x.isConnected())
	x.start()
	assert.True(t, x.isConnected())
	x.close()
	assert.False(t, x.isConnected())
}
