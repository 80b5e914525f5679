package peer_wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshake(t *testing.T) {
	initiator, recipient := net.Pipe()
	defer initiator.Close()
	defer recipient.Close()
	var ihash [20]byte
	copy(ihash[:], "aaaaaaaaaaaaaaaaaaaa")
	var initiatorID, recipientID [20]byte
	copy(initiatorID[:], "-TT0001-000000000001")
	copy(recipientID[:], "-TT0001-000000000002")
	done := make(chan error, 1)
	var peerSeen *HandShake
	go func() {
		hs := &HandShake{PeerID: recipientID}
		var err error
		peerSeen, err = hs.Receipt(recipient, map[[20]byte]struct{}{
			ihash: {},
		})
		done <- err
	}()
	hs := &HandShake{InfoHash: ihash, PeerID: initiatorID}
	peerHs, err := hs.Initiate(initiator)
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, recipientID, peerHs.PeerID)
	assert.Equal(t, ihash, peerHs.InfoHash)
	assert.Equal(t, initiatorID, peerSeen.PeerID)
}

func TestHandshakeUnknownInfoHash(t *testing.T) {
	initiator, recipient := net.Pipe()
	defer initiator.Close()
	defer recipient.Close()
	var ihash [20]byte
	copy(ihash[:], "bbbbbbbbbbbbbbbbbbbb")
	done := make(chan error, 1)
	go func() {
		hs := &HandShake{}
		_, err := hs.Receipt(recipient, map[[20]byte]struct{}{})
		done <- err
		recipient.Close()
	}()
	hs := &HandShake{InfoHash: ihash}
	_, err := hs.Initiate(initiator)
	assert.Error(t, err)
	assert.Error(t, <-done)
}
