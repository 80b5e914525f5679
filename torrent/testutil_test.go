package torrent

import (
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/anacrolix/missinggo/bitmap"
	"github.com/davidgiffin/ttorrent/peer_wire"
	"github.com/stretchr/testify/require"
)

//testTorrent keeps pieces in memory, no hashing involved: Hash always
//succeeds and flips the piece valid.
type testTorrent struct {
	pcs []*testPiece
}

func dummyTorrent(numPieces, pieceSz int) *testTorrent {
	t := &testTorrent{}
	for i := 0; i < numPieces; i++ {
		t.pcs = append(t.pcs, &testPiece{
			index: uint32(i),
			data:  make([]byte, pieceSz),
		})
	}
	return t
}

func (t *testTorrent) NumPieces() int {
	return len(t.pcs)
}

func (t *testTorrent) Piece(i uint32) Piece {
	return t.pcs[i]
}

type testPiece struct {
	index uint32
	mu    sync.Mutex
	data  []byte
	valid bool
}

func (p *testPiece) Index() uint32 { return p.index }

func (p *testPiece) Size() int { return len(p.data) }

func (p *testPiece) ReadBlock(b []byte, off uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(b, p.data[off:])
	return nil
}

func (p *testPiece) WriteBlock(b []byte, off uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.data[off:], b)
	return nil
}

func (p *testPiece) Hash() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.valid = true
	return true, nil
}

func (p *testPiece) Valid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valid
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

//recListener records fired events as compact strings.
type recListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recListener) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *recListener) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

//waitFor polls until event e shows up, failing the test after 2s.
func (l *recListener) waitFor(t *testing.T, e string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, got := range l.snapshot() {
			if got == e {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("event %q never fired, got %v", e, l.snapshot())
}

func (l *recListener) HandlePeerChoked(p *SharingPeer) { l.add("choked") }

func (l *recListener) HandlePeerReady(p *SharingPeer) { l.add("ready") }

func (l *recListener) HandlePieceAvailability(p *SharingPeer, piece Piece) {
	l.add(fmt.Sprintf("have:%d", piece.Index()))
}

func (l *recListener) HandleBitfieldAvailability(p *SharingPeer, available bitmap.Bitmap) {
	l.add(fmt.Sprintf("bitfield:%d", available.Len()))
}

func (l *recListener) HandlePieceSent(p *SharingPeer, piece Piece) {
	l.add(fmt.Sprintf("sent:%d", piece.Index()))
}

func (l *recListener) HandlePieceCompleted(p *SharingPeer, piece Piece) {
	l.add(fmt.Sprintf("completed:%d", piece.Index()))
}

func (l *recListener) HandlePeerDisconnected(p *SharingPeer) { l.add("disconnected") }

func (l *recListener) HandleIOError(p *SharingPeer, err error) { l.add("ioerror") }

func testPeerID(n byte) (id [20]byte) {
	copy(id[:], "-TT0001-test")
	id[19] = n
	return
}

//boundPeer wires a fresh SharingPeer to one end of an in-memory pipe
//and hands back the remote end the test talks through.
func boundPeer(t *testing.T, tr Torrent) (*SharingPeer, *recListener, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	p := NewSharingPeer(Peer{IP: "10.0.0.1", Port: 6881, ID: testPeerID(1)}, tr, discardLogger())
	l := &recListener{}
	p.Register(l)
	require.NoError(t, p.Bind(local))
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	return p, l, remote
}

//readMsg decodes the next msg the peer put on the wire.
func readMsg(t *testing.T, remote net.Conn) *peer_wire.Msg {
	t.Helper()
	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := peer_wire.Decode(remote)
	require.NoError(t, err)
	return msg
}

//expectSilence asserts nothing shows up on the wire for a little while.
func expectSilence(t *testing.T, remote net.Conn) {
	t.Helper()
	remote.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, err := peer_wire.Decode(remote)
	require.Error(t, err)
	nerr, ok := err.(net.Error)
	require.True(t, ok && nerr.Timeout(), "expected read timeout, got %v", err)
}

//readUntilClosed drains and decodes msgs until the peer closes the
//conn.
func readUntilClosed(t *testing.T, remote net.Conn) (msgs []*peer_wire.Msg) {
	t.Helper()
	for {
		remote.SetReadDeadline(time.Now().Add(2 * time.Second))
		msg, err := peer_wire.Decode(remote)
		if err != nil {
			return
		}
		msgs = append(msgs, msg)
	}
}
