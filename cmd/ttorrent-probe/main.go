//Command ttorrent-probe dials a single peer, handshakes and binds a
//sharing peer to it, then live-displays what the peer offers and how
//fast it transfers. Handy for poking at a swarm member without a full
//client around the peer wire core.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/anacrolix/missinggo/bitmap"
	"github.com/davidgiffin/ttorrent/peer_wire"
	"github.com/davidgiffin/ttorrent/torrent"
	"github.com/gosuri/uilive"
)

var addr = flag.String("addr", "", "peer `host:port` to probe")
var infoHash = flag.String("infohash", "", "40 char hex info_hash of the torrent")
var numPieces = flag.Int("pieces", 0, "piece count of the torrent")
var pieceLen = flag.Int("piecelen", 1<<18, "piece length in bytes")

func main() {
	flag.Parse()
	go func() {
		log.Println(http.ListenAndServe("localhost:6060", nil))
	}()
	if *addr == "" || *infoHash == "" || *numPieces <= 0 {
		log.Fatal("please provide -addr, -infohash and -pieces")
	}
	ih, err := parseInfoHash(*infoHash)
	if err != nil {
		log.Fatal(err)
	}
	conn, err := net.DialTimeout("tcp", *addr, 30*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	hs := &peer_wire.HandShake{InfoHash: ih, PeerID: genPeerID()}
	peerHs, err := hs.Initiate(conn)
	if err != nil {
		conn.Close()
		log.Fatal(err)
	}
	t := &probeTorrent{pieces: *numPieces, pieceLen: *pieceLen}
	host, port, _ := net.SplitHostPort(*addr)
	p := torrent.NewSharingPeer(torrent.Peer{
		IP:   host,
		Port: parsePort(port),
		ID:   peerHs.PeerID,
	}, t, nil)
	pr := &probe{done: make(chan struct{})}
	p.Register(pr)
	if err := p.Bind(conn); err != nil {
		log.Fatal(err)
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	w := uilive.New()
	w.Start()
	defer w.Stop()
	for {
		select {
		case <-ticker.C:
			avail := p.AvailablePieces()
			fmt.Fprintf(w, "peer %v\n\thas %d/%d pieces, seed: %t\n\tdl %.0f B/s ul %.0f B/s\n",
				p.Peer, avail.Len(), t.NumPieces(), p.IsSeed(),
				p.DownloadRate().Get(), p.UploadRate().Get())
		case <-pr.done:
			fmt.Println("peer went away")
			return
		}
	}
}

func parseInfoHash(s string) (ih [20]byte, err error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 20 {
		return ih, errors.New("infohash must be 40 hex chars")
	}
	copy(ih[:], b)
	return ih, nil
}

func parsePort(s string) uint16 {
	var port int
	fmt.Sscanf(s, "%d", &port)
	return uint16(port)
}

func genPeerID() (id [20]byte) {
	copy(id[:], "-TT0001-")
	rand.Read(id[8:])
	return
}

//probe logs the peer's activity and flags disconnection.
type probe struct {
	done chan struct{}
}

func (pr *probe) HandlePeerChoked(p *torrent.SharingPeer) {}

func (pr *probe) HandlePeerReady(p *torrent.SharingPeer) {
	log.Printf("peer %v is accepting requests\n", p.Peer)
}

func (pr *probe) HandlePieceAvailability(p *torrent.SharingPeer, piece torrent.Piece) {}

func (pr *probe) HandleBitfieldAvailability(p *torrent.SharingPeer, available bitmap.Bitmap) {
	log.Printf("peer %v announced %d pieces\n", p.Peer, available.Len())
}

func (pr *probe) HandlePieceSent(p *torrent.SharingPeer, piece torrent.Piece) {}

func (pr *probe) HandlePieceCompleted(p *torrent.SharingPeer, piece torrent.Piece) {}

func (pr *probe) HandlePeerDisconnected(p *torrent.SharingPeer) {
	select {
	case <-pr.done:
	default:
		close(pr.done)
	}
}

func (pr *probe) HandleIOError(p *torrent.SharingPeer, err error) {
	log.Println(err)
}

//probeTorrent is a torrent with no storage behind it: we only observe
//the peer, we never serve or keep data.
type probeTorrent struct {
	pieces   int
	pieceLen int
}

func (t *probeTorrent) NumPieces() int {
	return t.pieces
}

func (t *probeTorrent) Piece(i uint32) torrent.Piece {
	return probePiece{index: i, size: t.pieceLen}
}

type probePiece struct {
	index uint32
	size  int
}

func (p probePiece) Index() uint32 {
	return p.index
}

func (p probePiece) Size() int {
	return p.size
}

func (p probePiece) ReadBlock(b []byte, off uint32) error {
	return errors.New("probe holds no data")
}

func (p probePiece) WriteBlock(b []byte, off uint32) error {
	return nil
}

func (p probePiece) Hash() (bool, error) {
	return false, nil
}

func (p probePiece) Valid() bool {
	return false
}
