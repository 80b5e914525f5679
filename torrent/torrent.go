package torrent

import (
	"errors"
)

//tuning knobs of the peer wire core
const (
	//standard block transfer size, 16KiB
	blockSz = 1 << 14
	//largest block a peer may request from us, 128KiB
	maxRequestBlockSz = 1 << 17
	//how many block requests we keep on flight towards a peer
	maxPipelinedRequests = 5
)

var (
	ErrAlreadyBound       = errors.New("peer: already bound to a connection")
	ErrAlreadyDownloading = errors.New("peer: piece download already in progress")
)

//Torrent is the view of a shared torrent the peer wire core needs. The
//enclosing client implements it; the core never touches storage or
//metainfo directly.
type Torrent interface {
	//NumPieces returns the total piece count of the torrent.
	NumPieces() int
	//Piece returns a handle to the i-th piece. i must be < NumPieces.
	Piece(i uint32) Piece
}

//Piece is an opaque handle to one piece of the torrent.
type Piece interface {
	Index() uint32
	//Size is the byte length of this piece (the last piece is usually
	//shorter than the rest).
	Size() int
	//ReadBlock fills b with piece data starting at off.
	ReadBlock(b []byte, off uint32) error
	//WriteBlock records a downloaded block at off.
	WriteBlock(b []byte, off uint32) error
	//Hash checks the piece against its metainfo hash after all blocks
	//have been recorded and marks it valid on success.
	Hash() (bool, error)
	//Valid reports whether the piece has been downloaded and hashed ok.
	Valid() bool
}

//geometry adapts a Torrent to what the codec needs for validation.
type geometry struct {
	t Torrent
}

func (g geometry) NumPieces() int {
	return g.t.NumPieces()
}

func (g geometry) PieceSize(index uint32) int {
	return g.t.Piece(index).Size()
}
