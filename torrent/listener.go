package torrent

import "github.com/anacrolix/missinggo/bitmap"

//PeerActivityListener receives the events a SharingPeer emits while
//exchanging on a torrent. Events for one peer arrive serialized, under
//that peer's lock; implementations must not block for long and should
//hand heavy work to another goroutine.
type PeerActivityListener interface {
	//HandlePeerChoked fires when the remote peer chokes us.
	HandlePeerChoked(p *SharingPeer)
	//HandlePeerReady fires when the peer is ready to serve block
	//requests: on unchoke, and again after each completed piece. The
	//scheduler answers with DownloadPiece.
	HandlePeerReady(p *SharingPeer)
	//HandlePieceAvailability fires when a Have msg announces one more
	//piece on the remote side.
	HandlePieceAvailability(p *SharingPeer, piece Piece)
	//HandleBitfieldAvailability fires when the peer's opening Bitfield
	//replaces the whole availability set.
	HandleBitfieldAvailability(p *SharingPeer, available bitmap.Bitmap)
	//HandlePieceSent fires when the last block of a piece has been
	//queued for upload to the peer.
	HandlePieceSent(p *SharingPeer, piece Piece)
	//HandlePieceCompleted fires when the last block of the piece we
	//were downloading has been recorded and the piece hashed.
	HandlePieceCompleted(p *SharingPeer, piece Piece)
	//HandlePeerDisconnected fires on unbind, graceful or not.
	HandlePeerDisconnected(p *SharingPeer)
	//HandleIOError fires when the exchange dies on a read, write or
	//decode error, or when piece storage fails during an upload or a
	//download.
	HandleIOError(p *SharingPeer, err error)
}
