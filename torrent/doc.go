/*
Package torrent implements the per-peer core of the BitTorrent peer wire
protocol: the choke/interest state machine, block request pipelining and
availability bookkeeping for one remote peer, on top of a framed TCP
exchange. A common workflow is to handshake a connection elsewhere, bind
it to a SharingPeer and drive downloads from the events it fires.

	p := torrent.NewSharingPeer(peer, t, logger)
	p.Register(listener)
	p.Bind(conn)
	//on HandlePeerReady:
	p.Interesting()
	p.DownloadPiece(t.Piece(i))

Tracker traffic, metainfo parsing, piece selection and storage belong to
the enclosing client and are consumed through the Torrent and Piece
interfaces.
*/
package torrent
