package torrent

import (
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"github.com/anacrolix/missinggo/bitmap"
	"github.com/davidgiffin/ttorrent/peer_wire"
	"go.uber.org/atomic"
)

//blocks that peers send us without a matching outstanding request.
//Tolerated, but worth counting.
var unexpectedBlocks atomic.Uint32

//Have msgs for pieces the peer already announced
var duplicateHaves atomic.Uint32

//SharingPeer is the per-peer state machine of the wire protocol: the
//four choke/interest flags, the availability set, and the block request
//pipeline towards one remote peer on one torrent. All operations and
//incoming msg handling are serialized by a per-peer lock; the
//availability set has its own finer lock because the piece selector
//scans it from other goroutines.
type SharingPeer struct {
	Peer
	t      Torrent
	logger *log.Logger

	mu    sync.Mutex
	state connState
	//piece we are currently downloading from this peer, if any
	requested Piece
	//offset into requested of the next block to ask for
	lastRequestedOffset uint32
	requests            *requestQueue
	exchange            *PeerExchange
	//a protocol msg already arrived on this exchange; Bitfield is only
	//legal before that
	sawMsg bool
	stats  connStats

	bfMu   sync.Mutex
	peerBf bitmap.Bitmap

	download *Rate
	upload   *Rate

	lsMu      sync.Mutex
	listeners []PeerActivityListener
}

//NewSharingPeer creates an unbound peer for the given identity. A nil
//logger gets replaced with one prefixed by the peer id.
func NewSharingPeer(peer Peer, t Torrent, logger *log.Logger) *SharingPeer {
	if logger == nil {
		logger = log.New(os.Stdout, shortID(peer.ID)+" ", log.LstdFlags)
	}
	return &SharingPeer{
		Peer:     peer,
		t:        t,
		logger:   logger,
		state:    newConnState(),
		requests: newRequestQueue(maxPipelinedRequests),
		download: NewRate(),
		upload:   NewRate(),
	}
}

//Register adds a listener to the set that receives this peer's events.
func (p *SharingPeer) Register(l PeerActivityListener) {
	p.lsMu.Lock()
	defer p.lsMu.Unlock()
	p.listeners = append(p.listeners, l)
}

//Bind installs a new exchange over the connected socket and resets the
//transfer rates. The availability set survives a rebind on purpose: on
//reconnect the peer still has what it had.
func (p *SharingPeer) Bind(conn net.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exchange != nil && p.exchange.isConnected() {
		return ErrAlreadyBound
	}
	p.exchange = newPeerExchange(p, p.t, conn, p.logger)
	p.sawMsg = false
	p.download.Reset()
	p.upload.Reset()
	p.exchange.start()
	return nil
}

//IsBound reports whether an exchange is installed and its socket still
//connected.
func (p *SharingPeer) IsBound() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchange != nil && p.exchange.isConnected()
}

//Unbind disconnects the peer. Without force the outstanding requests
//are cancelled on the wire and a NotInterested is flushed before the
//socket goes down; with force the socket goes down right away and
//pending writes may be dropped. Fires HandlePeerDisconnected.
func (p *SharingPeer) Unbind(force bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unbindLocked(force)
}

//lock is held during this call
func (p *SharingPeer) unbindLocked(force bool) {
	if !force {
		p.cancelPendingRequestsLocked()
		p.sendLocked(&peer_wire.Msg{Kind: peer_wire.NotInterested})
	}
	if p.exchange != nil {
		if force {
			p.exchange.terminate()
		} else {
			p.exchange.close()
		}
		p.exchange = nil
	}
	p.firePeerDisconnected()
	p.requested = nil
	p.requests.clear()
	p.lastRequestedOffset = 0
}

//send on an unbound peer is a silent no-op.
//lock is held during this call
func (p *SharingPeer) sendLocked(msg *peer_wire.Msg) {
	if p.exchange != nil && p.exchange.isConnected() {
		p.exchange.send(msg)
	}
}

//Choke tells the peer we won't upload to it anymore. Idempotent.
func (p *SharingPeer) Choke() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.amChoking {
		p.sendLocked(&peer_wire.Msg{Kind: peer_wire.Choke})
		p.state.amChoking = true
	}
}

//Unchoke tells the peer it may request blocks from us. Idempotent.
func (p *SharingPeer) Unchoke() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.amChoking {
		p.sendLocked(&peer_wire.Msg{Kind: peer_wire.Unchoke})
		p.state.amChoking = false
	}
}

//Interesting tells the peer we want a piece it has. Idempotent.
func (p *SharingPeer) Interesting() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.amInterested {
		p.sendLocked(&peer_wire.Msg{Kind: peer_wire.Interested})
		p.state.amInterested = true
		if p.state.canDownload() {
			p.stats.startDownload()
		}
	}
}

//NotInteresting tells the peer we no longer want anything it has.
//Idempotent.
func (p *SharingPeer) NotInteresting() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.amInterested {
		p.sendLocked(&peer_wire.Msg{Kind: peer_wire.NotInterested})
		p.state.amInterested = false
	}
}

func (p *SharingPeer) IsChoking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.amChoking
}

func (p *SharingPeer) IsInteresting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.amInterested
}

func (p *SharingPeer) IsChoked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.isChoking
}

func (p *SharingPeer) IsInterested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.isInterested
}

//AvailablePieces returns a copy of the pieces the peer claims to have.
func (p *SharingPeer) AvailablePieces() bitmap.Bitmap {
	p.bfMu.Lock()
	defer p.bfMu.Unlock()
	return p.peerBf.Copy()
}

//HasPiece reports whether the peer claims to have piece i.
func (p *SharingPeer) HasPiece(i uint32) bool {
	p.bfMu.Lock()
	defer p.bfMu.Unlock()
	return p.peerBf.Get(int(i))
}

//IsSeed reports whether the peer has every piece of the torrent.
func (p *SharingPeer) IsSeed() bool {
	numPieces := p.t.NumPieces()
	p.bfMu.Lock()
	defer p.bfMu.Unlock()
	return numPieces > 0 && p.peerBf.Len() == numPieces
}

//RequestedPiece returns the piece currently being downloaded from this
//peer, nil if none.
func (p *SharingPeer) RequestedPiece() Piece {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requested
}

func (p *SharingPeer) DownloadRate() *Rate {
	return p.download
}

func (p *SharingPeer) UploadRate() *Rate {
	return p.upload
}

//Snubbed reports whether the peer has kept us waiting for a block for
//too long while we were downloading from it.
func (p *SharingPeer) Snubbed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.isSnubbed()
}

//DownloadPiece starts downloading piece from this peer, pre-filling the
//request pipeline. Further requests go out one by one as blocks come
//back. Returns ErrAlreadyDownloading while a previous download is still
//assigned.
func (p *SharingPeer) DownloadPiece(piece Piece) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.requested != nil {
		return ErrAlreadyDownloading
	}
	p.requested = piece
	p.lastRequestedOffset = 0
	p.requests.clear()
	p.stats.startDownload()
	p.requestNextBlocks()
	return nil
}

//refill the pipeline with block requests for the assigned piece
//lock is held during this call
func (p *SharingPeer) requestNextBlocks() {
	if p.requested == nil {
		return
	}
	size := uint32(p.requested.Size())
	for !p.requests.full() && p.lastRequestedOffset < size {
		length := uint32(blockSz)
		if remaining := size - p.lastRequestedOffset; remaining < length {
			length = remaining
		}
		req := &peer_wire.Msg{
			Kind:  peer_wire.Request,
			Index: p.requested.Index(),
			Begin: p.lastRequestedOffset,
			Len:   length,
		}
		p.requests.push(req)
		p.sendLocked(req)
		p.lastRequestedOffset += length
	}
}

//CancelPendingRequests queues a Cancel for every outstanding request
//and returns them in request order so the caller can reassign the
//blocks elsewhere. The piece assignment itself is kept.
func (p *SharingPeer) CancelPendingRequests() []*peer_wire.Msg {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelPendingRequestsLocked()
}

//lock is held during this call
func (p *SharingPeer) cancelPendingRequestsLocked() []*peer_wire.Msg {
	outstanding := p.requests.snapshot()
	for _, req := range outstanding {
		p.sendLocked(&peer_wire.Msg{
			Kind:  peer_wire.Cancel,
			Index: req.Index,
			Begin: req.Begin,
			Len:   req.Len,
		})
	}
	return outstanding
}

//handleMessage digests one validated msg from the peer. Called from the
//exchange reader; everything here runs under the peer lock so callers
//of the public operations observe a serialized event stream.
func (p *SharingPeer) handleMessage(msg *peer_wire.Msg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() {
		p.sawMsg = true
	}()
	switch msg.Kind {
	case peer_wire.KeepAlive:
		//nothing to do, we keep the connection open anyway
	case peer_wire.Choke:
		p.state.isChoking = true
		p.firePeerChoked()
		//the peer will drop our outstanding requests, cancel them
		//anyway so both ends agree
		p.cancelPendingRequestsLocked()
	case peer_wire.Unchoke:
		p.state.isChoking = false
		p.firePeerReady()
	case peer_wire.Interested:
		p.state.isInterested = true
	case peer_wire.NotInterested:
		p.state.isInterested = false
	case peer_wire.Have:
		p.onHave(msg)
	case peer_wire.Bitfield:
		p.onBitfield(msg)
	case peer_wire.Request:
		p.onRequest(msg)
	case peer_wire.Piece:
		p.onPiece(msg)
	case peer_wire.Cancel:
		//outbound msgs are flushed as they are queued, there is no
		//retained Piece to rescind
	}
}

//lock is held during this call
func (p *SharingPeer) onHave(msg *peer_wire.Msg) {
	p.bfMu.Lock()
	dup := p.peerBf.Get(int(msg.Index))
	if !dup {
		p.peerBf.Set(int(msg.Index), true)
	}
	p.bfMu.Unlock()
	if dup {
		duplicateHaves.Inc()
		p.logger.Printf("peer send duplicate Have msg of piece %d\n", msg.Index)
		return
	}
	p.firePieceAvailability(p.t.Piece(msg.Index))
}

//lock is held during this call
func (p *SharingPeer) onBitfield(msg *peer_wire.Msg) {
	if p.sawMsg {
		p.protocolViolation("bitfield after the first message")
		return
	}
	var bm bitmap.Bitmap
	for i := 0; i < p.t.NumPieces(); i++ {
		if msg.Bf.HasPiece(uint32(i)) {
			bm.Set(i, true)
		}
	}
	p.bfMu.Lock()
	p.peerBf = bm
	p.bfMu.Unlock()
	p.fireBitfieldAvailability(bm.Copy())
}

//lock is held during this call
func (p *SharingPeer) onRequest(msg *peer_wire.Msg) {
	if p.state.amChoking {
		p.protocolViolation("request while being choked")
		return
	}
	piece := p.t.Piece(msg.Index)
	if !piece.Valid() {
		p.protocolViolation("requested a piece we cannot serve")
		return
	}
	if msg.Len > maxRequestBlockSz {
		p.protocolViolation("requested a block too big")
		return
	}
	block := make([]byte, msg.Len)
	if err := piece.ReadBlock(block, msg.Begin); err != nil {
		p.fireIOError(err)
		return
	}
	p.sendLocked(&peer_wire.Msg{
		Kind:  peer_wire.Piece,
		Index: msg.Index,
		Begin: msg.Begin,
		Block: block,
	})
	p.upload.Add(int64(msg.Len))
	p.stats.onBlockUpload(int(msg.Len))
	if int(msg.Begin)+int(msg.Len) == piece.Size() {
		p.firePieceSent(piece)
	}
}

//lock is held during this call
func (p *SharingPeer) onPiece(msg *peer_wire.Msg) {
	piece := p.t.Piece(msg.Index)
	//remove the matching request to make room in the pipeline; a block
	//we didn't ask for is still recorded, greedily
	if p.requests.removeMatch(msg.Index, msg.Begin) == nil {
		unexpectedBlocks.Inc()
		p.logger.Printf("received unexpected block %v\n", msg)
	}
	p.download.Add(int64(len(msg.Block)))
	p.stats.onBlockDownload(len(msg.Block))
	if err := piece.WriteBlock(msg.Block, msg.Begin); err != nil {
		p.fireIOError(err)
		return
	}
	if int(msg.Begin)+len(msg.Block) == piece.Size() {
		ok, err := piece.Hash()
		if err != nil {
			p.fireIOError(err)
			return
		}
		if !ok {
			p.logger.Printf("piece %d failed its hash check\n", msg.Index)
		}
		p.requested = nil
		p.requests.clear()
		p.lastRequestedOffset = 0
		p.firePieceCompleted(piece)
		p.firePeerReady()
	} else {
		p.requestNextBlocks()
	}
}

//lock is held during this call
func (p *SharingPeer) protocolViolation(rule string) {
	p.logger.Printf("peer %v violated protocol (%s), terminating exchange\n",
		p.Peer, rule)
	p.unbindLocked(true)
}

//exchangeErrored is the reader/writer telling us the exchange died.
func (p *SharingPeer) exchangeErrored(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fireIOError(err)
	p.unbindLocked(true)
}

func (p *SharingPeer) snapshotListeners() []PeerActivityListener {
	p.lsMu.Lock()
	defer p.lsMu.Unlock()
	out := make([]PeerActivityListener, len(p.listeners))
	copy(out, p.listeners)
	return out
}

func (p *SharingPeer) firePeerChoked() {
	for _, l := range p.snapshotListeners() {
		l.HandlePeerChoked(p)
	}
}

func (p *SharingPeer) firePeerReady() {
	for _, l := range p.snapshotListeners() {
		l.HandlePeerReady(p)
	}
}

func (p *SharingPeer) firePieceAvailability(piece Piece) {
	for _, l := range p.snapshotListeners() {
		l.HandlePieceAvailability(p, piece)
	}
}

func (p *SharingPeer) fireBitfieldAvailability(available bitmap.Bitmap) {
	for _, l := range p.snapshotListeners() {
		l.HandleBitfieldAvailability(p, available)
	}
}

func (p *SharingPeer) firePieceSent(piece Piece) {
	for _, l := range p.snapshotListeners() {
		l.HandlePieceSent(p, piece)
	}
}

func (p *SharingPeer) firePieceCompleted(piece Piece) {
	for _, l := range p.snapshotListeners() {
		l.HandlePieceCompleted(p, piece)
	}
}

func (p *SharingPeer) firePeerDisconnected() {
	for _, l := range p.snapshotListeners() {
		l.HandlePeerDisconnected(p)
	}
}

func (p *SharingPeer) fireIOError(err error) {
	for _, l := range p.snapshotListeners() {
		l.HandleIOError(p, err)
	}
}

func (p *SharingPeer) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("%v %s %s", p.Peer, p.state.String(), p.stats.String())
}
