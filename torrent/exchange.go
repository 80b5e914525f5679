package torrent

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/davidgiffin/ttorrent/peer_wire"
	"github.com/eapache/channels"
	"github.com/tevino/abool"
)

const (
	keepAliveInterval time.Duration = 2 * time.Minute
	keepAliveSendFreq               = keepAliveInterval - 10*time.Second
	//a peer that stays silent longer than this is dead
	readIdleTimeout = keepAliveInterval + 10*time.Second
)

type exchangeState int

const (
	exchangeNew exchangeState = iota
	exchangeConnected
	exchangeClosing
	exchangeClosed
	exchangeErrored
)

//PeerExchange owns the socket of one peer connection. A reader
//goroutine turns bytes into validated msgs and hands them to the
//sharing peer; a writer goroutine drains the unbounded outbound queue
//in FIFO order and keeps the connection alive while it idles. Callers
//never touch the socket or the queue directly.
type PeerExchange struct {
	peer   *SharingPeer
	geo    peer_wire.Geometry
	conn   net.Conn
	logger *log.Logger

	mu    sync.Mutex
	state exchangeState
	out   *channels.InfiniteChannel
	//mirrors state == exchangeConnected, readable without the mutex
	connected *abool.AtomicBool
	quit      chan struct{}
}

func newPeerExchange(p *SharingPeer, t Torrent, conn net.Conn, logger *log.Logger) *PeerExchange {
	return &PeerExchange{
		peer:      p,
		geo:       geometry{t},
		conn:      conn,
		logger:    logger,
		state:     exchangeNew,
		out:       channels.NewInfiniteChannel(),
		connected: abool.New(),
		quit:      make(chan struct{}),
	}
}

func (x *PeerExchange) start() {
	x.mu.Lock()
	x.state = exchangeConnected
	x.mu.Unlock()
	x.connected.Set()
	go x.readLoop()
	go x.writeLoop()
}

func (x *PeerExchange) isConnected() bool {
	return x.connected.IsSet()
}

//send enqueues msg for delivery. Msgs go out in send order. Once the
//exchange left the connected state this is a no-op.
func (x *PeerExchange) send(msg *peer_wire.Msg) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state != exchangeConnected {
		return
	}
	x.out.In() <- msg
}

//close stops accepting msgs and lets the writer flush everything
//already enqueued before tearing the socket down.
func (x *PeerExchange) close() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state != exchangeConnected {
		return
	}
	x.state = exchangeClosing
	x.connected.UnSet()
	x.out.Close()
}

//terminate tears the connection down right away, dropping whatever the
//writer hadn't flushed yet.
func (x *PeerExchange) terminate() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.abortLocked(exchangeClosed)
}

//errored moves the exchange to Errored and reports whether this call
//was the one that killed it; the caller owning true surfaces the error
//to the sharing peer exactly once.
func (x *PeerExchange) errored() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state != exchangeConnected {
		return false
	}
	x.abortLocked(exchangeErrored)
	return true
}

//lock is held during this call
func (x *PeerExchange) abortLocked(to exchangeState) {
	switch x.state {
	case exchangeClosed, exchangeErrored:
		return
	case exchangeConnected:
		x.out.Close()
	}
	x.state = to
	x.connected.UnSet()
	close(x.quit)
	x.conn.Close()
}

//read msgs from remote peer
//run on separate goroutine
func (x *PeerExchange) readLoop() {
	for {
		x.conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		msg, err := peer_wire.Decode(x.conn)
		if err == nil {
			err = msg.Validate(x.geo)
		}
		if err != nil {
			if x.errored() {
				x.logger.Println(err)
				x.peer.exchangeErrored(err)
			}
			return
		}
		x.peer.handleMessage(msg)
		select {
		case <-x.quit:
			return
		default:
		}
	}
}

//flush the outbound queue, keep the peer alive while it idles
//run on separate goroutine
func (x *PeerExchange) writeLoop() {
	timer := time.NewTimer(keepAliveSendFreq)
	defer timer.Stop()
	writeMsg := func(msg *peer_wire.Msg) bool {
		if err := msg.Write(x.conn); err != nil {
			if x.errored() {
				x.logger.Println(err)
				x.peer.exchangeErrored(err)
			}
			return false
		}
		return true
	}
	for {
		select {
		case v, ok := <-x.out.Out():
			if !ok {
				//graceful close: the queue is drained, tear down.
				//The state flips before the socket dies so the reader
				//waking up on the close doesn't mistake it for an error.
				x.mu.Lock()
				if x.state == exchangeClosing {
					x.state = exchangeClosed
				}
				x.mu.Unlock()
				x.conn.Close()
				return
			}
			if !writeMsg(v.(*peer_wire.Msg)) {
				return
			}
			//is mandatory to stop timer and recv from chan
			//in order to reset it
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(keepAliveSendFreq)
		case <-timer.C:
			if !writeMsg(&peer_wire.Msg{Kind: peer_wire.KeepAlive}) {
				return
			}
			timer.Reset(keepAliveSendFreq)
		case <-x.quit:
			return
		}
	}
}
